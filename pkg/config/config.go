package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Dify       DifyConfig       `mapstructure:"dify"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Records    RecordsConfig    `mapstructure:"records"`
	Chatbot    ChatbotConfig    `mapstructure:"chatbot"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Server     ServerConfig     `mapstructure:"server"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type ExtractorConfig struct {
	NewestFirst bool `mapstructure:"newest_first"`
}

type TrackerConfig struct {
	Transition string `mapstructure:"transition"` // "both" or "either"
}

type IdentityConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Platform string        `mapstructure:"platform"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ClassifierConfig struct {
	Backend      string        `mapstructure:"backend"` // "dify" or "openai"
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type DifyConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	APIKey           string        `mapstructure:"api_key"`
	CharacterProfile string        `mapstructure:"character_profile"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type RecordsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChatbotConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	Language string `mapstructure:"language"`
	Platform string `mapstructure:"platform"`
}

type TelegramConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Token      string   `mapstructure:"token"`
	ChatID     int64    `mapstructure:"chat_id"`
	RiskLevels []string `mapstructure:"risk_levels"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Name    string `mapstructure:"name"`
	Subject string `mapstructure:"subject"`
}

type SessionIdentity struct {
	UserID      string `mapstructure:"user_id"`
	ChildUserID int64  `mapstructure:"child_user_id"`
}

type StorageConfig struct {
	Driver   string                     `mapstructure:"driver"` // "memory", "postgres" or "redis"
	Sessions map[string]SessionIdentity `mapstructure:"sessions"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BrowserConfig struct {
	URL        string        `mapstructure:"url"`
	Headless   bool          `mapstructure:"headless"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("extractor.newest_first", true)
	v.SetDefault("tracker.transition", "both")

	v.SetDefault("identity.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("identity.platform", "CharacterAI")
	v.SetDefault("identity.timeout", 15*time.Second)

	v.SetDefault("classifier.backend", "dify")
	v.SetDefault("classifier.max_attempts", 3)
	v.SetDefault("classifier.retry_backoff", 2*time.Second)

	v.SetDefault("dify.endpoint", "")
	v.SetDefault("dify.api_key", "")
	v.SetDefault("dify.character_profile", "default")
	v.SetDefault("dify.timeout", 60*time.Second)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 400)
	v.SetDefault("openai.temperature", 0.2)

	v.SetDefault("records.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("records.timeout", 15*time.Second)

	v.SetDefault("chatbot.name", "testBot")
	v.SetDefault("chatbot.version", "1.0")
	v.SetDefault("chatbot.language", "en")
	v.SetDefault("chatbot.platform", "CharacterAI")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.risk_levels", []string{"high"})

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "riskwatch")
	v.SetDefault("nats.subject", "riskwatch.results")

	v.SetDefault("storage.driver", "memory")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "riskwatch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("browser.url", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.retry_delay", time.Second)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"https://character.ai"})
}

// LoadConfig reads defaults, the optional config file at path and the
// environment. An empty path or a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// RISKWATCH_DIFY_ENDPOINT overrides dify.endpoint
	v.SetEnvPrefix("riskwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyEnvOverrides reads the well-known unprefixed variables.
func applyEnvOverrides(config *Config) error {
	env := viper.New()
	env.AutomaticEnv()

	// Check for DATABASE_URL environment variable
	if dbURL := env.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := env.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if apiKey := env.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}
	if apiKey := env.GetString("DIFY_API_KEY"); apiKey != "" {
		config.Dify.APIKey = apiKey
	}
	if addr := env.GetString("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if natsURL := env.GetString("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	return nil
}

// Validate checks the settings every pipeline needs.
func (c *Config) Validate() error {
	var problems []string

	switch c.Tracker.Transition {
	case "", "both", "either":
	default:
		problems = append(problems, fmt.Sprintf("tracker.transition: unknown rule %q", c.Tracker.Transition))
	}

	if c.Identity.BaseURL == "" {
		problems = append(problems, "identity.base_url is required")
	}
	if c.Records.BaseURL == "" {
		problems = append(problems, "records.base_url is required")
	}
	if c.Classifier.MaxAttempts < 1 {
		problems = append(problems, "classifier.max_attempts must be at least 1")
	}

	switch c.Classifier.Backend {
	case "dify":
		if c.Dify.Endpoint == "" {
			problems = append(problems, "dify.endpoint is required for the dify backend")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			problems = append(problems, "openai.api_key (or OPENAI_API_KEY) is required for the openai backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("classifier.backend: unknown backend %q", c.Classifier.Backend))
	}

	switch c.Storage.Driver {
	case "memory", "postgres", "redis":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		problems = append(problems, "telegram.token and telegram.chat_id are required when telegram is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
