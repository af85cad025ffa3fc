// Package main implements the riskwatch CLI: it monitors companion-chatbot
// conversations, classifies completed messages for risk and dispatches the
// results to the monitoring backend.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/pkg/config"
)

var (
	// configPath is the optional YAML configuration file
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "riskwatch",
	Short: "Monitor chatbot conversations for risks to children",
	Long: `riskwatch watches a companion-chatbot conversation, detects when a message
has finished, classifies the recent exchange for risk and records the result
with the monitoring backend.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(classifyCmd)
}

// loadConfig reads .env, the config file and the environment, then builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
