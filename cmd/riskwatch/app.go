package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/classifier"
	"github.com/xaenox/riskwatch/internal/dispatch"
	"github.com/xaenox/riskwatch/internal/extractor"
	"github.com/xaenox/riskwatch/internal/models"
	"github.com/xaenox/riskwatch/internal/notify"
	"github.com/xaenox/riskwatch/internal/pipeline"
	"github.com/xaenox/riskwatch/internal/storage"
	"github.com/xaenox/riskwatch/internal/tracker"
	"github.com/xaenox/riskwatch/pkg/config"
)

// app holds the shared, stateless collaborators every session uses.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	rule         tracker.Rule
	orchestrator *pipeline.Orchestrator
	closers      []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	rule, err := tracker.RuleByName(cfg.Tracker.Transition)
	if err != nil {
		return nil, err
	}
	a.rule = rule

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	workflow, err := newWorkflow(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	client := classifier.NewClient(
		classifier.Config{
			MaxAttempts:  cfg.Classifier.MaxAttempts,
			RetryBackoff: cfg.Classifier.RetryBackoff,
		},
		workflow,
		classifier.NewIdentityClient(cfg.Identity.BaseURL, cfg.Identity.Platform, cfg.Identity.Timeout),
		store,
		logger,
	)

	dispatcher := dispatch.New(
		dispatch.NewRecordClient(cfg.Records.BaseURL, cfg.Records.Timeout),
		dispatch.Config{
			ChatbotName:     cfg.Chatbot.Name,
			ChatbotVersion:  cfg.Chatbot.Version,
			ChatbotLanguage: cfg.Chatbot.Language,
			Platform:        cfg.Chatbot.Platform,
		},
		logger,
	)

	notifiers, err := a.newNotifiers()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orchestrator = pipeline.NewOrchestrator(client, dispatcher, notifiers, logger)
	return a, nil
}

// newSession builds an independent session with its own extractor and tracker.
func (a *app) newSession(key string) *pipeline.Session {
	ex := extractor.New(extractor.WithNewestFirst(a.cfg.Extractor.NewestFirst))
	return pipeline.NewSession(key, ex, tracker.New(a.rule), a.orchestrator, a.logger)
}

func (a *app) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	return errs
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.IdentityStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		logger.Info("Using PostgreSQL identity storage")
		return storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
	case "redis":
		logger.Info("Using Redis identity storage", zap.String("addr", cfg.Redis.Addr))
		return storage.NewRedisStorage(ctx, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		logger.Info("Using in-memory identity storage", zap.Int("sessions", len(cfg.Storage.Sessions)))
		seed := make(map[string]models.UserIdentity, len(cfg.Storage.Sessions))
		for key, s := range cfg.Storage.Sessions {
			seed[key] = models.UserIdentity{UserID: s.UserID, ChildUserID: s.ChildUserID}
		}
		return storage.NewMemoryStorage(seed), nil
	}
}

func newWorkflow(cfg *config.Config, logger *zap.Logger) (classifier.Workflow, error) {
	switch cfg.Classifier.Backend {
	case "openai":
		logger.Info("Using OpenAI classification backend", zap.String("model", cfg.OpenAI.Model))
		return classifier.NewOpenAIWorkflow(classifier.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}, logger)
	case "dify":
		logger.Info("Using Dify classification backend")
		return classifier.NewDifyWorkflow(classifier.DifyConfig{
			Endpoint:         cfg.Dify.Endpoint,
			APIKey:           cfg.Dify.APIKey,
			CharacterProfile: cfg.Dify.CharacterProfile,
			Timeout:          cfg.Dify.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Classifier.Backend)
	}
}

func (a *app) newNotifiers() ([]notify.Notifier, error) {
	var notifiers []notify.Notifier

	if a.cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(notify.TelegramConfig{
			Token:      a.cfg.Telegram.Token,
			ChatID:     a.cfg.Telegram.ChatID,
			RiskLevels: a.cfg.Telegram.RiskLevels,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, tg)
	}

	if a.cfg.NATS.Enabled {
		nc, err := notify.NewNATSPublisher(notify.NATSConfig{
			URL:     a.cfg.NATS.URL,
			Name:    a.cfg.NATS.Name,
			Subject: a.cfg.NATS.Subject,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nc.Close)
		notifiers = append(notifiers, nc)
	}

	return notifiers, nil
}
