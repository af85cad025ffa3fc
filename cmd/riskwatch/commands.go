package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/models"
	"github.com/xaenox/riskwatch/internal/server"
	"github.com/xaenox/riskwatch/internal/source"
)

var (
	// watch flags
	watchURL     string
	watchSession string

	// classify flags
	classifyFile    string
	classifySession string
)

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "chat page URL (defaults to browser.url)")
	watchCmd.Flags().StringVar(&watchSession, "session", "", "session key used to resolve the monitored identity (defaults to the URL)")

	classifyCmd.Flags().StringVar(&classifyFile, "file", "", "JSON file with the transcript, oldest message first (required)")
	classifyCmd.Flags().StringVar(&classifySession, "session", "cli", "session key used to resolve the monitored identity")
	_ = classifyCmd.MarkFlagRequired("file")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a chat page in a headless browser",
	Long: `Open a chat page in a headless browser, observe new messages and run a
classification cycle for every completed message.

Examples:
  # Watch a conversation
  riskwatch watch --url https://character.ai/chat/abc --session child-tablet

  # Use the URL from the configuration file
  riskwatch watch --config /etc/riskwatch/config.yaml`,
	RunE: runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, metrics and the snapshot ingest stream",
	Long: `Start the HTTP server. In-page agents connect to
/v1/sessions/{sessionKey}/stream and push chat snapshots; each connection
runs its own monitoring session.`,
	RunE: runServe,
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Run one classification cycle for a transcript file",
	Long: `Classify the last exchange of a transcript and dispatch the result.

The file holds a JSON array of messages:
  [{"author": "kid", "sender_type": "User", "content": "hi"}, ...]

Examples:
  riskwatch classify --file transcript.json --session child-tablet`,
	RunE: runClassify,
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	url := watchURL
	if url == "" {
		url = cfg.Browser.URL
	}
	if url == "" {
		return errors.New("a chat URL is required (--url or browser.url)")
	}
	key := watchSession
	if key == "" {
		key = url
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	browser, err := source.NewBrowserSource(source.BrowserConfig{
		URL:        url,
		Headless:   cfg.Browser.Headless,
		RetryDelay: cfg.Browser.RetryDelay,
	}, logger)
	if err != nil {
		return err
	}
	defer browser.Close()

	logger.Info("Watching chat", zap.String("url", url), zap.String("session", key))
	if err := a.newSession(key).Run(ctx, browser); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(func(key string) server.Runner {
		return a.newSession(key)
	}, logger, server.WithAllowedOrigins(cfg.Server.AllowedOrigins))
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	data, err := os.ReadFile(classifyFile)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", classifyFile, err)
	}
	var transcript models.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return fmt.Errorf("failed to parse transcript %s: %w", classifyFile, err)
	}
	last, ok := transcript.Last()
	if !ok {
		return errors.New("transcript is empty")
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.orchestrator.Process(ctx, classifySession, models.Completion{
		Transcript: transcript,
		Message:    last,
		SourceURL:  classifyFile,
	})
	if result != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil {
			return encErr
		}
	}
	return err
}
