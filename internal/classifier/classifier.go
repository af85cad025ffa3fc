// Package classifier submits finalized chat transcripts to the external risk
// classification service and returns the parsed result.
//
// Each attempt recomputes the chat spans, resolves the session identity,
// requests fresh correlation ids and runs the workflow. Identity and
// workflow failures abort immediately; empty or malformed risk outputs are
// retried with a linear backoff (RetryBackoff × attempt) up to MaxAttempts.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/metrics"
	"github.com/xaenox/riskwatch/internal/models"
	"github.com/xaenox/riskwatch/internal/storage"
)

// IDGenerator issues correlation ids for a cycle.
type IDGenerator interface {
	Generate(ctx context.Context, identity models.UserIdentity, requestID string) (models.CorrelationIDs, error)
}

type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Request is one classification cycle's input.
type Request struct {
	CycleID    string
	SessionKey string
	Completion models.Completion
}

type Client struct {
	workflow     Workflow
	ids          IDGenerator
	identities   storage.IdentityStore
	maxAttempts  int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// NewClient wires a workflow and an id generator. identities may be nil, in
// which case every session uses the default identity.
func NewClient(cfg Config, workflow Workflow, ids IDGenerator, identities storage.IdentityStore, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}

	return &Client{
		workflow:     workflow,
		ids:          ids,
		identities:   identities,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger,
	}
}

// Classify runs the classification cycle for a completed message.
func (c *Client) Classify(ctx context.Context, req Request) (*models.ClassificationResult, error) {
	if req.CycleID == "" {
		req.CycleID = uuid.NewString()
	}
	logger := c.logger.With(zap.String("cycle_id", req.CycleID), zap.String("session", req.SessionKey))

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := c.attempt(ctx, req, logger)
		if err == nil {
			result.Attempts = attempt
			metrics.ClassificationAttempts.WithLabelValues("success").Inc()
			logger.Debug("Classification succeeded", zap.Int("attempt", attempt))
			return result, nil
		}

		if !isRetryable(err) {
			metrics.ClassificationAttempts.WithLabelValues("failed").Inc()
			return nil, err
		}

		metrics.ClassificationAttempts.WithLabelValues("retryable").Inc()
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}

		delay := c.retryBackoff * time.Duration(attempt)
		logger.Warn("Retrying classification",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Duration("delay", delay))
		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("classification retry cancelled: %w", err)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request, logger *zap.Logger) (*models.ClassificationResult, error) {
	contextSpan, recentSpan := req.Completion.Transcript.Split()
	contextChat := contextSpan.Render()
	recentChat := recentSpan.Render()

	identity := c.resolveIdentity(ctx, req.SessionKey, logger)

	ids, err := c.ids.Generate(ctx, identity, req.CycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ids: %w", err)
	}

	outputs, err := c.workflow.Run(ctx, Inputs{
		ContextChat: contextChat,
		RecentChat:  recentChat,
		User:        identity.UserID,
		RequestID:   req.CycleID,
	})
	if err != nil {
		return nil, fmt.Errorf("classification call failed: %w", err)
	}

	assessment, notification, err := parseOutputs(outputs)
	if err != nil {
		return nil, err
	}

	return &models.ClassificationResult{
		CycleID:      req.CycleID,
		Identity:     identity,
		IDs:          ids,
		Assessment:   assessment,
		Notification: notification,
		RecentChat:   recentChat,
		ContextChat:  contextChat,
		SourceURL:    req.Completion.SourceURL,
	}, nil
}

// resolveIdentity never fails: lookup errors and unknown sessions fall back
// to the default identity.
func (c *Client) resolveIdentity(ctx context.Context, sessionKey string, logger *zap.Logger) models.UserIdentity {
	if c.identities == nil {
		return models.DefaultIdentity()
	}

	identity, ok, err := c.identities.Lookup(ctx, sessionKey)
	if err != nil {
		logger.Warn("Session identity lookup failed, using defaults", zap.Error(err))
		return models.DefaultIdentity()
	}
	if !ok {
		return models.DefaultIdentity()
	}
	if identity.UserID == "" {
		identity.UserID = models.DefaultUserID
	}
	return identity
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsHardFailure reports whether err came from a non-retryable upstream failure.
func IsHardFailure(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream)
}
