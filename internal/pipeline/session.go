package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/extractor"
	"github.com/xaenox/riskwatch/internal/metrics"
	"github.com/xaenox/riskwatch/internal/models"
	"github.com/xaenox/riskwatch/internal/source"
	"github.com/xaenox/riskwatch/internal/tracker"
)

// Processor handles a completed message. *Orchestrator implements it.
type Processor interface {
	Process(ctx context.Context, sessionKey string, completion models.Completion) (*models.ClassificationResult, error)
}

// Session monitors one chat. It is not safe for concurrent use.
type Session struct {
	key       string
	extractor *extractor.Extractor
	tracker   *tracker.Tracker
	processor Processor
	logger    *zap.Logger
}

func NewSession(key string, ex *extractor.Extractor, tr *tracker.Tracker, p Processor, logger *zap.Logger) *Session {
	if ex == nil {
		ex = extractor.New()
	}
	if tr == nil {
		tr = tracker.New(nil)
	}
	return &Session{
		key:       key,
		extractor: ex,
		tracker:   tr,
		processor: p,
		logger:    logger.With(zap.String("session", key)),
	}
}

// Handle extracts the transcript from snap and processes a completed message
// if the snapshot finalizes one. It returns nil, nil when nothing completed.
func (s *Session) Handle(ctx context.Context, snap extractor.Snapshot) (*models.ClassificationResult, error) {
	transcript := s.extractor.Extract(snap)

	msg, ok := s.tracker.Observe(transcript)
	if !ok {
		return nil, nil
	}

	return s.processor.Process(ctx, s.key, models.Completion{
		Transcript: transcript,
		Message:    msg,
		SourceURL:  snap.URL,
	})
}

// Run handles one snapshot per change notification until the source closes
// or ctx is cancelled. Cycle failures are logged and do not stop the session.
func (s *Session) Run(ctx context.Context, src source.Source) error {
	changes, err := src.Changes(ctx)
	if err != nil {
		return err
	}

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()
	s.logger.Info("Session started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				s.logger.Info("Session source closed")
				return nil
			}

			snap, err := src.Snapshot(ctx)
			if err != nil {
				s.logger.Warn("Failed to read snapshot", zap.Error(err))
				continue
			}

			if _, err := s.Handle(ctx, snap); err != nil {
				s.logger.Error("Classification cycle failed", zap.Error(err))
			}
		}
	}
}
