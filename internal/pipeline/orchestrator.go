// Package pipeline drives a completed chat message through classification,
// validation, dispatch and notification, and runs per-session monitoring
// loops on top of a change source.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/classifier"
	"github.com/xaenox/riskwatch/internal/metrics"
	"github.com/xaenox/riskwatch/internal/models"
	"github.com/xaenox/riskwatch/internal/notify"
	"github.com/xaenox/riskwatch/internal/validator"
)

// Cycle stages.
const (
	StageClassify = "classify"
	StageValidate = "validate"
	StageDispatch = "dispatch"
)

// StageError reports the stage a cycle failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Classifier interface {
	Classify(ctx context.Context, req classifier.Request) (*models.ClassificationResult, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, r *models.ClassificationResult) error
}

// Orchestrator runs one classification cycle per completed message.
type Orchestrator struct {
	classifier Classifier
	dispatcher Dispatcher
	notifiers  []notify.Notifier
	logger     *zap.Logger
}

func NewOrchestrator(c Classifier, d Dispatcher, notifiers []notify.Notifier, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		classifier: c,
		dispatcher: d,
		notifiers:  notifiers,
		logger:     logger,
	}
}

// Process classifies, validates and dispatches a completion. On a partial
// dispatch failure the result is returned together with the error.
func (o *Orchestrator) Process(ctx context.Context, sessionKey string, completion models.Completion) (*models.ClassificationResult, error) {
	cycleID := uuid.NewString()
	logger := o.logger.With(zap.String("cycle_id", cycleID), zap.String("session", sessionKey))

	start := time.Now()
	defer func() {
		metrics.CycleLatency.Observe(time.Since(start).Seconds())
	}()

	logger.Info("Classifying completed message",
		zap.String("author", completion.Message.Author),
		zap.Int("transcript_len", len(completion.Transcript)))

	result, err := o.classifier.Classify(ctx, classifier.Request{
		CycleID:    cycleID,
		SessionKey: sessionKey,
		Completion: completion,
	})
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("classification_failed").Inc()
		return nil, &StageError{Stage: StageClassify, Err: err}
	}

	if err := validator.Validate(result); err != nil {
		metrics.CyclesTotal.WithLabelValues("validation_failed").Inc()
		return nil, &StageError{Stage: StageValidate, Err: err}
	}

	dispatchErr := o.dispatcher.Dispatch(ctx, result)
	o.notify(ctx, result, logger)

	if dispatchErr != nil {
		metrics.CyclesTotal.WithLabelValues("partial").Inc()
		return result, &StageError{Stage: StageDispatch, Err: dispatchErr}
	}

	metrics.CyclesTotal.WithLabelValues("dispatched").Inc()
	logger.Info("Cycle dispatched",
		zap.String("risk_level", result.Assessment.RiskLevel),
		zap.Int("attempts", result.Attempts),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// notify never fails the cycle.
func (o *Orchestrator) notify(ctx context.Context, r *models.ClassificationResult, logger *zap.Logger) {
	for _, n := range o.notifiers {
		if err := n.Notify(ctx, r); err != nil {
			logger.Warn("Notifier failed", zap.String("notifier", n.Name()), zap.Error(err))
		}
	}
}
