package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/metrics"
	"github.com/xaenox/riskwatch/internal/models"
)

// Record names used in errors, logs and metrics.
const (
	RecordChatbot      = "chatbot"
	RecordConversation = "conversation"
	RecordMessage      = "message"
	RecordAlert        = "alert"
)

const alertTypeRiskAssessment = "risk_assessment"

// RecordError is a failed write of a single record.
type RecordError struct {
	Record string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Record, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Records is the backend the dispatcher writes to.
type Records interface {
	CreateChatbot(ctx context.Context, rec ChatbotRecord) error
	UpdateConversation(ctx context.Context, rec ConversationRecord) error
	CreateConversation(ctx context.Context, rec ConversationRecord) error
	CreateMessage(ctx context.Context, rec MessageRecord) error
	CreateAlert(ctx context.Context, rec AlertRecord) error
}

// Config holds the static chatbot description and platform label.
type Config struct {
	ChatbotName     string
	ChatbotVersion  string
	ChatbotLanguage string
	Platform        string
}

func DefaultConfig() Config {
	return Config{
		ChatbotName:     "testBot",
		ChatbotVersion:  "1.0",
		ChatbotLanguage: "en",
		Platform:        "CharacterAI",
	}
}

type Option func(*Dispatcher)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type Dispatcher struct {
	records Records
	config  Config
	now     func() time.Time
	logger  *zap.Logger
}

func New(records Records, cfg Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.ChatbotName == "" {
		cfg.ChatbotName = def.ChatbotName
	}
	if cfg.ChatbotVersion == "" {
		cfg.ChatbotVersion = def.ChatbotVersion
	}
	if cfg.ChatbotLanguage == "" {
		cfg.ChatbotLanguage = def.ChatbotLanguage
	}
	if cfg.Platform == "" {
		cfg.Platform = def.Platform
	}

	d := &Dispatcher{
		records: records,
		config:  cfg,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch writes the chatbot, conversation, message and alert records in
// that order. Every write is attempted; the failures are combined.
func (d *Dispatcher) Dispatch(ctx context.Context, r *models.ClassificationResult) error {
	timestamp := d.now().UTC().Format(time.RFC3339)
	log := d.logger.With(
		zap.String("cycle_id", r.CycleID),
		zap.Int64("conversation_id", r.IDs.ConversationID),
	)

	steps := []struct {
		record string
		run    func() error
	}{
		{RecordChatbot, func() error { return d.records.CreateChatbot(ctx, d.chatbot(r)) }},
		{RecordConversation, func() error { return d.upsertConversation(ctx, d.conversation(r, timestamp)) }},
		{RecordMessage, func() error { return d.records.CreateMessage(ctx, d.message(r, timestamp)) }},
		{RecordAlert, func() error {
			rec, err := d.alert(r, timestamp)
			if err != nil {
				return err
			}
			return d.records.CreateAlert(ctx, rec)
		}},
	}

	var errs error
	for _, step := range steps {
		if err := step.run(); err != nil {
			metrics.DispatchCalls.WithLabelValues(step.record, "error").Inc()
			log.Error("Failed to dispatch record", zap.String("record", step.record), zap.Error(err))
			errs = multierr.Append(errs, &RecordError{Record: step.record, Err: err})
			continue
		}
		metrics.DispatchCalls.WithLabelValues(step.record, "ok").Inc()
		log.Debug("Record dispatched", zap.String("record", step.record))
	}
	return errs
}

// upsertConversation updates first and creates only when the backend has
// never seen the conversation.
func (d *Dispatcher) upsertConversation(ctx context.Context, rec ConversationRecord) error {
	err := d.records.UpdateConversation(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update conversation: %w", err)
	}
	if err := d.records.CreateConversation(ctx, rec); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (d *Dispatcher) chatbot(r *models.ClassificationResult) ChatbotRecord {
	return ChatbotRecord{
		ChatbotID: r.IDs.ChatbotID,
		Name:      d.config.ChatbotName,
		Metadata: ChatbotMetadata{
			Version:  d.config.ChatbotVersion,
			Language: d.config.ChatbotLanguage,
		},
		Platform: d.config.Platform,
	}
}

func (d *Dispatcher) conversation(r *models.ClassificationResult, ts string) ConversationRecord {
	return ConversationRecord{
		User:                r.Identity.UserID,
		ConversationID:      r.IDs.ConversationID,
		ChildUserID:         r.Identity.ChildUserID,
		ChatbotID:           r.IDs.ChatbotID,
		StartTime:           ts,
		EndTime:             ts,
		ConversationTopic:   r.Notification.ConversationTopic,
		ConversationSummary: r.Notification.ConversationSummary,
		Messages:            r.ContextChat,
		Platform:            d.config.Platform,
	}
}

func (d *Dispatcher) message(r *models.ClassificationResult, ts string) MessageRecord {
	return MessageRecord{
		ChildUserID:    r.Identity.ChildUserID,
		MessageID:      r.IDs.MessageID,
		ConversationID: r.IDs.ConversationID,
		Sender:         r.Identity.UserID,
		MessageText:    r.RecentChat,
		Timestamp:      ts,
		SenderType:     d.config.Platform,
	}
}

func (d *Dispatcher) alert(r *models.ClassificationResult, ts string) (AlertRecord, error) {
	details, err := json.Marshal(AlertDetails{
		RiskEventID:    r.IDs.RiskEventID,
		ConversationID: r.IDs.ConversationID,
		ChildUserID:    r.Identity.ChildUserID,
		RiskLevel:      r.Assessment.RiskLevel,
		RiskType:       r.Assessment.RiskType,
		RiskyReason:    r.Assessment.RiskyReason,
		Timestamp:      ts,
		Messages:       r.RecentChat,
	})
	if err != nil {
		return AlertRecord{}, fmt.Errorf("failed to marshal alert details: %w", err)
	}
	return AlertRecord{
		User:         r.Identity.UserID,
		AlertType:    alertTypeRiskAssessment,
		AlertDetails: string(details),
	}, nil
}
