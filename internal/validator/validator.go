// Package validator enforces the required-field contract on classification
// results before anything is dispatched downstream.
package validator

import (
	"fmt"
	"strings"

	"github.com/xaenox/riskwatch/internal/models"
)

// ValidationError lists every required field that was missing or empty.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("classification result is missing required fields: %s", strings.Join(e.Missing, ", "))
}

type check struct {
	field   string
	present func(*models.ClassificationResult) bool
}

func id(v func(*models.ClassificationResult) int64) func(*models.ClassificationResult) bool {
	return func(r *models.ClassificationResult) bool { return v(r) != 0 }
}

func text(v func(*models.ClassificationResult) string) func(*models.ClassificationResult) bool {
	return func(r *models.ClassificationResult) bool { return strings.TrimSpace(v(r)) != "" }
}

// checks run in reporting order. They cover the ids, the assessment and the
// notification; neither chat span is checked, so a short transcript with an
// empty context chat still dispatches.
var checks = []check{
	{"ids.conversationId", id(func(r *models.ClassificationResult) int64 { return r.IDs.ConversationID })},
	{"ids.messageId", id(func(r *models.ClassificationResult) int64 { return r.IDs.MessageID })},
	{"ids.chatbotId", id(func(r *models.ClassificationResult) int64 { return r.IDs.ChatbotID })},
	{"ids.riskEventId", id(func(r *models.ClassificationResult) int64 { return r.IDs.RiskEventID })},
	{"riskAssessment.risk_level", text(func(r *models.ClassificationResult) string { return r.Assessment.RiskLevel })},
	{"riskAssessment.risk_type", text(func(r *models.ClassificationResult) string { return r.Assessment.RiskType })},
	{"riskAssessment.risky_reason", text(func(r *models.ClassificationResult) string { return r.Assessment.RiskyReason })},
	{"riskNotification.conversation_topic", text(func(r *models.ClassificationResult) string { return r.Notification.ConversationTopic })},
	{"riskNotification.conversation_summary", text(func(r *models.ClassificationResult) string { return r.Notification.ConversationSummary })},
}

// Validate returns a *ValidationError naming every missing field, or nil.
func Validate(r *models.ClassificationResult) error {
	if r == nil {
		return &ValidationError{Missing: []string{"result"}}
	}

	var missing []string
	for _, c := range checks {
		if !c.present(r) {
			missing = append(missing, c.field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
