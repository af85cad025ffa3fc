package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/xaenox/riskwatch/internal/models"
)

// Names of the two workflow outputs carrying nested JSON documents.
const (
	OutputRiskAssessment   = "Risk Assessment"
	OutputRiskNotification = "Risk Notification"
)

// Inputs is what a classification workflow receives for one attempt.
type Inputs struct {
	ContextChat string
	RecentChat  string
	User        string
	RequestID   string
}

// Outputs holds the raw text of the two risk outputs. An empty field means
// the workflow did not produce it.
type Outputs struct {
	RiskAssessment   string
	RiskNotification string
}

// Workflow runs the external risk classification. Returned errors are hard
// failures; a response without usable outputs is reported through empty
// Outputs instead.
type Workflow interface {
	Run(ctx context.Context, in Inputs) (Outputs, error)
}

// parseOutputs decodes both nested documents.
func parseOutputs(out Outputs) (models.RiskAssessment, models.RiskNotification, error) {
	var (
		assessment   models.RiskAssessment
		notification models.RiskNotification
	)

	if strings.TrimSpace(out.RiskAssessment) == "" || strings.TrimSpace(out.RiskNotification) == "" {
		return assessment, notification, ErrEmptyOutputs
	}

	var ad assessmentDoc
	if err := json.Unmarshal([]byte(stripCodeFence(out.RiskAssessment)), &ad); err != nil {
		return assessment, notification, &OutputParseError{Output: OutputRiskAssessment, Err: err}
	}
	var nd notificationDoc
	if err := json.Unmarshal([]byte(stripCodeFence(out.RiskNotification)), &nd); err != nil {
		return assessment, notification, &OutputParseError{Output: OutputRiskNotification, Err: err}
	}

	assessment = models.RiskAssessment{
		RiskLevel:   string(ad.RiskLevel),
		RiskType:    string(ad.RiskType),
		RiskyReason: string(ad.RiskyReason),
	}
	notification = models.RiskNotification{
		ConversationTopic:   string(nd.ConversationTopic),
		ConversationSummary: string(nd.ConversationSummary),
	}
	return assessment, notification, nil
}

// looseString decodes any JSON scalar into its text, so a risk_level of 3
// becomes "3".
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	*s = looseString(rawOutput(data))
	return nil
}

type assessmentDoc struct {
	RiskLevel   looseString `json:"risk_level"`
	RiskType    looseString `json:"risk_type"`
	RiskyReason looseString `json:"risky_reason"`
}

type notificationDoc struct {
	ConversationTopic   looseString `json:"conversation_topic"`
	ConversationSummary looseString `json:"conversation_summary"`
}

// stripCodeFence removes a markdown code block around a JSON document, which
// LLM-backed workflows sometimes add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// rawOutput turns a JSON value into output text: strings are unquoted, null
// becomes empty and anything else is kept as its JSON encoding.
func rawOutput(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return trimmed
}
