package models

// Fallback identity used when the session state has no entry.
const (
	DefaultUserID      = "extension-user"
	DefaultChildUserID = int64(3)
)

// UserIdentity identifies the monitoring account and the monitored child
type UserIdentity struct {
	UserID      string `json:"userId"`
	ChildUserID int64  `json:"childUserId"`
}

// DefaultIdentity returns the fallback identity.
func DefaultIdentity() UserIdentity {
	return UserIdentity{UserID: DefaultUserID, ChildUserID: DefaultChildUserID}
}

// CorrelationIDs tie one classification cycle to its downstream records.
// A zero value means the identifier is missing.
type CorrelationIDs struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
	ChatbotID      int64 `json:"chatbotId"`
	RiskEventID    int64 `json:"riskEventId"`
}

// RiskAssessment is the "Risk Assessment" output of the classification service
type RiskAssessment struct {
	RiskLevel   string `json:"risk_level"`
	RiskType    string `json:"risk_type"`
	RiskyReason string `json:"risky_reason"`
}

// RiskNotification is the "Risk Notification" output of the classification service
type RiskNotification struct {
	ConversationTopic   string `json:"conversation_topic"`
	ConversationSummary string `json:"conversation_summary"`
}

// ClassificationResult is the unit handed from classification to dispatch.
type ClassificationResult struct {
	CycleID      string           `json:"cycle_id"`
	Identity     UserIdentity     `json:"identity"`
	IDs          CorrelationIDs   `json:"ids"`
	Assessment   RiskAssessment   `json:"riskAssessment"`
	Notification RiskNotification `json:"riskNotification"`
	RecentChat   string           `json:"recentChat"`
	ContextChat  string           `json:"contextChat"`
	SourceURL    string           `json:"source_url,omitempty"`
	Attempts     int              `json:"attempts"`
}
