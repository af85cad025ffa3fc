// Package dispatch writes validated classification results to the
// monitoring backend as chatbot, conversation, message and alert records.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the backend has no record to update.
var ErrNotFound = errors.New("record not found")

// StatusError is a non-2xx response from the records backend. ReadErr is set
// when the body could not be read in full; Body then holds what was read.
type StatusError struct {
	Status  int
	Body    string
	ReadErr error
}

func (e *StatusError) Error() string {
	if e.ReadErr != nil {
		return fmt.Sprintf("records backend returned status %d: %s (reading body: %v)", e.Status, e.Body, e.ReadErr)
	}
	return fmt.Sprintf("records backend returned status %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.ReadErr }

// ChatbotRecord describes the chatbot that produced the conversation.
type ChatbotRecord struct {
	ChatbotID int64           `json:"chatbot_id"`
	Name      string          `json:"name"`
	Metadata  ChatbotMetadata `json:"metadata"`
	Platform  string          `json:"chatbotPlatform"`
}

type ChatbotMetadata struct {
	Version  string `json:"version"`
	Language string `json:"language"`
}

// ConversationRecord carries the rolling topic and summary of a conversation.
type ConversationRecord struct {
	User                string `json:"user"`
	ConversationID      int64  `json:"conversation_id"`
	ChildUserID         int64  `json:"child_user_id"`
	ChatbotID           int64  `json:"chatbot_id"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	ConversationTopic   string `json:"conversation_topic"`
	ConversationSummary string `json:"conversation_summary"`
	Messages            string `json:"messages"`
	Platform            string `json:"platform"`
}

// MessageRecord stores the recent exchange that was classified.
type MessageRecord struct {
	ChildUserID    int64  `json:"child_user_id"`
	MessageID      int64  `json:"message_id"`
	ConversationID int64  `json:"conversation_id"`
	Sender         string `json:"sender"`
	MessageText    string `json:"message_text"`
	Timestamp      string `json:"timestamp"`
	SenderType     string `json:"sender_type"`
}

// AlertRecord wraps the risk details; the backend expects them as a JSON string.
type AlertRecord struct {
	User         string `json:"user"`
	AlertType    string `json:"alert_type"`
	AlertDetails string `json:"alert_details"`
}

// AlertDetails is serialized into AlertRecord.AlertDetails.
type AlertDetails struct {
	RiskEventID    int64  `json:"risk_event_id"`
	ConversationID int64  `json:"conversation_id"`
	ChildUserID    int64  `json:"child_user_id"`
	RiskLevel      string `json:"riskLevel"`
	RiskType       string `json:"riskType"`
	RiskyReason    string `json:"riskyReason"`
	Timestamp      string `json:"timestamp"`
	Messages       string `json:"messages"`
}

// RecordClient talks to the records backend over HTTP.
type RecordClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRecordClient(baseURL string, timeout time.Duration) *RecordClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RecordClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RecordClient) CreateChatbot(ctx context.Context, rec ChatbotRecord) error {
	return c.send(ctx, http.MethodPost, "/chatbots/receive", rec)
}

// UpdateConversation returns ErrNotFound when the conversation does not exist yet.
func (c *RecordClient) UpdateConversation(ctx context.Context, rec ConversationRecord) error {
	path := "/conversations/update/" + strconv.FormatInt(rec.ConversationID, 10)
	return c.send(ctx, http.MethodPut, path, rec)
}

func (c *RecordClient) CreateConversation(ctx context.Context, rec ConversationRecord) error {
	return c.send(ctx, http.MethodPost, "/conversations/receive", rec)
}

func (c *RecordClient) CreateMessage(ctx context.Context, rec MessageRecord) error {
	return c.send(ctx, http.MethodPost, "/messages/receive", rec)
}

func (c *RecordClient) CreateAlert(ctx context.Context, rec AlertRecord) error {
	return c.send(ctx, http.MethodPost, "/alerts/receive", rec)
}

func (c *RecordClient) send(ctx context.Context, method, path string, body any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusNotFound && method == http.MethodPut {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: string(payload), ReadErr: readErr}
	}
	return nil
}
