package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/riskwatch/internal/models"
)

type call struct {
	Method string
	Path   string
	Body   map[string]any
}

// backend records every request and answers with the status configured for its route.
type backend struct {
	mu       sync.Mutex
	calls    []call
	statuses map[string]int
}

func newBackend(t *testing.T, statuses map[string]int) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{statuses: statuses}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))

		route := r.Method + " " + r.URL.Path
		b.mu.Lock()
		b.calls = append(b.calls, call{Method: r.Method, Path: r.URL.Path, Body: body})
		status, ok := b.statuses[route]
		b.mu.Unlock()
		if !ok {
			status = http.StatusOK
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) routes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.Method+" "+c.Path)
	}
	return out
}

func (b *backend) body(route string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.calls {
		if c.Method+" "+c.Path == route {
			return c.Body
		}
	}
	return nil
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.FixedZone("PST", -8*3600))

func sampleResult() *models.ClassificationResult {
	return &models.ClassificationResult{
		CycleID:  "cycle-1",
		Identity: models.UserIdentity{UserID: "parent-7", ChildUserID: 42},
		IDs:      models.CorrelationIDs{ConversationID: 101, MessageID: 202, ChatbotID: 303, RiskEventID: 404},
		Assessment: models.RiskAssessment{
			RiskLevel:   "high",
			RiskType:    "secrecy",
			RiskyReason: "asked the child to keep secrets",
		},
		Notification: models.RiskNotification{
			ConversationTopic:   "secrets",
			ConversationSummary: "The bot asked the child to hide the chat from parents.",
		},
		RecentChat:  "AI: promise not to tell\nUser: ok",
		ContextChat: "User: hi\nAI: hey there",
	}
}

func newTestDispatcher(t *testing.T, url string) *Dispatcher {
	t.Helper()
	return New(NewRecordClient(url, time.Second), Config{}, zaptest.NewLogger(t), WithClock(func() time.Time { return fixedNow }))
}

func TestDispatch_SuccessOrderAndPayloads(t *testing.T) {
	b, srv := newBackend(t, nil)
	d := newTestDispatcher(t, srv.URL)

	require.NoError(t, d.Dispatch(context.Background(), sampleResult()))

	assert.Equal(t, []string{
		"POST /chatbots/receive",
		"PUT /conversations/update/101",
		"POST /messages/receive",
		"POST /alerts/receive",
	}, b.routes())

	ts := "2025-03-14T17:26:53Z"

	chatbot := b.body("POST /chatbots/receive")
	assert.Equal(t, float64(303), chatbot["chatbot_id"])
	assert.Equal(t, "testBot", chatbot["name"])
	assert.Equal(t, "CharacterAI", chatbot["chatbotPlatform"])
	assert.Equal(t, map[string]any{"version": "1.0", "language": "en"}, chatbot["metadata"])

	conv := b.body("PUT /conversations/update/101")
	assert.Equal(t, "parent-7", conv["user"])
	assert.Equal(t, float64(101), conv["conversation_id"])
	assert.Equal(t, float64(42), conv["child_user_id"])
	assert.Equal(t, float64(303), conv["chatbot_id"])
	assert.Equal(t, ts, conv["start_time"])
	assert.Equal(t, ts, conv["end_time"])
	assert.Equal(t, "secrets", conv["conversation_topic"])
	assert.Equal(t, "The bot asked the child to hide the chat from parents.", conv["conversation_summary"])
	assert.Equal(t, "User: hi\nAI: hey there", conv["messages"])
	assert.Equal(t, "CharacterAI", conv["platform"])

	msg := b.body("POST /messages/receive")
	assert.Equal(t, float64(42), msg["child_user_id"])
	assert.Equal(t, float64(202), msg["message_id"])
	assert.Equal(t, float64(101), msg["conversation_id"])
	assert.Equal(t, "parent-7", msg["sender"])
	assert.Equal(t, "AI: promise not to tell\nUser: ok", msg["message_text"])
	assert.Equal(t, ts, msg["timestamp"])
	assert.Equal(t, "CharacterAI", msg["sender_type"])

	alert := b.body("POST /alerts/receive")
	assert.Equal(t, "parent-7", alert["user"])
	assert.Equal(t, "risk_assessment", alert["alert_type"])

	raw, ok := alert["alert_details"].(string)
	require.True(t, ok, "alert_details must be a JSON string")
	var details AlertDetails
	require.NoError(t, json.Unmarshal([]byte(raw), &details))
	assert.Equal(t, AlertDetails{
		RiskEventID:    404,
		ConversationID: 101,
		ChildUserID:    42,
		RiskLevel:      "high",
		RiskType:       "secrecy",
		RiskyReason:    "asked the child to keep secrets",
		Timestamp:      ts,
		Messages:       "AI: promise not to tell\nUser: ok",
	}, details)
}

func TestDispatch_ConversationNotFoundCreatesOnce(t *testing.T) {
	b, srv := newBackend(t, map[string]int{"PUT /conversations/update/101": http.StatusNotFound})
	d := newTestDispatcher(t, srv.URL)

	require.NoError(t, d.Dispatch(context.Background(), sampleResult()))

	assert.Equal(t, []string{
		"POST /chatbots/receive",
		"PUT /conversations/update/101",
		"POST /conversations/receive",
		"POST /messages/receive",
		"POST /alerts/receive",
	}, b.routes())
	assert.Equal(t, b.body("PUT /conversations/update/101"), b.body("POST /conversations/receive"))
}

func TestDispatch_ConversationUpdateFailureDoesNotCreate(t *testing.T) {
	b, srv := newBackend(t, map[string]int{"PUT /conversations/update/101": http.StatusInternalServerError})
	d := newTestDispatcher(t, srv.URL)

	err := d.Dispatch(context.Background(), sampleResult())
	require.Error(t, err)

	assert.NotContains(t, b.routes(), "POST /conversations/receive")
	assert.Len(t, b.routes(), 4)

	var rerr *RecordError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, RecordConversation, rerr.Record)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusInternalServerError, serr.Status)
}

func TestDispatch_PartialFailureAttemptsEveryRecord(t *testing.T) {
	b, srv := newBackend(t, map[string]int{
		"POST /chatbots/receive": http.StatusBadGateway,
		"POST /messages/receive": http.StatusBadRequest,
	})
	d := newTestDispatcher(t, srv.URL)

	err := d.Dispatch(context.Background(), sampleResult())
	require.Error(t, err)

	assert.Equal(t, []string{
		"POST /chatbots/receive",
		"PUT /conversations/update/101",
		"POST /messages/receive",
		"POST /alerts/receive",
	}, b.routes())

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)

	var failed []string
	for _, e := range errs {
		var rerr *RecordError
		require.True(t, errors.As(e, &rerr))
		failed = append(failed, rerr.Record)
	}
	assert.Equal(t, []string{RecordChatbot, RecordMessage}, failed)
}

func TestDispatch_CreateFailureAfterNotFound(t *testing.T) {
	b, srv := newBackend(t, map[string]int{
		"PUT /conversations/update/101": http.StatusNotFound,
		"POST /conversations/receive":   http.StatusInternalServerError,
	})
	d := newTestDispatcher(t, srv.URL)

	err := d.Dispatch(context.Background(), sampleResult())

	var rerr *RecordError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, RecordConversation, rerr.Record)
	assert.Len(t, b.routes(), 5)
}

func TestRecordClient_NotFoundOnlyForUpdate(t *testing.T) {
	_, srv := newBackend(t, map[string]int{"POST /messages/receive": http.StatusNotFound})
	c := NewRecordClient(srv.URL+"/", time.Second)

	err := c.CreateMessage(context.Background(), MessageRecord{})

	assert.False(t, errors.Is(err, ErrNotFound))
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.Status)
}

func TestRecordClient_TruncatedErrorBodyKeepsReadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream"))
	}))
	defer srv.Close()
	c := NewRecordClient(srv.URL, time.Second)

	err := c.CreateAlert(context.Background(), AlertRecord{})

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadGateway, serr.Status)
	assert.Equal(t, "upstream", serr.Body)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "reading body")
}
