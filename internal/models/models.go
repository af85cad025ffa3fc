package models

import "strings"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser Role = "User"
	RoleAI   Role = "AI"
)

// recentSpanSize is the number of trailing messages sent as the recent chat.
const recentSpanSize = 2

// Message represents a single chat message read from a monitored conversation
type Message struct {
	Author string `json:"author"`
	Role   Role   `json:"sender_type"`
	Text   string `json:"content"`
}

// Transcript is an ordered list of messages, oldest first
type Transcript []Message

// Last returns the most recent message, if any.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// Split partitions the transcript into the context span and the recent span
// (the last two messages). Both spans share the transcript's ordering.
func (t Transcript) Split() (context, recent Transcript) {
	cut := len(t) - recentSpanSize
	if cut < 0 {
		cut = 0
	}
	return t[:cut:cut], t[cut:]
}

// Render formats each message as "{role}: {text}", one per line.
func (t Transcript) Render() string {
	lines := make([]string, 0, len(t))
	for _, m := range t {
		lines = append(lines, string(m.Role)+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

// Completion is a finalized message together with the transcript it was detected in
type Completion struct {
	Transcript Transcript `json:"messages"`
	Message    Message    `json:"pendingMessage"`
	SourceURL  string     `json:"urlPart"`
}
