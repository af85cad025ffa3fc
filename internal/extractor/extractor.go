// Package extractor turns a snapshot of a chat page into an ordered transcript.
package extractor

import (
	"strings"

	"github.com/xaenox/riskwatch/internal/models"
)

// Node is one rendered message element as read from the page.
// Sender is empty when the element has no resolvable sender label.
type Node struct {
	Sender     string   `json:"sender"`
	Paragraphs []string `json:"paragraphs"`
}

// Snapshot is a read-only capture of a chat page.
type Snapshot struct {
	URL    string `json:"url"`
	AIName string `json:"aiName"`
	Nodes  []Node `json:"nodes"`
}

// RoleResolver decides the role of a message from its sender label.
type RoleResolver interface {
	ResolveRole(author string) models.Role
}

// NameResolver marks a sender as the AI when its label equals the AI
// participant's name exactly.
type NameResolver struct {
	AIName string
}

func (r NameResolver) ResolveRole(author string) models.Role {
	if author == r.AIName {
		return models.RoleAI
	}
	return models.RoleUser
}

// Extractor builds transcripts from snapshots. The zero value reads nodes in
// document order and resolves roles against the snapshot's AI name.
type Extractor struct {
	resolver    RoleResolver
	newestFirst bool
}

type Option func(*Extractor)

// WithResolver replaces the per-snapshot name matching with a fixed resolver.
func WithResolver(r RoleResolver) Option {
	return func(e *Extractor) { e.resolver = r }
}

// WithNewestFirst tells the extractor that the page lists the newest message
// first, so nodes are reversed before extraction.
func WithNewestFirst(v bool) Option {
	return func(e *Extractor) { e.newestFirst = v }
}

func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the snapshot's messages, oldest first. Nodes without a
// sender label or without text are skipped.
func (e *Extractor) Extract(snap Snapshot) models.Transcript {
	resolver := e.resolver
	if resolver == nil {
		resolver = NameResolver{AIName: strings.TrimSpace(snap.AIName)}
	}

	transcript := make(models.Transcript, 0, len(snap.Nodes))
	for i := range snap.Nodes {
		node := snap.Nodes[i]
		if e.newestFirst {
			node = snap.Nodes[len(snap.Nodes)-1-i]
		}

		sender := strings.TrimSpace(node.Sender)
		text := joinParagraphs(node.Paragraphs)
		if sender == "" || text == "" {
			continue
		}

		transcript = append(transcript, models.Message{
			Author: sender,
			Role:   resolver.ResolveRole(sender),
			Text:   text,
		})
	}
	return transcript
}

// joinParagraphs trims each paragraph and joins the non-empty ones with a
// single space. Blank paragraphs are dropped rather than leaving double spaces.
func joinParagraphs(paragraphs []string) string {
	parts := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
