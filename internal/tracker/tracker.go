// Package tracker detects when the last message of a streaming chat is final.
//
// A message counts as complete once a different message starts appearing
// after it. The tracker compares the last message of each new transcript with
// the one it saw before and reports the earlier message when the transition
// rule holds, suppressing an immediate repeat of the last reported message.
//
// A Tracker belongs to exactly one monitored session and is not safe for
// concurrent use.
package tracker

import (
	"fmt"

	"github.com/xaenox/riskwatch/internal/models"
)

// Rule reports whether current has replaced pending as the last message.
type Rule func(pending, current models.Message) bool

// BothDiffer requires the author and the text to change.
func BothDiffer(pending, current models.Message) bool {
	return pending.Author != current.Author && pending.Text != current.Text
}

// EitherDiffers accepts a change of author or of text.
func EitherDiffers(pending, current models.Message) bool {
	return pending.Author != current.Author || pending.Text != current.Text
}

// RuleByName maps a configuration value to a Rule.
func RuleByName(name string) (Rule, error) {
	switch name {
	case "", "both":
		return BothDiffer, nil
	case "either":
		return EitherDiffers, nil
	default:
		return nil, fmt.Errorf("unknown transition rule %q", name)
	}
}

type Tracker struct {
	rule           Rule
	pending        *models.Message
	lastDispatched *models.Message
}

// New creates a tracker. A nil rule means BothDiffer.
func New(rule Rule) *Tracker {
	if rule == nil {
		rule = BothDiffer
	}
	return &Tracker{rule: rule}
}

// Observe feeds the latest transcript and returns the message that was just
// completed, if any.
func (t *Tracker) Observe(transcript models.Transcript) (models.Message, bool) {
	current, ok := transcript.Last()
	if !ok {
		return models.Message{}, false
	}

	var (
		completed models.Message
		found     bool
	)
	if t.pending != nil && t.rule(*t.pending, current) {
		finished := *t.pending
		if t.lastDispatched == nil || *t.lastDispatched != finished {
			completed, found = finished, true
		}
		t.lastDispatched = &finished
	}

	t.pending = &current
	return completed, found
}

// Pending returns the message currently considered in progress.
func (t *Tracker) Pending() (models.Message, bool) {
	if t.pending == nil {
		return models.Message{}, false
	}
	return *t.pending, true
}
