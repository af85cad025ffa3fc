package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/extractor"
)

func snap(texts ...string) extractor.Snapshot {
	s := extractor.Snapshot{URL: "https://character.ai/chat/abc", AIName: "Luna"}
	for _, t := range texts {
		s.Nodes = append(s.Nodes, extractor.Node{Sender: "Luna", Paragraphs: []string{t}})
	}
	return s
}

func TestPushSource_NoSnapshotBeforePush(t *testing.T) {
	p := NewPushSource()
	_, err := p.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestPushSource_CoalescesNotifications(t *testing.T) {
	p := NewPushSource()
	changes, err := p.Changes(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Push(snap("one")))
	require.NoError(t, p.Push(snap("one", "two")))
	require.NoError(t, p.Push(snap("one", "two", "three")))

	<-changes
	select {
	case <-changes:
		t.Fatal("expected a single pending notification")
	default:
	}

	got, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 3)
}

func TestPushSource_CloseEndsSubscription(t *testing.T) {
	p := NewPushSource()
	changes, err := p.Changes(context.Background())
	require.NoError(t, err)

	p.Close()
	p.Close()

	_, ok := <-changes
	assert.False(t, ok)
	assert.ErrorIs(t, p.Push(snap("late")), ErrClosed)

	_, err = p.Changes(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPushSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPushSource()
	_, err := p.Changes(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = p.Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBrowserSource_RequiresURL(t *testing.T) {
	_, err := NewBrowserSource(BrowserConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestScripts_QuoteSelectors(t *testing.T) {
	sel := DefaultSelectors()

	observer := observerScript(sel.Container)
	assert.Contains(t, observer, `document.querySelector("#chat-messages")`)
	assert.Contains(t, observer, "window.riskwatchChanged(")
	assert.Contains(t, observer, "subtree: true")

	script := snapshotScript(sel)
	assert.Contains(t, script, `["div[class^=\"text\"]","div.text-small"]`)
	assert.Contains(t, script, `"div.group.relative.max-w-3xl.m-auto.w-full"`)
}
