// Package source provides the change feeds that drive monitoring sessions:
// a headless browser watching the chat page and snapshots pushed by an
// in-page agent.
package source

import (
	"context"
	"errors"

	"github.com/xaenox/riskwatch/internal/extractor"
)

var (
	// ErrNoSnapshot is returned before the first page state is available.
	ErrNoSnapshot = errors.New("no snapshot available")
	// ErrClosed is returned after the source has been closed.
	ErrClosed = errors.New("source closed")
)

// Source notifies about page changes and reads the current page state.
//
// The channel returned by Changes carries at most one pending signal, so a
// burst of mutations collapses into a single notification. It is closed
// when the subscription ends.
type Source interface {
	Changes(ctx context.Context) (<-chan struct{}, error)
	Snapshot(ctx context.Context) (extractor.Snapshot, error)
}

// signal performs a non-blocking send on a 1-buffered channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
