package source

import (
	"context"
	"sync"

	"github.com/xaenox/riskwatch/internal/extractor"
)

// PushSource keeps the latest snapshot pushed by an external agent.
type PushSource struct {
	mu     sync.Mutex
	latest extractor.Snapshot
	has    bool
	closed bool
	notify chan struct{}
}

func NewPushSource() *PushSource {
	return &PushSource{notify: make(chan struct{}, 1)}
}

// Push replaces the current snapshot and signals a change.
func (p *PushSource) Push(snap extractor.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.latest = snap
	p.has = true
	signal(p.notify)
	return nil
}

// Changes returns the shared notification channel. It is closed by Close.
func (p *PushSource) Changes(ctx context.Context) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	return p.notify, nil
}

func (p *PushSource) Snapshot(ctx context.Context) (extractor.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return extractor.Snapshot{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has {
		return extractor.Snapshot{}, ErrNoSnapshot
	}
	return p.latest, nil
}

// Close ends the subscription. It is safe to call more than once.
func (p *PushSource) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.notify)
}
