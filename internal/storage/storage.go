// Package storage provides read access to per-session identity state: which
// monitoring account and which child a monitored chat session belongs to.
package storage

import (
	"context"

	"github.com/xaenox/riskwatch/internal/models"
)

// IdentityStore looks up the identity bound to a session key. The boolean is
// false when the key is unknown.
type IdentityStore interface {
	Lookup(ctx context.Context, sessionKey string) (models.UserIdentity, bool, error)
	Close() error
}
