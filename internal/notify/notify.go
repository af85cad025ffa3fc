// Package notify delivers validated risk results to parents and to other
// services once they have been dispatched.
package notify

import (
	"context"

	"github.com/xaenox/riskwatch/internal/models"
)

// Notifier delivers a dispatched result somewhere outside the records backend.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, r *models.ClassificationResult) error
}
