package payer

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RuleRepository persists payer billing rules.
type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	Update(ctx context.Context, r *Rule) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Rule, int, error)
	// FindMatching returns the active rules whose tuple matches exactly and
	// whose effective window covers serviceDate, newest created first.
	FindMatching(ctx context.Context, payerID uuid.UUID, credential, placeOfService, serviceType string, serviceDate time.Time) ([]*Rule, error)
	Stats(ctx context.Context, payerID uuid.UUID) (*Stats, error)
}
