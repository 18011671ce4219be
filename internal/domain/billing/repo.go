package billing

import (
	"context"

	"github.com/google/uuid"
)

// HoldFilter narrows hold listings.
type HoldFilter struct {
	// Status is "active", "resolved" or "" for all.
	Status string
	NoteID uuid.UUID
	Reason HoldReason
}

// HoldRepository persists billing holds.
type HoldRepository interface {
	Create(ctx context.Context, h *Hold) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hold, error)
	// ActiveByNote returns the active holds on a note.
	ActiveByNote(ctx context.Context, noteID uuid.UUID) ([]*Hold, error)
	// Resolve deactivates a hold and stamps who resolved it.
	Resolve(ctx context.Context, id uuid.UUID, resolvedBy string) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f HoldFilter, limit, offset int) ([]*HoldWithNote, int, error)
	ActiveCount(ctx context.Context) (int, error)
	CountByReason(ctx context.Context) ([]ReasonCount, error)
}
