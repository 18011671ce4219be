package notes

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SnapshotRepository reads note projections. Notes are written by the
// clinical documentation system; this module only observes them.
type SnapshotRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*Snapshot, error)
}

// SupervisionRepository answers whether a clinician is under an active
// supervision relationship on a given date.
type SupervisionRepository interface {
	HasActiveSupervision(ctx context.Context, clinicianID uuid.UUID, asOf time.Time) (bool, error)
}
