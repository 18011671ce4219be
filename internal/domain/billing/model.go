package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a hold id does not resolve to a stored hold.
	ErrNotFound = errors.New("billing hold not found")
	// ErrNoteNotFound is returned when a readiness operation references a
	// note that does not exist.
	ErrNoteNotFound = errors.New("note not found")
)

// HoldReason identifies why a note is blocked from claim submission.
type HoldReason string

const (
	ReasonNotSigned               HoldReason = "NOT_SIGNED"
	ReasonCosignRequired          HoldReason = "COSIGN_REQUIRED"
	ReasonCosignOverdue           HoldReason = "COSIGN_OVERDUE"
	ReasonSupervisionRequired     HoldReason = "SUPERVISION_REQUIRED"
	ReasonMissingDiagnosis        HoldReason = "MISSING_DIAGNOSIS"
	ReasonTreatmentPlanStale      HoldReason = "TREATMENT_PLAN_STALE"
	ReasonMedicalNecessityMissing HoldReason = "MEDICAL_NECESSITY_MISSING"
	ReasonPriorAuthRequired       HoldReason = "PRIOR_AUTH_REQUIRED"
	ReasonNoteOverdue             HoldReason = "NOTE_OVERDUE"
	ReasonProhibitedCombination   HoldReason = "PROHIBITED_COMBINATION"
	ReasonNoMatchingRule          HoldReason = "NO_MATCHING_RULE"
)

var validHoldReasons = map[HoldReason]bool{
	ReasonNotSigned:               true,
	ReasonCosignRequired:          true,
	ReasonCosignOverdue:           true,
	ReasonSupervisionRequired:     true,
	ReasonMissingDiagnosis:        true,
	ReasonTreatmentPlanStale:      true,
	ReasonMedicalNecessityMissing: true,
	ReasonPriorAuthRequired:       true,
	ReasonNoteOverdue:             true,
	ReasonProhibitedCombination:   true,
	ReasonNoMatchingRule:          true,
}

func (r HoldReason) Valid() bool { return validHoldReasons[r] }

// Finding is one readiness failure produced by evaluation. Findings are
// reconciled into billing holds.
type Finding struct {
	Reason  HoldReason `json:"reason"`
	Details string     `json:"details"`
}

// Hold maps to the billing_holds table. At most one active hold exists per
// (note, reason) pair; the table enforces this with a partial unique index.
type Hold struct {
	ID       uuid.UUID  `db:"id" json:"id"`
	NoteID   uuid.UUID  `db:"note_id" json:"note_id"`
	Reason   HoldReason `db:"hold_reason" json:"hold_reason"`
	Details  string     `db:"hold_details" json:"hold_details"`
	PlacedAt time.Time  `db:"placed_at" json:"placed_at"`
	PlacedBy string     `db:"placed_by" json:"placed_by"`

	IsActive   bool       `db:"is_active" json:"is_active"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy *string    `db:"resolved_by" json:"resolved_by,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HoldWithNote decorates a hold with note display fields for work queues.
type HoldWithNote struct {
	Hold
	ClientName    string    `json:"client_name"`
	ClinicianName string    `json:"clinician_name"`
	ServiceDate   time.Time `json:"service_date"`
}

// ReasonCount is one row of the holds-by-reason aggregate.
type ReasonCount struct {
	Reason HoldReason `json:"reason"`
	Count  int        `json:"count"`
}

// ValidationResult is the outcome of evaluating one note.
type ValidationResult struct {
	NoteID   uuid.UUID  `json:"note_id"`
	Ready    bool       `json:"ready"`
	RuleID   *uuid.UUID `json:"rule_id,omitempty"`
	Findings []Finding  `json:"findings"`
}
