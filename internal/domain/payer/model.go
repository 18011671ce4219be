package payer

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a rule id does not resolve to a stored rule.
var ErrNotFound = errors.New("payer rule not found")

// Rule maps to the payer_rules table. A rule describes the billing policy a
// payer applies to the (clinician credential, place of service, service type)
// tuple: which documentation must be present before a note may be billed, and
// whether the combination is reimbursable at all.
type Rule struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	PayerID             uuid.UUID `db:"payer_id" json:"payer_id"`
	ClinicianCredential string    `db:"clinician_credential" json:"clinician_credential"`
	PlaceOfService      string    `db:"place_of_service" json:"place_of_service"`
	ServiceType         string    `db:"service_type" json:"service_type"`

	SupervisionRequired      bool    `db:"supervision_required" json:"supervision_required"`
	CosignRequired           bool    `db:"cosign_required" json:"cosign_required"`
	CosignTimeframeDays      *int    `db:"cosign_timeframe_days" json:"cosign_timeframe_days,omitempty"`
	NoteCompletionDays       *int    `db:"note_completion_days" json:"note_completion_days,omitempty"`
	DiagnosisRequired        bool    `db:"diagnosis_required" json:"diagnosis_required"`
	TreatmentPlanRequired    bool    `db:"treatment_plan_required" json:"treatment_plan_required"`
	MedicalNecessityRequired bool    `db:"medical_necessity_required" json:"medical_necessity_required"`
	PriorAuthRequired        bool    `db:"prior_auth_required" json:"prior_auth_required"`
	IsProhibited             bool    `db:"is_prohibited" json:"is_prohibited"`
	ProhibitionReason        *string `db:"prohibition_reason" json:"prohibition_reason,omitempty"`

	IncidentToBillingAllowed   bool    `db:"incident_to_billing_allowed" json:"incident_to_billing_allowed"`
	RenderingClinicianOverride *string `db:"rendering_clinician_override" json:"rendering_clinician_override,omitempty"`

	IsActive        bool       `db:"is_active" json:"is_active"`
	EffectiveDate   time.Time  `db:"effective_date" json:"effective_date"`
	TerminationDate *time.Time `db:"termination_date" json:"termination_date,omitempty"`

	CreatedBy *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// InEffect reports whether the rule's effective window covers the given date.
func (r *Rule) InEffect(on time.Time) bool {
	if on.Before(r.EffectiveDate) {
		return false
	}
	if r.TerminationDate != nil && on.After(*r.TerminationDate) {
		return false
	}
	return true
}

// Filter narrows rule listings. Zero values mean "no constraint".
type Filter struct {
	PayerID             uuid.UUID
	ClinicianCredential string
	PlaceOfService      string
	ServiceType         string
	// ActiveOnly limits results to is_active rules when true.
	ActiveOnly bool
}

// Stats summarizes the rule set configured for one payer.
type Stats struct {
	Total               int `json:"total"`
	Active              int `json:"active"`
	Prohibited          int `json:"prohibited"`
	CosignRequired      int `json:"cosign_required"`
	SupervisionRequired int `json:"supervision_required"`
	PriorAuthRequired   int `json:"prior_auth_required"`
}
