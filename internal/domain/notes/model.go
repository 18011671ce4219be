package notes

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a note id does not resolve to a stored note.
var ErrNotFound = errors.New("note not found")

// Snapshot is the read-only projection of a clinical note that billing
// readiness evaluation consumes. It joins the note row with client and
// clinician display fields so callers never reach back into clinical tables.
type Snapshot struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	ClientID            uuid.UUID `db:"client_id" json:"client_id"`
	ClinicianID         uuid.UUID `db:"clinician_id" json:"clinician_id"`
	PayerID             uuid.UUID `db:"payer_id" json:"payer_id"`
	ClinicianCredential string    `db:"clinician_credential" json:"clinician_credential"`
	PlaceOfService      string    `db:"place_of_service" json:"place_of_service"`
	ServiceType         string    `db:"service_type" json:"service_type"`
	ServiceDate         time.Time `db:"service_date" json:"service_date"`

	SignedAt         *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	CosignedAt       *time.Time `db:"cosigned_at" json:"cosigned_at,omitempty"`
	DiagnosisCode    *string    `db:"diagnosis_code" json:"diagnosis_code,omitempty"`
	MedicalNecessity *string    `db:"medical_necessity" json:"medical_necessity,omitempty"`
	PriorAuthNumber  *string    `db:"prior_auth_number" json:"prior_auth_number,omitempty"`

	TreatmentPlanUpdatedAt *time.Time `db:"treatment_plan_updated_at" json:"treatment_plan_updated_at,omitempty"`

	ClientName    string `db:"client_name" json:"client_name"`
	ClinicianName string `db:"clinician_name" json:"clinician_name"`
}

func (s *Snapshot) IsSigned() bool   { return s.SignedAt != nil }
func (s *Snapshot) IsCosigned() bool { return s.CosignedAt != nil }

func (s *Snapshot) HasDiagnosis() bool {
	return s.DiagnosisCode != nil && strings.TrimSpace(*s.DiagnosisCode) != ""
}

func (s *Snapshot) HasPriorAuth() bool {
	return s.PriorAuthNumber != nil && strings.TrimSpace(*s.PriorAuthNumber) != ""
}

// MedicalNecessityLength is the character count of the trimmed justification.
func (s *Snapshot) MedicalNecessityLength() int {
	if s.MedicalNecessity == nil {
		return 0
	}
	return len(strings.TrimSpace(*s.MedicalNecessity))
}
