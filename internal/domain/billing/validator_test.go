package billing

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sagecare/sagecare/internal/domain/notes"
	"github.com/sagecare/sagecare/internal/domain/payer"
)

func strPtr(s string) *string       { return &s }
func intPtr(n int) *int             { return &n }
func timePtr(t time.Time) *time.Time { return &t }

// readyNote returns a note that passes every documentation check.
func readyNote(serviceDate time.Time) *notes.Snapshot {
	signed := serviceDate.Add(24 * time.Hour)
	planUpdated := serviceDate.AddDate(0, 0, -30)
	return &notes.Snapshot{
		ID:                     uuid.New(),
		ClientID:               uuid.New(),
		ClinicianID:            uuid.New(),
		PayerID:                uuid.New(),
		ClinicianCredential:    "LCSW",
		PlaceOfService:         "office",
		ServiceType:            "psychotherapy-45",
		ServiceDate:            serviceDate,
		SignedAt:               &signed,
		DiagnosisCode:          strPtr("F41.1"),
		MedicalNecessity:       strPtr(strings.Repeat("clinically indicated ", 5)),
		PriorAuthNumber:        strPtr("PA-12345"),
		TreatmentPlanUpdatedAt: &planUpdated,
	}
}

// strictRule requires everything the checklist can require.
func strictRule() *payer.Rule {
	return &payer.Rule{
		ID:                       uuid.New(),
		PayerID:                  uuid.New(),
		ClinicianCredential:      "LCSW",
		PlaceOfService:           "office",
		ServiceType:              "psychotherapy-45",
		DiagnosisRequired:        true,
		TreatmentPlanRequired:    true,
		MedicalNecessityRequired: true,
		PriorAuthRequired:        true,
		IsActive:                 true,
		EffectiveDate:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func reasons(findings []Finding) []HoldReason {
	out := make([]HoldReason, len(findings))
	for i, f := range findings {
		out[i] = f.Reason
	}
	return out
}

func hasReason(findings []Finding, want HoldReason) bool {
	for _, f := range findings {
		if f.Reason == want {
			return true
		}
	}
	return false
}

func TestEvaluate_ReadyNote(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	now := serviceDate.AddDate(0, 0, 5)

	findings := Evaluate(readyNote(serviceDate), strictRule(), false, 90, now)
	if len(findings) != 0 {
		t.Errorf("expected no findings, got %v", reasons(findings))
	}
}

func TestEvaluate_UnsignedNote(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	note := readyNote(serviceDate)
	note.SignedAt = nil

	findings := Evaluate(note, strictRule(), false, 90, serviceDate.AddDate(0, 0, 1))
	if len(findings) != 1 || findings[0].Reason != ReasonNotSigned {
		t.Errorf("expected only NOT_SIGNED, got %v", reasons(findings))
	}
}

func TestEvaluate_NoMatchingRule(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	note := readyNote(serviceDate)
	note.SignedAt = nil

	findings := Evaluate(note, nil, false, 90, serviceDate.AddDate(0, 0, 1))
	if len(findings) != 2 {
		t.Fatalf("expected NOT_SIGNED plus NO_MATCHING_RULE, got %v", reasons(findings))
	}
	if !hasReason(findings, ReasonNotSigned) || !hasReason(findings, ReasonNoMatchingRule) {
		t.Errorf("unexpected findings: %v", reasons(findings))
	}
}

func TestEvaluate_ProhibitedShortCircuits(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	// note also missing a diagnosis; prohibition must suppress that finding
	note := readyNote(serviceDate)
	note.DiagnosisCode = nil

	rule := strictRule()
	rule.IsProhibited = true
	rule.ProhibitionReason = strPtr("payer does not cover family therapy via telehealth")

	findings := Evaluate(note, rule, false, 90, serviceDate.AddDate(0, 0, 5))
	if len(findings) != 1 || findings[0].Reason != ReasonProhibitedCombination {
		t.Fatalf("expected only PROHIBITED_COMBINATION, got %v", reasons(findings))
	}
	if findings[0].Details != *rule.ProhibitionReason {
		t.Errorf("expected the configured prohibition reason, got %q", findings[0].Details)
	}
}

func TestEvaluate_SupervisionRequired(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rule := strictRule()
	rule.SupervisionRequired = true

	findings := Evaluate(readyNote(serviceDate), rule, false, 90, serviceDate.AddDate(0, 0, 5))
	if !hasReason(findings, ReasonSupervisionRequired) {
		t.Errorf("expected SUPERVISION_REQUIRED, got %v", reasons(findings))
	}

	findings = Evaluate(readyNote(serviceDate), rule, true, 90, serviceDate.AddDate(0, 0, 5))
	if len(findings) != 0 {
		t.Errorf("expected no findings for supervised clinician, got %v", reasons(findings))
	}
}

func TestEvaluate_CosignPendingWithinWindow(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	note := readyNote(serviceDate)
	rule := strictRule()
	rule.CosignRequired = true
	rule.CosignTimeframeDays = intPtr(7)

	// two days after signing
	now := note.SignedAt.AddDate(0, 0, 2)
	findings := Evaluate(note, rule, false, 90, now)
	if len(findings) != 1 || findings[0].Reason != ReasonCosignRequired {
		t.Errorf("expected only COSIGN_REQUIRED, got %v", reasons(findings))
	}
}

func TestEvaluate_CosignOverdueSupersedes(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	note := readyNote(serviceDate)
	rule := strictRule()
	rule.CosignRequired = true
	rule.CosignTimeframeDays = intPtr(7)

	// ten days after signing: overdue, and never both reasons at once
	now := note.SignedAt.AddDate(0, 0, 10)
	findings := Evaluate(note, rule, false, 90, now)
	if len(findings) != 1 || findings[0].Reason != ReasonCosignOverdue {
		t.Errorf("expected only COSIGN_OVERDUE, got %v", reasons(findings))
	}
	if hasReason(findings, ReasonCosignRequired) {
		t.Error("COSIGN_REQUIRED and COSIGN_OVERDUE must be mutually exclusive")
	}
}

func TestEvaluate_CosignSatisfied(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	note := readyNote(serviceDate)
	note.CosignedAt = timePtr(note.SignedAt.Add(48 * time.Hour))
	rule := strictRule()
	rule.CosignRequired = true
	rule.CosignTimeframeDays = intPtr(7)

	findings := Evaluate(note, rule, false, 90, note.SignedAt.AddDate(0, 0, 30))
	if len(findings) != 0 {
		t.Errorf("expected no findings once cosigned, got %v", reasons(findings))
	}
}

func TestEvaluate_NoteOverdue(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	note := readyNote(serviceDate)
	note.SignedAt = nil
	rule := strictRule()
	rule.NoteCompletionDays = intPtr(3)

	findings := Evaluate(note, rule, false, 90, serviceDate.AddDate(0, 0, 5))
	if !hasReason(findings, ReasonNotSigned) || !hasReason(findings, ReasonNoteOverdue) {
		t.Errorf("expected NOT_SIGNED and NOTE_OVERDUE, got %v", reasons(findings))
	}

	// within the window only NOT_SIGNED applies
	findings = Evaluate(note, rule, false, 90, serviceDate.AddDate(0, 0, 2))
	if hasReason(findings, ReasonNoteOverdue) {
		t.Errorf("note not yet overdue, got %v", reasons(findings))
	}
}

func TestEvaluate_TreatmentPlanStale(t *testing.T) {
	serviceDate := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	now := serviceDate.AddDate(0, 0, 2)
	rule := strictRule()

	// plan updated 91 days before the date of service
	note := readyNote(serviceDate)
	note.TreatmentPlanUpdatedAt = timePtr(serviceDate.AddDate(0, 0, -91))
	findings := Evaluate(note, rule, false, 90, now)
	if !hasReason(findings, ReasonTreatmentPlanStale) {
		t.Errorf("expected TREATMENT_PLAN_STALE, got %v", reasons(findings))
	}

	// exactly on the window boundary is fresh
	note.TreatmentPlanUpdatedAt = timePtr(serviceDate.AddDate(0, 0, -90))
	findings = Evaluate(note, rule, false, 90, now)
	if hasReason(findings, ReasonTreatmentPlanStale) {
		t.Errorf("plan on the boundary must count as fresh, got %v", reasons(findings))
	}

	// no plan on file fails closed
	note.TreatmentPlanUpdatedAt = nil
	findings = Evaluate(note, rule, false, 90, now)
	if !hasReason(findings, ReasonTreatmentPlanStale) {
		t.Errorf("missing plan must be stale, got %v", reasons(findings))
	}

	// a shorter configured window tightens the check
	note.TreatmentPlanUpdatedAt = timePtr(serviceDate.AddDate(0, 0, -45))
	findings = Evaluate(note, rule, false, 30, now)
	if !hasReason(findings, ReasonTreatmentPlanStale) {
		t.Errorf("expected stale under a 30 day window, got %v", reasons(findings))
	}
}

func TestEvaluate_MedicalNecessityThreshold(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	now := serviceDate.AddDate(0, 0, 5)
	rule := strictRule()

	note := readyNote(serviceDate)
	note.MedicalNecessity = strPtr(strings.Repeat("x", 49))
	findings := Evaluate(note, rule, false, 90, now)
	if !hasReason(findings, ReasonMedicalNecessityMissing) {
		t.Errorf("49 characters must fail, got %v", reasons(findings))
	}

	note.MedicalNecessity = strPtr(strings.Repeat("x", 50))
	findings = Evaluate(note, rule, false, 90, now)
	if hasReason(findings, ReasonMedicalNecessityMissing) {
		t.Errorf("50 characters must pass, got %v", reasons(findings))
	}

	// whitespace does not count toward the minimum
	note.MedicalNecessity = strPtr("  " + strings.Repeat("x", 49) + "  ")
	findings = Evaluate(note, rule, false, 90, now)
	if !hasReason(findings, ReasonMedicalNecessityMissing) {
		t.Errorf("padded 49 characters must fail, got %v", reasons(findings))
	}
}

func TestEvaluate_PriorAuthRequired(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	note := readyNote(serviceDate)
	note.PriorAuthNumber = nil

	findings := Evaluate(note, strictRule(), false, 90, serviceDate.AddDate(0, 0, 5))
	if len(findings) != 1 || findings[0].Reason != ReasonPriorAuthRequired {
		t.Errorf("expected only PRIOR_AUTH_REQUIRED, got %v", reasons(findings))
	}
}

func TestEvaluate_AccumulatesIndependentFindings(t *testing.T) {
	serviceDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	note := readyNote(serviceDate)
	note.DiagnosisCode = nil
	note.PriorAuthNumber = nil
	note.MedicalNecessity = nil

	findings := Evaluate(note, strictRule(), false, 90, serviceDate.AddDate(0, 0, 5))
	if len(findings) != 3 {
		t.Fatalf("expected 3 findings, got %v", reasons(findings))
	}
	for _, want := range []HoldReason{ReasonMissingDiagnosis, ReasonMedicalNecessityMissing, ReasonPriorAuthRequired} {
		if !hasReason(findings, want) {
			t.Errorf("expected %s in %v", want, reasons(findings))
		}
	}
}
