package billing

import (
	"fmt"
	"time"

	"github.com/sagecare/sagecare/internal/domain/notes"
	"github.com/sagecare/sagecare/internal/domain/payer"
)

const (
	// minMedicalNecessityChars is the smallest trimmed justification length
	// that counts as documented medical necessity.
	minMedicalNecessityChars = 50

	// DefaultTreatmentPlanStaleDays is used when no staleness window is
	// configured.
	DefaultTreatmentPlanStaleDays = 90
)

// Evaluate runs the readiness checklist for one note against its governing
// rule. It is a pure function: all state, including the clock, comes in
// through the arguments.
//
// A nil rule yields only NO_MATCHING_RULE (plus NOT_SIGNED when applicable),
// and a prohibited rule stops the checklist at PROHIBITED_COMBINATION;
// documentation findings on a non-billable note would only be noise.
// An empty result means the note is ready to bill.
func Evaluate(note *notes.Snapshot, rule *payer.Rule, supervised bool, staleDays int, now time.Time) []Finding {
	if staleDays <= 0 {
		staleDays = DefaultTreatmentPlanStaleDays
	}
	findings := []Finding{}

	if !note.IsSigned() {
		findings = append(findings, Finding{
			Reason:  ReasonNotSigned,
			Details: "note has not been signed by the rendering clinician",
		})
	}

	if rule == nil {
		return append(findings, Finding{
			Reason: ReasonNoMatchingRule,
			Details: fmt.Sprintf("no billing rule configured for credential %s, place of service %s, service type %s",
				note.ClinicianCredential, note.PlaceOfService, note.ServiceType),
		})
	}

	if rule.IsProhibited {
		details := "payer does not reimburse this credential, place of service and service type combination"
		if rule.ProhibitionReason != nil && *rule.ProhibitionReason != "" {
			details = *rule.ProhibitionReason
		}
		return append(findings, Finding{Reason: ReasonProhibitedCombination, Details: details})
	}

	if rule.SupervisionRequired && !supervised {
		findings = append(findings, Finding{
			Reason:  ReasonSupervisionRequired,
			Details: "payer requires an active supervision relationship for this credential",
		})
	}

	// COSIGN_REQUIRED and COSIGN_OVERDUE are mutually exclusive; overdue
	// supersedes once the timeframe from signing has elapsed.
	if rule.CosignRequired && !note.IsCosigned() {
		overdue := false
		if note.IsSigned() && rule.CosignTimeframeDays != nil {
			deadline := note.SignedAt.AddDate(0, 0, *rule.CosignTimeframeDays)
			overdue = now.After(deadline)
		}
		if overdue {
			findings = append(findings, Finding{
				Reason: ReasonCosignOverdue,
				Details: fmt.Sprintf("cosignature still pending %d days after signing",
					*rule.CosignTimeframeDays),
			})
		} else {
			findings = append(findings, Finding{
				Reason:  ReasonCosignRequired,
				Details: "payer requires a supervisor cosignature before billing",
			})
		}
	}

	if rule.NoteCompletionDays != nil && !note.IsSigned() {
		deadline := note.ServiceDate.AddDate(0, 0, *rule.NoteCompletionDays)
		if now.After(deadline) {
			findings = append(findings, Finding{
				Reason: ReasonNoteOverdue,
				Details: fmt.Sprintf("note unsigned more than %d days after the date of service",
					*rule.NoteCompletionDays),
			})
		}
	}

	if rule.DiagnosisRequired && !note.HasDiagnosis() {
		findings = append(findings, Finding{
			Reason:  ReasonMissingDiagnosis,
			Details: "payer requires a diagnosis code on the note",
		})
	}

	// A client with no treatment plan on file fails closed as stale.
	if rule.TreatmentPlanRequired {
		stale := note.TreatmentPlanUpdatedAt == nil
		if !stale {
			cutoff := note.ServiceDate.AddDate(0, 0, -staleDays)
			stale = note.TreatmentPlanUpdatedAt.Before(cutoff)
		}
		if stale {
			findings = append(findings, Finding{
				Reason: ReasonTreatmentPlanStale,
				Details: fmt.Sprintf("treatment plan not updated within %d days of the date of service",
					staleDays),
			})
		}
	}

	if rule.MedicalNecessityRequired && note.MedicalNecessityLength() < minMedicalNecessityChars {
		findings = append(findings, Finding{
			Reason: ReasonMedicalNecessityMissing,
			Details: fmt.Sprintf("medical necessity justification must be at least %d characters",
				minMedicalNecessityChars),
		})
	}

	if rule.PriorAuthRequired && !note.HasPriorAuth() {
		findings = append(findings, Finding{
			Reason:  ReasonPriorAuthRequired,
			Details: "payer requires prior authorization for this service",
		})
	}

	return findings
}
