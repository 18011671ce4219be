package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sagecare/sagecare/internal/domain/notes"
	"github.com/sagecare/sagecare/internal/platform/db"
)

// systemActor stamps holds placed or resolved by reconciliation rather than
// a person.
const systemActor = "system"

// TxRunner executes fn inside a database transaction. Abstracted so service
// tests can run without a pool.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// PoolTxRunner runs transactions against the tenant connection or pool.
func PoolTxRunner(pool *pgxpool.Pool) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}
}

// Service evaluates note readiness and manages the resulting billing holds.
type Service struct {
	holds        HoldRepository
	snapshots    notes.SnapshotRepository
	supervisions notes.SupervisionRepository
	rules        RuleSource
	resolver     *Resolver
	tx           TxRunner
	staleDays    int
	logger       zerolog.Logger
}

func NewService(
	holds HoldRepository,
	snapshots notes.SnapshotRepository,
	supervisions notes.SupervisionRepository,
	rules RuleSource,
	tx TxRunner,
	staleDays int,
	logger zerolog.Logger,
) *Service {
	if staleDays <= 0 {
		staleDays = DefaultTreatmentPlanStaleDays
	}
	return &Service{
		holds:        holds,
		snapshots:    snapshots,
		supervisions: supervisions,
		rules:        rules,
		resolver:     NewResolver(rules, logger),
		tx:           tx,
		staleDays:    staleDays,
		logger:       logger,
	}
}

func (s *Service) getSnapshot(ctx context.Context, noteID uuid.UUID) (*notes.Snapshot, error) {
	note, err := s.snapshots.GetByID(ctx, noteID)
	if err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}
	return note, nil
}

// evaluate resolves the governing rule and runs the readiness checklist.
func (s *Service) evaluate(ctx context.Context, note *notes.Snapshot, now time.Time) ([]Finding, *uuid.UUID, error) {
	rule, err := s.resolver.Resolve(ctx, note.PayerID, note.ClinicianCredential, note.PlaceOfService, note.ServiceType, note.ServiceDate)
	if err != nil {
		return nil, nil, err
	}

	supervised := false
	if rule != nil && rule.SupervisionRequired && !rule.IsProhibited {
		supervised, err = s.supervisions.HasActiveSupervision(ctx, note.ClinicianID, note.ServiceDate)
		if err != nil {
			return nil, nil, fmt.Errorf("supervision lookup: %w", err)
		}
	}

	findings := Evaluate(note, rule, supervised, s.staleDays, now)
	var ruleID *uuid.UUID
	if rule != nil {
		ruleID = &rule.ID
	}
	return findings, ruleID, nil
}

// ValidateNote evaluates a note and reconciles its holds to match the
// findings. Ready means no active holds remain.
func (s *Service) ValidateNote(ctx context.Context, noteID uuid.UUID) (*ValidationResult, error) {
	note, err := s.getSnapshot(ctx, noteID)
	if err != nil {
		return nil, err
	}
	findings, ruleID, err := s.evaluate(ctx, note, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.reconcile(ctx, noteID, findings); err != nil {
		return nil, err
	}
	return &ValidationResult{
		NoteID:   noteID,
		Ready:    len(findings) == 0,
		RuleID:   ruleID,
		Findings: findings,
	}, nil
}

// Reconcile brings the stored holds for a note in line with the given
// findings: missing holds are placed, holds for cleared findings are
// resolved, and holds whose finding persists are left untouched. Running the
// same findings twice is a no-op.
func (s *Service) Reconcile(ctx context.Context, noteID uuid.UUID, findings []Finding) error {
	if _, err := s.getSnapshot(ctx, noteID); err != nil {
		return err
	}
	for _, f := range findings {
		if !f.Reason.Valid() {
			return fmt.Errorf("unknown hold reason %q", f.Reason)
		}
	}
	return s.reconcile(ctx, noteID, findings)
}

func (s *Service) reconcile(ctx context.Context, noteID uuid.UUID, findings []Finding) error {
	return s.tx(ctx, func(ctx context.Context) error {
		active, err := s.holds.ActiveByNote(ctx, noteID)
		if err != nil {
			return fmt.Errorf("load active holds: %w", err)
		}

		wanted := make(map[HoldReason]Finding, len(findings))
		for _, f := range findings {
			wanted[f.Reason] = f
		}
		existing := make(map[HoldReason]bool, len(active))

		for _, h := range active {
			existing[h.Reason] = true
			if _, still := wanted[h.Reason]; !still {
				if err := s.holds.Resolve(ctx, h.ID, systemActor); err != nil {
					return fmt.Errorf("resolve hold %s: %w", h.ID, err)
				}
				s.logger.Info().
					Str("note_id", noteID.String()).
					Str("hold_id", h.ID.String()).
					Str("reason", string(h.Reason)).
					Msg("billing hold cleared")
			}
		}

		for reason, f := range wanted {
			if existing[reason] {
				continue
			}
			h := &Hold{
				NoteID:   noteID,
				Reason:   reason,
				Details:  f.Details,
				PlacedBy: systemActor,
			}
			if err := s.holds.Create(ctx, h); err != nil {
				return fmt.Errorf("place hold: %w", err)
			}
			s.logger.Info().
				Str("note_id", noteID.String()).
				Str("hold_id", h.ID.String()).
				Str("reason", string(reason)).
				Msg("billing hold placed")
		}
		return nil
	})
}

// ManualResolve deactivates a hold on a biller's say-so, recording who did it.
func (s *Service) ManualResolve(ctx context.Context, holdID uuid.UUID, resolvedBy string) (*Hold, error) {
	if resolvedBy == "" {
		resolvedBy = systemActor
	}
	if err := s.holds.Resolve(ctx, holdID, resolvedBy); err != nil {
		return nil, err
	}
	hold, err := s.holds.GetByID(ctx, holdID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("hold_id", holdID.String()).
		Str("resolved_by", resolvedBy).
		Str("reason", string(hold.Reason)).
		Msg("billing hold manually resolved")
	return hold, nil
}

// DeleteHold removes a hold outright. Resolution is the normal path; delete
// exists for administrative cleanup.
func (s *Service) DeleteHold(ctx context.Context, holdID uuid.UUID) error {
	return s.holds.Delete(ctx, holdID)
}

func (s *Service) GetHold(ctx context.Context, holdID uuid.UUID) (*Hold, error) {
	return s.holds.GetByID(ctx, holdID)
}

func (s *Service) ListHolds(ctx context.Context, f HoldFilter, limit, offset int) ([]*HoldWithNote, int, error) {
	if f.Reason != "" && !f.Reason.Valid() {
		return nil, 0, fmt.Errorf("unknown hold reason %q", f.Reason)
	}
	return s.holds.List(ctx, f, limit, offset)
}

func (s *Service) ActiveHoldCount(ctx context.Context) (int, error) {
	return s.holds.ActiveCount(ctx)
}

func (s *Service) HoldsByReason(ctx context.Context) ([]ReasonCount, error) {
	return s.holds.CountByReason(ctx)
}

// TestRule evaluates a specific rule against a set of notes without touching
// any holds, so a biller can preview a rule change before saving it.
func (s *Service) TestRule(ctx context.Context, ruleID uuid.UUID, noteIDs []uuid.UUID) ([]*ValidationResult, error) {
	if len(noteIDs) == 0 {
		return nil, fmt.Errorf("note_ids is required")
	}
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.snapshots.ListByIDs(ctx, noteIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]*ValidationResult, 0, len(snapshots))
	for _, note := range snapshots {
		supervised := false
		if rule.SupervisionRequired && !rule.IsProhibited {
			supervised, err = s.supervisions.HasActiveSupervision(ctx, note.ClinicianID, note.ServiceDate)
			if err != nil {
				return nil, fmt.Errorf("supervision lookup: %w", err)
			}
		}
		findings := Evaluate(note, rule, supervised, s.staleDays, now)
		results = append(results, &ValidationResult{
			NoteID:   note.ID,
			Ready:    len(findings) == 0,
			RuleID:   &rule.ID,
			Findings: findings,
		})
	}
	return results, nil
}
