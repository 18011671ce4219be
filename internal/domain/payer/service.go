package payer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sagecare/sagecare/internal/platform/db"
)

// TxRunner runs fn inside one database transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// PoolTxRunner runs transactions against the tenant connection or pool.
func PoolTxRunner(pool *pgxpool.Pool) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}
}

// Service owns validation and business rules for payer rule management.
type Service struct {
	rules  RuleRepository
	tx     TxRunner
	logger zerolog.Logger
}

func NewService(rules RuleRepository, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{rules: rules, tx: tx, logger: logger}
}

// validateRule enforces the field-level constraints shared by create and update.
func validateRule(r *Rule) error {
	if r.PayerID == uuid.Nil {
		return fmt.Errorf("payer_id is required")
	}
	if r.ClinicianCredential == "" {
		return fmt.Errorf("clinician_credential is required")
	}
	if r.PlaceOfService == "" {
		return fmt.Errorf("place_of_service is required")
	}
	if r.ServiceType == "" {
		return fmt.Errorf("service_type is required")
	}
	if r.EffectiveDate.IsZero() {
		return fmt.Errorf("effective_date is required")
	}
	if r.IsProhibited && (r.ProhibitionReason == nil || *r.ProhibitionReason == "") {
		return fmt.Errorf("prohibition_reason is required when is_prohibited is set")
	}
	if r.TerminationDate != nil && r.TerminationDate.Before(r.EffectiveDate) {
		return fmt.Errorf("termination_date must not precede effective_date")
	}
	if r.CosignTimeframeDays != nil && *r.CosignTimeframeDays < 0 {
		return fmt.Errorf("cosign_timeframe_days must not be negative")
	}
	if r.NoteCompletionDays != nil && *r.NoteCompletionDays < 0 {
		return fmt.Errorf("note_completion_days must not be negative")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, rule *Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	rule.IsActive = true
	if err := s.rules.Create(ctx, rule); err != nil {
		return err
	}
	s.logger.Info().
		Str("rule_id", rule.ID.String()).
		Str("payer_id", rule.PayerID.String()).
		Str("credential", rule.ClinicianCredential).
		Msg("payer rule created")
	return nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return s.rules.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Rule, int, error) {
	return s.rules.List(ctx, f, limit, offset)
}

// Update replaces the mutable fields of an existing rule. The payer binding
// is immutable; move a rule to another payer by cloning and deactivating.
func (s *Service) Update(ctx context.Context, id uuid.UUID, rule *Rule) (*Rule, error) {
	existing, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.ID = existing.ID
	rule.PayerID = existing.PayerID
	rule.CreatedBy = existing.CreatedBy
	rule.CreatedAt = existing.CreatedAt
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// Deactivate soft-deletes a rule so resolution stops matching it while the
// historical record survives.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Rule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive {
		return rule, nil
	}
	rule.IsActive = false
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.Info().Str("rule_id", rule.ID.String()).Msg("payer rule deactivated")
	return rule, nil
}

// Clone copies an existing rule under a new identity, for the edit-a-variant
// workflow. A nil targetPayerID keeps the source rule's payer; the copy starts
// active with today as its effective date unless an effective date is
// supplied.
func (s *Service) Clone(ctx context.Context, id, targetPayerID uuid.UUID, effectiveDate *time.Time, createdBy *uuid.UUID) (*Rule, error) {
	src, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if targetPayerID == uuid.Nil {
		targetPayerID = src.PayerID
	}

	clone := *src
	clone.PayerID = targetPayerID
	clone.IsActive = true
	clone.TerminationDate = nil
	clone.CreatedBy = createdBy
	if effectiveDate != nil {
		clone.EffectiveDate = *effectiveDate
	} else {
		clone.EffectiveDate = time.Now().UTC().Truncate(24 * time.Hour)
	}

	if err := s.rules.Create(ctx, &clone); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("source_rule_id", src.ID.String()).
		Str("rule_id", clone.ID.String()).
		Str("payer_id", targetPayerID.String()).
		Msg("payer rule cloned")
	return &clone, nil
}

func (s *Service) Stats(ctx context.Context, payerID uuid.UUID) (*Stats, error) {
	if payerID == uuid.Nil {
		return nil, fmt.Errorf("payer_id is required")
	}
	return s.rules.Stats(ctx, payerID)
}
