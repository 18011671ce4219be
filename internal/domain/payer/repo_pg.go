package payer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagecare/sagecare/internal/platform/db"
)

// queryable is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type ruleRepoPG struct {
	pool *pgxpool.Pool
}

// NewRuleRepoPG returns a Postgres-backed rule repository.
func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository {
	return &ruleRepoPG{pool: pool}
}

// conn prefers the transaction or tenant connection carried by the context.
func (r *ruleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const ruleCols = `id, payer_id, clinician_credential, place_of_service, service_type,
	supervision_required, cosign_required, cosign_timeframe_days, note_completion_days,
	diagnosis_required, treatment_plan_required, medical_necessity_required, prior_auth_required,
	is_prohibited, prohibition_reason, incident_to_billing_allowed, rendering_clinician_override,
	is_active, effective_date, termination_date, created_by, created_at, updated_at`

func scanRule(row pgx.Row) (*Rule, error) {
	var rule Rule
	err := row.Scan(
		&rule.ID, &rule.PayerID, &rule.ClinicianCredential, &rule.PlaceOfService, &rule.ServiceType,
		&rule.SupervisionRequired, &rule.CosignRequired, &rule.CosignTimeframeDays, &rule.NoteCompletionDays,
		&rule.DiagnosisRequired, &rule.TreatmentPlanRequired, &rule.MedicalNecessityRequired, &rule.PriorAuthRequired,
		&rule.IsProhibited, &rule.ProhibitionReason, &rule.IncidentToBillingAllowed, &rule.RenderingClinicianOverride,
		&rule.IsActive, &rule.EffectiveDate, &rule.TerminationDate, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepoPG) Create(ctx context.Context, rule *Rule) error {
	rule.ID = uuid.New()
	query := fmt.Sprintf(`
		INSERT INTO payer_rules (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, NOW(), NOW())
		RETURNING created_at, updated_at`, ruleCols)

	return r.conn(ctx).QueryRow(ctx, query,
		rule.ID, rule.PayerID, rule.ClinicianCredential, rule.PlaceOfService, rule.ServiceType,
		rule.SupervisionRequired, rule.CosignRequired, rule.CosignTimeframeDays, rule.NoteCompletionDays,
		rule.DiagnosisRequired, rule.TreatmentPlanRequired, rule.MedicalNecessityRequired, rule.PriorAuthRequired,
		rule.IsProhibited, rule.ProhibitionReason, rule.IncidentToBillingAllowed, rule.RenderingClinicianOverride,
		rule.IsActive, rule.EffectiveDate, rule.TerminationDate, rule.CreatedBy,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	query := fmt.Sprintf(`SELECT %s FROM payer_rules WHERE id = $1`, ruleCols)
	return scanRule(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *ruleRepoPG) Update(ctx context.Context, rule *Rule) error {
	query := `
		UPDATE payer_rules SET
			clinician_credential = $2, place_of_service = $3, service_type = $4,
			supervision_required = $5, cosign_required = $6, cosign_timeframe_days = $7,
			note_completion_days = $8, diagnosis_required = $9, treatment_plan_required = $10,
			medical_necessity_required = $11, prior_auth_required = $12,
			is_prohibited = $13, prohibition_reason = $14,
			incident_to_billing_allowed = $15, rendering_clinician_override = $16,
			is_active = $17, effective_date = $18, termination_date = $19,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.conn(ctx).QueryRow(ctx, query,
		rule.ID, rule.ClinicianCredential, rule.PlaceOfService, rule.ServiceType,
		rule.SupervisionRequired, rule.CosignRequired, rule.CosignTimeframeDays,
		rule.NoteCompletionDays, rule.DiagnosisRequired, rule.TreatmentPlanRequired,
		rule.MedicalNecessityRequired, rule.PriorAuthRequired,
		rule.IsProhibited, rule.ProhibitionReason,
		rule.IncidentToBillingAllowed, rule.RenderingClinicianOverride,
		rule.IsActive, rule.EffectiveDate, rule.TerminationDate,
	).Scan(&rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *ruleRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Rule, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argPos := 1

	if f.PayerID != uuid.Nil {
		where += fmt.Sprintf(" AND payer_id = $%d", argPos)
		args = append(args, f.PayerID)
		argPos++
	}
	if f.ClinicianCredential != "" {
		where += fmt.Sprintf(" AND clinician_credential = $%d", argPos)
		args = append(args, f.ClinicianCredential)
		argPos++
	}
	if f.PlaceOfService != "" {
		where += fmt.Sprintf(" AND place_of_service = $%d", argPos)
		args = append(args, f.PlaceOfService)
		argPos++
	}
	if f.ServiceType != "" {
		where += fmt.Sprintf(" AND service_type = $%d", argPos)
		args = append(args, f.ServiceType)
		argPos++
	}
	if f.ActiveOnly {
		where += " AND is_active = TRUE"
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM payer_rules %s`, where)
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM payer_rules %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		ruleCols, where, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		rules = append(rules, rule)
	}
	return rules, total, rows.Err()
}

func (r *ruleRepoPG) FindMatching(ctx context.Context, payerID uuid.UUID, credential, placeOfService, serviceType string, serviceDate time.Time) ([]*Rule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM payer_rules
		WHERE payer_id = $1
		  AND clinician_credential = $2
		  AND place_of_service = $3
		  AND service_type = $4
		  AND is_active = TRUE
		  AND effective_date <= $5
		  AND (termination_date IS NULL OR termination_date >= $5)
		ORDER BY created_at DESC`, ruleCols)

	rows, err := r.conn(ctx).Query(ctx, query, payerID, credential, placeOfService, serviceType, serviceDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *ruleRepoPG) Stats(ctx context.Context, payerID uuid.UUID) (*Stats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_prohibited),
			COUNT(*) FILTER (WHERE cosign_required),
			COUNT(*) FILTER (WHERE supervision_required),
			COUNT(*) FILTER (WHERE prior_auth_required)
		FROM payer_rules
		WHERE payer_id = $1`

	var s Stats
	err := r.conn(ctx).QueryRow(ctx, query, payerID).Scan(
		&s.Total, &s.Active, &s.Prohibited, &s.CosignRequired, &s.SupervisionRequired, &s.PriorAuthRequired,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
