package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagecare/sagecare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type holdRepoPG struct {
	pool *pgxpool.Pool
}

// NewHoldRepoPG returns a Postgres-backed hold repository.
func NewHoldRepoPG(pool *pgxpool.Pool) HoldRepository {
	return &holdRepoPG{pool: pool}
}

func (r *holdRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const holdCols = `id, note_id, hold_reason, hold_details, placed_at, placed_by,
	is_active, resolved_at, resolved_by, created_at, updated_at`

func scanHold(row pgx.Row) (*Hold, error) {
	var h Hold
	err := row.Scan(
		&h.ID, &h.NoteID, &h.Reason, &h.Details, &h.PlacedAt, &h.PlacedBy,
		&h.IsActive, &h.ResolvedAt, &h.ResolvedBy, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *holdRepoPG) Create(ctx context.Context, h *Hold) error {
	h.ID = uuid.New()
	h.IsActive = true
	query := fmt.Sprintf(`
		INSERT INTO billing_holds (%s)
		VALUES ($1, $2, $3, $4, NOW(), $5, TRUE, NULL, NULL, NOW(), NOW())
		RETURNING placed_at, created_at, updated_at`, holdCols)

	return r.conn(ctx).QueryRow(ctx, query,
		h.ID, h.NoteID, h.Reason, h.Details, h.PlacedBy,
	).Scan(&h.PlacedAt, &h.CreatedAt, &h.UpdatedAt)
}

func (r *holdRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hold, error) {
	query := fmt.Sprintf(`SELECT %s FROM billing_holds WHERE id = $1`, holdCols)
	return scanHold(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *holdRepoPG) ActiveByNote(ctx context.Context, noteID uuid.UUID) ([]*Hold, error) {
	query := fmt.Sprintf(`SELECT %s FROM billing_holds WHERE note_id = $1 AND is_active ORDER BY placed_at`, holdCols)
	rows, err := r.conn(ctx).Query(ctx, query, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []*Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func (r *holdRepoPG) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string) error {
	query := `
		UPDATE billing_holds
		SET is_active = FALSE, resolved_at = NOW(), resolved_by = $2, updated_at = NOW()
		WHERE id = $1 AND is_active`
	tag, err := r.conn(ctx).Exec(ctx, query, id, resolvedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *holdRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM billing_holds WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *holdRepoPG) List(ctx context.Context, f HoldFilter, limit, offset int) ([]*HoldWithNote, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argPos := 1

	switch f.Status {
	case "active":
		where += " AND h.is_active"
	case "resolved":
		where += " AND NOT h.is_active"
	}
	if f.NoteID != uuid.Nil {
		where += fmt.Sprintf(" AND h.note_id = $%d", argPos)
		args = append(args, f.NoteID)
		argPos++
	}
	if f.Reason != "" {
		where += fmt.Sprintf(" AND h.hold_reason = $%d", argPos)
		args = append(args, f.Reason)
		argPos++
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM billing_holds h %s`, where)
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT h.id, h.note_id, h.hold_reason, h.hold_details, h.placed_at, h.placed_by,
			h.is_active, h.resolved_at, h.resolved_by, h.created_at, h.updated_at,
			cl.display_name, u.display_name, n.service_date
		FROM billing_holds h
		JOIN clinical_notes n ON n.id = h.note_id
		JOIN clients cl ON cl.id = n.client_id
		JOIN clinicians u ON u.id = n.clinician_id
		%s
		ORDER BY h.placed_at DESC
		LIMIT $%d OFFSET $%d`, where, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var holds []*HoldWithNote
	for rows.Next() {
		var h HoldWithNote
		err := rows.Scan(
			&h.ID, &h.NoteID, &h.Reason, &h.Details, &h.PlacedAt, &h.PlacedBy,
			&h.IsActive, &h.ResolvedAt, &h.ResolvedBy, &h.CreatedAt, &h.UpdatedAt,
			&h.ClientName, &h.ClinicianName, &h.ServiceDate,
		)
		if err != nil {
			return nil, 0, err
		}
		holds = append(holds, &h)
	}
	return holds, total, rows.Err()
}

func (r *holdRepoPG) ActiveCount(ctx context.Context) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM billing_holds WHERE is_active`).Scan(&count)
	return count, err
}

func (r *holdRepoPG) CountByReason(ctx context.Context) ([]ReasonCount, error) {
	query := `
		SELECT hold_reason, COUNT(*)
		FROM billing_holds
		WHERE is_active
		GROUP BY hold_reason
		ORDER BY COUNT(*) DESC`
	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []ReasonCount
	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, rc)
	}
	return counts, rows.Err()
}
