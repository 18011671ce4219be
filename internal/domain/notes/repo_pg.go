package notes

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

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

type snapshotRepoPG struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepoPG returns a Postgres-backed note snapshot reader.
func NewSnapshotRepoPG(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepoPG{pool: pool}
}

const snapshotQuery = `
	SELECT n.id, n.client_id, n.clinician_id, n.payer_id,
		n.clinician_credential, n.place_of_service, n.service_type, n.service_date,
		n.signed_at, n.cosigned_at, n.diagnosis_code, n.medical_necessity, n.prior_auth_number,
		cl.treatment_plan_updated_at,
		cl.display_name, u.display_name
	FROM clinical_notes n
	JOIN clients cl ON cl.id = n.client_id
	JOIN clinicians u ON u.id = n.clinician_id`

func scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	err := row.Scan(
		&s.ID, &s.ClientID, &s.ClinicianID, &s.PayerID,
		&s.ClinicianCredential, &s.PlaceOfService, &s.ServiceType, &s.ServiceDate,
		&s.SignedAt, &s.CosignedAt, &s.DiagnosisCode, &s.MedicalNecessity, &s.PriorAuthNumber,
		&s.TreatmentPlanUpdatedAt,
		&s.ClientName, &s.ClinicianName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *snapshotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	query := snapshotQuery + ` WHERE n.id = $1`
	return scanSnapshot(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *snapshotRepoPG) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*Snapshot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := snapshotQuery + ` WHERE n.id = ANY($1)`
	rows, err := conn(ctx, r.pool).Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(snapshots) != len(ids) {
		return snapshots, fmt.Errorf("%d of %d notes found", len(snapshots), len(ids))
	}
	return snapshots, nil
}

type supervisionRepoPG struct {
	pool *pgxpool.Pool
}

// NewSupervisionRepoPG returns a Postgres-backed supervision lookup.
func NewSupervisionRepoPG(pool *pgxpool.Pool) SupervisionRepository {
	return &supervisionRepoPG{pool: pool}
}

func (r *supervisionRepoPG) HasActiveSupervision(ctx context.Context, clinicianID uuid.UUID, asOf time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM supervision_relationships
			WHERE supervisee_id = $1
			  AND start_date <= $2
			  AND (end_date IS NULL OR end_date >= $2)
		)`
	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, query, clinicianID, asOf).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
