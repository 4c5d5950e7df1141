package admission

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/frontdesk/internal/platform/db"
)

const (
	uniqueViolation    = "23505"
	activePatientIndex = "idx_admission_active_patient"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type admissionRepoPG struct{ pool *pgxpool.Pool }

func NewAdmissionRepoPG(pool *pgxpool.Pool) AdmissionRepository {
	return &admissionRepoPG{pool: pool}
}

func (r *admissionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const admissionCols = `id, admission_no, patient_id, first_name, middle_name, last_name, contact,
	ward, bed, admitted_at, discharged_at`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.AdmissionNo, &a.PatientID, &a.FirstName, &a.MiddleName, &a.LastName, &a.Contact,
		&a.Ward, &a.Bed, &a.AdmittedAt, &a.DischargedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *admissionRepoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission (id, admission_no, patient_id, first_name, middle_name, last_name, contact, ward, bed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING admitted_at`,
		a.ID, a.AdmissionNo, a.PatientID, a.FirstName, a.MiddleName, a.LastName, a.Contact, a.Ward, a.Bed,
	).Scan(&a.AdmittedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activePatientIndex {
		return ErrAlreadyAdmitted
	}
	return err
}

func (r *admissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admission WHERE id = $1`, id))
}

func (r *admissionRepoPG) ListActive(ctx context.Context) ([]*Admission, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+admissionCols+` FROM admission
		WHERE discharged_at IS NULL ORDER BY admitted_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Discharge stamps an active admission. A missing or already discharged
// admission reports ErrNotFound.
func (r *admissionRepoPG) Discharge(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx, `
		UPDATE admission SET discharged_at = NOW()
		WHERE id = $1 AND discharged_at IS NULL
		RETURNING `+admissionCols, id))
}
