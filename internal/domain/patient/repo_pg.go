package patient

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/frontdesk/internal/platform/db"
	"github.com/clinicdesk/frontdesk/internal/platform/textnorm"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, patient_id, first_name, middle_name, last_name, contact, gender,
	doctor_id, active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientID, &p.FirstName, &p.MiddleName, &p.LastName, &p.Contact, &p.Gender,
		&p.DoctorID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, patient_id, first_name, middle_name, last_name, contact, gender, doctor_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.FirstName, p.MiddleName, p.LastName, p.Contact, p.Gender, p.DoctorID, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE lower(patient_id) = lower($1)`, patientID))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			first_name = $2, middle_name = $3, last_name = $4, contact = $5, gender = $6,
			doctor_id = $7, active = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.MiddleName, p.LastName, p.Contact, p.Gender, p.DoctorID, p.Active,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY first_name, last_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients, err := collect(rows)
	return patients, total, err
}

// The pool query over-fetches: ranking re-applies the exact predicate, so the
// SQL only has to avoid missing a record. The LIMIT cuts before ranking, so
// exact and prefix id hits and name prefix hits sort ahead of recency.
const candidateQuery = `SELECT ` + patientCols + ` FROM patient
	WHERE active AND (
		patient_id ILIKE $1
		OR first_name ILIKE $1
		OR middle_name ILIKE $1
		OR last_name ILIKE $1
		OR concat_ws(' ', first_name, middle_name, last_name) ILIKE $1
		OR concat_ws(' ', first_name, last_name) ILIKE $1
		OR concat_ws(' ', last_name, first_name) ILIKE $1
		OR ($2 <> '' AND regexp_replace(coalesce(contact, ''), '[^0-9]', '', 'g') LIKE '%' || $2 || '%')
	)
	ORDER BY
		lower(patient_id) = lower($4) DESC,
		patient_id ILIKE $5 DESC,
		(first_name ILIKE $5 OR coalesce(last_name, '') ILIKE $5) DESC,
		updated_at DESC
	LIMIT $3`

func (r *patientRepoPG) FetchCandidates(ctx context.Context, term string, limit int) ([]*Patient, error) {
	digits := textnorm.Digits(term)
	if len(digits) < 3 {
		digits = ""
	}
	term = strings.TrimSpace(term)
	rows, err := r.conn(ctx).Query(ctx, candidateQuery, likePattern(term), digits, limit, term, prefixPattern(term))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Patient, error) {
	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern wraps term for a substring ILIKE with wildcards in term escaped.
func likePattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

func prefixPattern(term string) string {
	return likeEscaper.Replace(term) + "%"
}
