package patient

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk/internal/platform/search"
)

var ErrNotFound = errors.New("patient not found")

// Patient is a registration record. PatientID is the clinic-issued number
// printed on cards and typed into search boxes; ID is the row key.
type Patient struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  string    `db:"patient_id" json:"patient_id"`
	FirstName  string    `db:"first_name" json:"first_name"`
	MiddleName *string   `db:"middle_name" json:"middle_name,omitempty"`
	LastName   *string   `db:"last_name" json:"last_name,omitempty"`
	Contact    *string   `db:"contact" json:"contact,omitempty"`
	Gender     *string   `db:"gender" json:"gender,omitempty"`
	DoctorID   *string   `db:"doctor_id" json:"doctor_id,omitempty"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Candidate is the view of the patient the ranker scores.
func (p *Patient) Candidate() search.Candidate {
	attrs := map[string]string{"id": p.ID.String()}
	if p.DoctorID != nil {
		attrs["doctor_id"] = *p.DoctorID
	}
	if p.Gender != nil {
		attrs["gender"] = *p.Gender
	}
	return search.Candidate{
		ID:         p.PatientID,
		FirstName:  p.FirstName,
		MiddleName: deref(p.MiddleName),
		LastName:   deref(p.LastName),
		Contact:    deref(p.Contact),
		Attributes: attrs,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
