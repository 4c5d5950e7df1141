package admission

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk/internal/platform/reconcile"
	"github.com/clinicdesk/frontdesk/internal/platform/search"
)

var (
	ErrNotFound        = errors.New("admission not found")
	ErrInvalid         = errors.New("invalid admission")
	ErrAlreadyAdmitted = errors.New("patient already has an active admission")
)

// Admission is an in-patient stay. The patient's name and contact are copied
// from the registry at admission time so the ward card survives later edits.
type Admission struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	AdmissionNo  string     `db:"admission_no" json:"admission_no"`
	PatientID    string     `db:"patient_id" json:"patient_id"`
	FirstName    string     `db:"first_name" json:"first_name"`
	MiddleName   *string    `db:"middle_name" json:"middle_name,omitempty"`
	LastName     *string    `db:"last_name" json:"last_name,omitempty"`
	Contact      *string    `db:"contact" json:"contact,omitempty"`
	Ward         string     `db:"ward" json:"ward"`
	Bed          *string    `db:"bed" json:"bed,omitempty"`
	AdmittedAt   time.Time  `db:"admitted_at" json:"admitted_at"`
	DischargedAt *time.Time `db:"discharged_at" json:"discharged_at,omitempty"`
}

func (a *Admission) Active() bool { return a.DischargedAt == nil }

// Candidate is the view the discharge-card lookup ranks. The identifier is the
// patient id since that is what the desk types.
func (a *Admission) Candidate() search.Candidate {
	attrs := map[string]string{
		"id":           a.ID.String(),
		"admission_no": a.AdmissionNo,
		"ward":         a.Ward,
	}
	if a.Bed != nil {
		attrs["bed"] = *a.Bed
	}
	return search.Candidate{
		ID:         a.PatientID,
		FirstName:  a.FirstName,
		MiddleName: deref(a.MiddleName),
		LastName:   deref(a.LastName),
		Contact:    deref(a.Contact),
		Attributes: attrs,
	}
}

// Record is the admission as a census list describes it.
func (a *Admission) Record() reconcile.Record {
	return reconcile.NewRecord(a.ID.String(), a.PatientID, a.FirstName, deref(a.LastName))
}

// CensusEntry is one line of a ward census sheet. Ref is whatever the ward
// uses to point at the line; the position is used when it is blank.
type CensusEntry struct {
	Ref       string `json:"ref,omitempty"`
	PatientID string `json:"patient_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
}

// record carries the line's position as its id.
func (e CensusEntry) record(i int) reconcile.Record {
	return reconcile.NewRecord(strconv.Itoa(i), e.PatientID, e.FirstName, e.LastName)
}

func (e CensusEntry) ref(i int) string {
	if e.Ref == "" {
		return fmt.Sprintf("#%d", i+1)
	}
	return e.Ref
}

// CensusReport is the outcome of checking a census sheet against the roster.
type CensusReport struct {
	Selected  reconcile.SelectionSet `json:"selected"`
	Matched   []string               `json:"matched"`
	Unmatched []CensusEntry          `json:"unmatched"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
