package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByPatientID(ctx context.Context, patientID string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	// FetchCandidates returns active patients loosely matching term on the
	// identifier, any name part or the contact digits.
	FetchCandidates(ctx context.Context, term string, limit int) ([]*Patient, error)
}
