package admission

import (
	"context"

	"github.com/google/uuid"
)

type AdmissionRepository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	ListActive(ctx context.Context) ([]*Admission, error)
	Discharge(ctx context.Context, id uuid.UUID) (*Admission, error)
}
