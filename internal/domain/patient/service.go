package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk/internal/platform/search"
	"github.com/clinicdesk/frontdesk/internal/platform/textnorm"
)

var validGenders = map[string]bool{"male": true, "female": true, "other": true, "unknown": true}

type Service struct {
	repo     PatientRepository
	searcher *search.Searcher
	logger   zerolog.Logger
}

func NewService(repo PatientRepository, logger zerolog.Logger, opts ...search.Option) *Service {
	s := &Service{repo: repo, logger: logger.With().Str("component", "patient").Logger()}
	s.searcher = search.NewSearcher(s, s.logger, opts...)
	return s
}

// FetchCandidates adapts the repository to search.CandidateSource.
func (s *Service) FetchCandidates(ctx context.Context, term string, limit int) ([]search.Candidate, error) {
	patients, err := s.repo.FetchCandidates(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	out := make([]search.Candidate, len(patients))
	for i, p := range patients {
		out[i] = p.Candidate()
	}
	return out, nil
}

// SearchPatients ranks registered patients against a free-text query. An
// empty query yields an empty list.
func (s *Service) SearchPatients(ctx context.Context, q string) ([]search.Result, error) {
	results, err := s.searcher.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	return results, nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}
	existing, err := s.repo.GetByPatientID(ctx, p.PatientID)
	if err == nil && existing != nil {
		return fmt.Errorf("patient_id %s is already registered", p.PatientID)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("check patient_id: %w", err)
	}

	p.Active = true
	if err := s.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	s.logger.Info().Str("patient_id", p.PatientID).Msg("patient registered")
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetPatientByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	return s.repo.GetByPatientID(ctx, patientID)
}

// UpdatePatient replaces the editable fields. The patient id is immutable.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	current, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.PatientID == "" {
		p.PatientID = current.PatientID
	}
	if !textnorm.Equal(p.PatientID, current.PatientID) {
		return fmt.Errorf("patient_id cannot be changed")
	}
	if err := validate(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func validate(p *Patient) error {
	p.PatientID = strings.TrimSpace(p.PatientID)
	p.FirstName = strings.TrimSpace(p.FirstName)
	if p.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if p.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	if p.Contact != nil && strings.TrimSpace(*p.Contact) != "" {
		if n := len(textnorm.Digits(*p.Contact)); n < 7 || n > 15 {
			return fmt.Errorf("contact must have 7 to 15 digits, got %d", n)
		}
	}
	if p.Gender != nil && *p.Gender != "" {
		g := strings.ToLower(*p.Gender)
		if !validGenders[g] {
			return fmt.Errorf("gender must be one of male, female, other, unknown")
		}
		p.Gender = &g
	}
	return nil
}
