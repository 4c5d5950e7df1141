package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk/internal/platform/reconcile"
	"github.com/clinicdesk/frontdesk/internal/platform/search"
)

type Service struct {
	repo        AdmissionRepository
	logger      zerolog.Logger
	rosterLimit int
	now         func() time.Time
}

// NewService caps roster search results at rosterLimit; zero or less disables the cap.
func NewService(repo AdmissionRepository, logger zerolog.Logger, rosterLimit int) *Service {
	return &Service{
		repo:        repo,
		logger:      logger.With().Str("component", "admission").Logger(),
		rosterLimit: rosterLimit,
		now:         time.Now,
	}
}

// Admit opens a stay. A patient id already on the active roster is refused.
func (s *Service) Admit(ctx context.Context, a *Admission) error {
	if err := validate(a); err != nil {
		return err
	}

	roster, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	res := reconcile.Reconcile(identityRecords(roster), []reconcile.Record{identityRecord(a)})
	if len(res.MatchedIDs) > 0 {
		return fmt.Errorf("%w: %s (admission %s)", ErrAlreadyAdmitted, a.PatientID, res.MatchedIDs[0])
	}

	if a.AdmissionNo == "" {
		a.AdmissionNo = s.admissionNo()
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrAlreadyAdmitted) {
			return fmt.Errorf("%w: %s", ErrAlreadyAdmitted, a.PatientID)
		}
		return fmt.Errorf("create admission: %w", err)
	}
	s.logger.Info().
		Str("admission_no", a.AdmissionNo).
		Str("patient_id", a.PatientID).
		Str("ward", a.Ward).
		Msg("patient admitted")
	return nil
}

func (s *Service) admissionNo() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ADM-%s-%s", s.now().Format("060102"), suffix)
}

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListActive(ctx context.Context) ([]*Admission, error) {
	return s.repo.ListActive(ctx)
}

func (s *Service) Discharge(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := s.repo.Discharge(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("admission_no", a.AdmissionNo).Str("patient_id", a.PatientID).Msg("patient discharged")
	return a, nil
}

// SearchRoster ranks the active roster against q for the discharge-card lookup.
// The roster is small enough to rank whole, so no pre-filtering happens.
func (s *Service) SearchRoster(ctx context.Context, q string) ([]search.Result, error) {
	query := search.ParseQuery(q)
	if query.Empty() {
		return []search.Result{}, nil
	}
	roster, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	candidates := make([]search.Candidate, len(roster))
	for i, a := range roster {
		candidates[i] = a.Candidate()
	}
	results := search.RankResults(query, candidates)
	if s.rosterLimit > 0 && len(results) > s.rosterLimit {
		results = results[:s.rosterLimit]
	}
	return results, nil
}

// ReconcileCensus checks a ward census sheet against the active roster.
// Lines that describe an admitted patient add that admission's id to sel;
// the rest are reported back and logged.
func (s *Service) ReconcileCensus(ctx context.Context, sel reconcile.SelectionSet, census []CensusEntry) (*CensusReport, error) {
	roster, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	master := make([]reconcile.Record, len(roster))
	for i, a := range roster {
		master[i] = a.Record()
	}
	// Lines are keyed by position; refs are free text and may repeat.
	lines := make([]reconcile.Record, len(census))
	for i, e := range census {
		lines[i] = e.record(i)
	}

	res := reconcile.Reconcile(master, lines)
	report := &CensusReport{
		Selected:  sel.Merge(res.MatchedIDs...),
		Matched:   res.MatchedIDs,
		Unmatched: make([]CensusEntry, 0, len(res.UnmatchedB)),
	}
	for _, rec := range res.UnmatchedB {
		i, err := strconv.Atoi(rec.ID)
		if err != nil || i < 0 || i >= len(census) {
			return nil, fmt.Errorf("census line %q out of range", rec.ID)
		}
		e := census[i]
		report.Unmatched = append(report.Unmatched, e)
		s.logger.Warn().
			Str("ref", e.ref(i)).
			Str("patient_id", e.PatientID).
			Str("first_name", e.FirstName).
			Str("last_name", e.LastName).
			Msg("census line has no active admission")
	}
	return report, nil
}

func identityRecord(a *Admission) reconcile.Record {
	return reconcile.NewRecord(a.ID.String(), a.PatientID)
}

func identityRecords(roster []*Admission) []reconcile.Record {
	out := make([]reconcile.Record, len(roster))
	for i, a := range roster {
		out[i] = identityRecord(a)
	}
	return out
}

func validate(a *Admission) error {
	a.PatientID = strings.TrimSpace(a.PatientID)
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.Ward = strings.TrimSpace(a.Ward)
	if a.PatientID == "" {
		return fmt.Errorf("%w: patient_id is required", ErrInvalid)
	}
	if a.FirstName == "" {
		return fmt.Errorf("%w: first_name is required", ErrInvalid)
	}
	if a.Ward == "" {
		return fmt.Errorf("%w: ward is required", ErrInvalid)
	}
	return nil
}
