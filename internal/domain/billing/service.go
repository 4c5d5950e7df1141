package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk/internal/platform/db"
	"github.com/clinicdesk/frontdesk/internal/platform/reconcile"
	"github.com/clinicdesk/frontdesk/internal/platform/textnorm"
)

// ErrInvalid marks errors caused by the request rather than the backend.
var ErrInvalid = errors.New("invalid billing request")

type Service struct {
	catalog CatalogRepository
	billed  BilledItemRepository
	store   SelectionStore
	tx      db.TxRunner
	logger  zerolog.Logger
}

func NewService(catalog CatalogRepository, billed BilledItemRepository, store SelectionStore, tx db.TxRunner, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx
	}
	return &Service{
		catalog: catalog,
		billed:  billed,
		store:   store,
		tx:      tx,
		logger:  logger.With().Str("component", "billing").Logger(),
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (s *Service) ListCatalog(ctx context.Context) ([]*CatalogItem, error) {
	return s.catalog.ListActive(ctx)
}

// ImportCatalog upserts items in one transaction so a bad file never leaves
// the price list half updated.
func (s *Service) ImportCatalog(ctx context.Context, items []*CatalogItem) (int, error) {
	if len(items) == 0 {
		return 0, invalid("catalog is empty")
	}
	err := s.tx(ctx, func(ctx context.Context) error {
		for _, it := range items {
			if err := s.catalog.Upsert(ctx, it); err != nil {
				return fmt.Errorf("upsert catalog item %s: %w", it.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int("items", len(items)).Msg("catalog imported")
	return len(items), nil
}

// RecordBilledItem posts a charge against a visit.
func (s *Service) RecordBilledItem(ctx context.Context, item *BilledItem) error {
	item.VisitID = strings.TrimSpace(item.VisitID)
	switch {
	case item.VisitID == "":
		return invalid("visit_id is required")
	case strings.TrimSpace(item.GroupName) == "":
		return invalid("group is required")
	case strings.TrimSpace(item.DetailName) == "":
		return invalid("detail is required")
	case item.Amount < 0:
		return invalid("amount must not be negative")
	}
	if err := s.billed.Create(ctx, item); err != nil {
		return fmt.Errorf("record billed item: %w", err)
	}
	return nil
}

// PrepareSelection folds the charges already billed for a visit into its
// stored selection. Billed lines are matched to catalog lines by their
// normalized group, subgroup and detail names. When nothing matched and the
// visit has no selection yet, the caller's preselected ids are used instead.
// A known visit type then settles which professional-fee line applies.
func (s *Service) PrepareSelection(ctx context.Context, req PrepareRequest) (*Selection, error) {
	visitID := strings.TrimSpace(req.VisitID)
	if visitID == "" {
		return nil, invalid("visit_id is required")
	}

	catalog, err := s.catalog.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	billed, err := s.billed.ListByVisit(ctx, visitID)
	if err != nil {
		return nil, fmt.Errorf("load billed items: %w", err)
	}
	sel, err := s.store.Get(ctx, visitID)
	if err != nil {
		return nil, fmt.Errorf("load selection: %w", err)
	}

	master := catalogRecords(catalog)
	res := reconcile.Reconcile(master, billedRecords(billed))
	sel = reconcile.ApplyPreselect(sel, res, textnorm.Unique(req.PreselectedIDs))
	if req.FollowUp != nil {
		sel = ProfessionalFees.Apply(sel, master, *req.FollowUp)
	}

	if err := s.store.Save(ctx, visitID, sel); err != nil {
		return nil, fmt.Errorf("save selection: %w", err)
	}

	unmatched := unmatchedItems(billed, res.UnmatchedB)
	for _, u := range unmatched {
		s.logger.Warn().
			Str("visit_id", visitID).
			Str("billed_item", u.ID.String()).
			Str("group", u.GroupName).
			Str("subgroup", u.SubgroupName).
			Str("detail", u.DetailName).
			Msg("billed item has no catalog match")
	}
	s.logger.Debug().
		Str("visit_id", visitID).
		Int("billed", len(billed)).
		Int("matched", len(res.MatchedIDs)).
		Int("selected", sel.Len()).
		Msg("selection prepared")

	out := newSelection(visitID, sel, catalog)
	out.Matched = res.MatchedIDs
	out.Unmatched = unmatched
	return out, nil
}

func (s *Service) GetSelection(ctx context.Context, visitID string) (*Selection, error) {
	visitID = strings.TrimSpace(visitID)
	if visitID == "" {
		return nil, invalid("visit_id is required")
	}
	sel, err := s.store.Get(ctx, visitID)
	if err != nil {
		return nil, fmt.Errorf("load selection: %w", err)
	}
	catalog, err := s.catalog.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return newSelection(visitID, sel, catalog), nil
}

// ReplaceSelection overwrites the visit's selection with ids, every one of
// which must be an active catalog line.
func (s *Service) ReplaceSelection(ctx context.Context, visitID string, ids []string) (*Selection, error) {
	visitID = strings.TrimSpace(visitID)
	if visitID == "" {
		return nil, invalid("visit_id is required")
	}
	catalog, err := s.catalog.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	known := make(map[string]bool, len(catalog))
	for _, it := range catalog {
		known[it.ID] = true
	}
	sel := reconcile.NewSelectionSet(ids...)
	var unknown []string
	for _, id := range sel.IDs() {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, invalid("unknown catalog items: %s", strings.Join(unknown, ", "))
	}

	if err := s.store.Save(ctx, visitID, sel); err != nil {
		return nil, fmt.Errorf("save selection: %w", err)
	}
	return newSelection(visitID, sel, catalog), nil
}

func (s *Service) ClearSelection(ctx context.Context, visitID string) error {
	visitID = strings.TrimSpace(visitID)
	if visitID == "" {
		return invalid("visit_id is required")
	}
	return s.store.Delete(ctx, visitID)
}

// newSelection resolves selected ids against the catalog. Ids that are not
// active catalog lines stay selected but carry no item and no amount.
func newSelection(visitID string, sel reconcile.SelectionSet, catalog []*CatalogItem) *Selection {
	byID := make(map[string]*CatalogItem, len(catalog))
	for _, it := range catalog {
		byID[it.ID] = it
	}
	out := &Selection{
		VisitID:   visitID,
		Selected:  sel,
		Items:     []CatalogItem{},
		Matched:   []string{},
		Unmatched: []BilledItem{},
	}
	for _, id := range sel.IDs() {
		if it, ok := byID[id]; ok {
			out.Items = append(out.Items, *it)
			out.TotalAmount += it.Amount
		}
	}
	return out
}

func unmatchedItems(billed []*BilledItem, recs []reconcile.Record) []BilledItem {
	byID := make(map[string]*BilledItem, len(billed))
	for _, b := range billed {
		byID[b.ID.String()] = b
	}
	out := make([]BilledItem, 0, len(recs))
	for _, r := range recs {
		if b, ok := byID[r.ID]; ok {
			out = append(out, *b)
		}
	}
	return out
}
