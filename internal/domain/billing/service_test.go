package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk/internal/platform/reconcile"
)

// -- Mock Catalog Repository --

type mockCatalogRepo struct {
	items     []*CatalogItem
	upsertErr error
	listErr   error
}

func (m *mockCatalogRepo) ListActive(_ context.Context) ([]*CatalogItem, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*CatalogItem
	for _, it := range m.items {
		if it.Active {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockCatalogRepo) Upsert(_ context.Context, item *CatalogItem) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for i, it := range m.items {
		if it.ID == item.ID {
			m.items[i] = item
			return nil
		}
	}
	m.items = append(m.items, item)
	return nil
}

// -- Mock Billed Item Repository --

type mockBilledRepo struct {
	items map[string][]*BilledItem
}

func newMockBilledRepo() *mockBilledRepo {
	return &mockBilledRepo{items: make(map[string][]*BilledItem)}
}

func (m *mockBilledRepo) Create(_ context.Context, item *BilledItem) error {
	item.ID = uuid.New()
	item.BilledAt = time.Now()
	m.items[item.VisitID] = append(m.items[item.VisitID], item)
	return nil
}

func (m *mockBilledRepo) ListByVisit(_ context.Context, visitID string) ([]*BilledItem, error) {
	return m.items[visitID], nil
}

func (m *mockBilledRepo) bill(visitID, group, subgroup, detail string, amount float64) *BilledItem {
	item := &BilledItem{VisitID: visitID, GroupName: group, SubgroupName: subgroup, DetailName: detail, Amount: amount}
	m.Create(context.Background(), item)
	return item
}

// -- Fixtures --

func priceList() *mockCatalogRepo {
	return &mockCatalogRepo{items: []*CatalogItem{
		{ID: "B1", GroupName: "Professional Fees", SubgroupName: "New", DetailName: "Professional Fees", Amount: 500, Active: true},
		{ID: "B2", GroupName: "Professional Fees", SubgroupName: "Follow-up", DetailName: "Professional Fees", Amount: 300, Active: true},
		{ID: "B3", GroupName: "Laboratory", SubgroupName: "Haematology", DetailName: "CBC", Amount: 250, Active: true},
		{ID: "B4", GroupName: "Laboratory", SubgroupName: "Biochemistry", DetailName: "Lipid Profile", Amount: 600, Active: true},
		{ID: "B9", GroupName: "Radiology", SubgroupName: "X-Ray", DetailName: "Chest PA", Amount: 400, Active: false},
	}}
}

func newTestService(catalog *mockCatalogRepo, billed *mockBilledRepo) (*Service, *MemorySelectionStore) {
	store := NewMemorySelectionStore(time.Hour)
	return NewService(catalog, billed, store, nil, zerolog.Nop()), store
}

func boolPtr(b bool) *bool { return &b }

// -- Tests --

func TestPrepareSelection_MatchesBilledItems(t *testing.T) {
	billed := newMockBilledRepo()
	billed.bill("V-1", "  LABORATORY", "haematology ", "cbc", 250)
	billed.bill("V-1", "laboratory", "Biochemistry", " LIPID profile", 600)
	svc, _ := newTestService(priceList(), billed)

	sel, err := svc.PrepareSelection(context.Background(), PrepareRequest{VisitID: "V-1"})
	if err != nil {
		t.Fatalf("PrepareSelection: %v", err)
	}
	if got := sel.Selected.IDs(); fmt.Sprint(got) != "[B3 B4]" {
		t.Errorf("expected [B3 B4], got %v", got)
	}
	if fmt.Sprint(sel.Matched) != "[B3 B4]" {
		t.Errorf("expected matched [B3 B4], got %v", sel.Matched)
	}
	if sel.TotalAmount != 850 {
		t.Errorf("expected total 850, got %v", sel.TotalAmount)
	}
	if len(sel.Unmatched) != 0 {
		t.Errorf("expected no unmatched items, got %d", len(sel.Unmatched))
	}
}

func TestPrepareSelection_LogsUnmatched(t *testing.T) {
	billed := newMockBilledRepo()
	billed.bill("V-1", "Laboratory", "Haematology", "CBC", 250)
	stray := billed.bill("V-1", "Laboratory", "Serology", "Widal", 150)

	var buf bytes.Buffer
	svc := NewService(priceList(), billed, NewMemorySelectionStore(time.Hour), nil, zerolog.New(&buf))

	sel, err := svc.PrepareSelection(context.Background(), PrepareRequest{VisitID: "V-1"})
	if err != nil {
		t.Fatalf("PrepareSelection: %v", err)
	}
	if len(sel.Unmatched) != 1 || sel.Unmatched[0].ID != stray.ID {
		t.Fatalf("expected the Widal line to be unmatched, got %+v", sel.Unmatched)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), "Widal") {
		t.Errorf("expected a warn log naming the unmatched item, got %s", buf.String())
	}
}

func TestPrepareSelection_MergesIntoStoredSelection(t *testing.T) {
	billed := newMockBilledRepo()
	billed.bill("V-1", "Laboratory", "Haematology", "CBC", 250)
	svc, store := newTestService(priceList(), billed)
	ctx := context.Background()
	store.Save(ctx, "V-1", reconcile.NewSelectionSet("B4"))

	sel, err := svc.PrepareSelection(ctx, PrepareRequest{VisitID: "V-1"})
	if err != nil {
		t.Fatalf("PrepareSelection: %v", err)
	}
	if got := fmt.Sprint(sel.Selected.IDs()); got != "[B4 B3]" {
		t.Errorf("expected [B4 B3], got %s", got)
	}

	again, err := svc.PrepareSelection(ctx, PrepareRequest{VisitID: "V-1"})
	if err != nil {
		t.Fatalf("PrepareSelection: %v", err)
	}
	if !again.Selected.Equal(sel.Selected) {
		t.Errorf("expected preparing twice to change nothing, got %v", again.Selected.IDs())
	}
}

func TestPrepareSelection_PreselectHintCleaned(t *testing.T) {
	svc, _ := newTestService(priceList(), newMockBilledRepo())

	sel, err := svc.PrepareSelection(context.Background(), PrepareRequest{
		VisitID:        "V-1",
		PreselectedIDs: []string{" B4 ", "", "B4", "b4", "  "},
	})
	if err != nil {
		t.Fatalf("PrepareSelection: %v", err)
	}
	if got := fmt.Sprint(sel.Selected.IDs()); got != "[B4]" {
		t.Errorf("expected [B4], got %s", got)
	}
}

func TestPrepareSelection_PreselectFallback(t *testing.T) {
	tests := []struct {
		name   string
		billed bool
		stored []string
		want   string
	}{
		{"used when nothing matched and nothing stored", false, nil, "[B4]"},
		{"ignored when billed items matched", true, nil, "[B3]"},
		{"ignored when a selection is stored", false, []string{"B1"}, "[B1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			billed := newMockBilledRepo()
			if tt.billed {
				billed.bill("V-1", "Laboratory", "Haematology", "CBC", 250)
			}
			svc, store := newTestService(priceList(), billed)
			if tt.stored != nil {
				store.Save(context.Background(), "V-1", reconcile.NewSelectionSet(tt.stored...))
			}

			sel, err := svc.PrepareSelection(context.Background(), PrepareRequest{VisitID: "V-1", PreselectedIDs: []string{"B4"}})
			if err != nil {
				t.Fatalf("PrepareSelection: %v", err)
			}
			if got := fmt.Sprint(sel.Selected.IDs()); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestPrepareSelection_ProfessionalFees(t *testing.T) {
	svc, store := newTestService(priceList(), newMockBilledRepo())
	ctx := context.Background()
	store.Save(ctx, "V-1", reconcile.NewSelectionSet("B1", "B3"))

	sel, err := svc.PrepareSelection(ctx, PrepareRequest{VisitID: "V-1", FollowUp: boolPtr(true)})
	if err != nil {
		t.Fatalf("PrepareSelection: %v", err)
	}
	if got := fmt.Sprint(sel.Selected.IDs()); got != "[B3 B2]" {
		t.Errorf("expected follow-up fee to replace the new-visit fee, got %s", got)
	}
	if sel.TotalAmount != 550 {
		t.Errorf("expected total 550, got %v", sel.TotalAmount)
	}

	sel, err = svc.PrepareSelection(ctx, PrepareRequest{VisitID: "V-1", FollowUp: boolPtr(false)})
	if err != nil {
		t.Fatalf("PrepareSelection: %v", err)
	}
	if got := fmt.Sprint(sel.Selected.IDs()); got != "[B3 B1]" {
		t.Errorf("expected new-visit fee back, got %s", got)
	}

	stored, _ := store.Get(ctx, "V-1")
	if !stored.Equal(sel.Selected) {
		t.Errorf("expected stored selection %v, got %v", sel.Selected.IDs(), stored.IDs())
	}
}

func TestPrepareSelection_UnknownVisitTypeKeepsFees(t *testing.T) {
	svc, store := newTestService(priceList(), newMockBilledRepo())
	store.Save(context.Background(), "V-1", reconcile.NewSelectionSet("B1", "B2"))

	sel, err := svc.PrepareSelection(context.Background(), PrepareRequest{VisitID: "V-1"})
	if err != nil {
		t.Fatalf("PrepareSelection: %v", err)
	}
	if got := fmt.Sprint(sel.Selected.IDs()); got != "[B1 B2]" {
		t.Errorf("expected selection untouched without a visit type, got %s", got)
	}
}

func TestPrepareSelection_RequiresVisitID(t *testing.T) {
	svc, _ := newTestService(priceList(), newMockBilledRepo())
	_, err := svc.PrepareSelection(context.Background(), PrepareRequest{VisitID: "  "})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestPrepareSelection_CatalogError(t *testing.T) {
	catalog := priceList()
	catalog.listErr = errors.New("connection reset")
	svc, _ := newTestService(catalog, newMockBilledRepo())

	_, err := svc.PrepareSelection(context.Background(), PrepareRequest{VisitID: "V-1"})
	if err == nil || errors.Is(err, ErrInvalid) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestReplaceSelection(t *testing.T) {
	svc, _ := newTestService(priceList(), newMockBilledRepo())
	ctx := context.Background()

	sel, err := svc.ReplaceSelection(ctx, "V-1", []string{"B3", "B1", "B3"})
	if err != nil {
		t.Fatalf("ReplaceSelection: %v", err)
	}
	if got := fmt.Sprint(sel.Selected.IDs()); got != "[B3 B1]" {
		t.Errorf("expected [B3 B1], got %s", got)
	}

	got, err := svc.GetSelection(ctx, "V-1")
	if err != nil {
		t.Fatalf("GetSelection: %v", err)
	}
	if got.TotalAmount != 750 || len(got.Items) != 2 {
		t.Errorf("expected two items totalling 750, got %d items totalling %v", len(got.Items), got.TotalAmount)
	}
}

func TestReplaceSelection_UnknownItems(t *testing.T) {
	svc, _ := newTestService(priceList(), newMockBilledRepo())

	// B9 exists but is inactive.
	_, err := svc.ReplaceSelection(context.Background(), "V-1", []string{"B3", "B9", "ZZ"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "B9, ZZ") {
		t.Errorf("expected unknown ids in message, got %v", err)
	}
}

func TestClearSelection(t *testing.T) {
	svc, store := newTestService(priceList(), newMockBilledRepo())
	ctx := context.Background()
	store.Save(ctx, "V-1", reconcile.NewSelectionSet("B3"))

	if err := svc.ClearSelection(ctx, "V-1"); err != nil {
		t.Fatalf("ClearSelection: %v", err)
	}
	sel, _ := svc.GetSelection(ctx, "V-1")
	if sel.Selected.Len() != 0 {
		t.Errorf("expected empty selection, got %v", sel.Selected.IDs())
	}
}

func TestImportCatalog(t *testing.T) {
	catalog := priceList()
	svc, _ := newTestService(catalog, newMockBilledRepo())

	n, err := svc.ImportCatalog(context.Background(), []*CatalogItem{
		{ID: "B3", GroupName: "Laboratory", SubgroupName: "Haematology", DetailName: "CBC", Amount: 275, Active: true},
		{ID: "B5", GroupName: "Procedures", DetailName: "Dressing", Amount: 150, Active: true},
	})
	if err != nil {
		t.Fatalf("ImportCatalog: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 imported, got %d", n)
	}
	if catalog.items[2].Amount != 275 {
		t.Errorf("expected B3 repriced to 275, got %v", catalog.items[2].Amount)
	}
	if len(catalog.items) != 6 {
		t.Errorf("expected B5 appended, got %d items", len(catalog.items))
	}
}

func TestImportCatalog_RunsInOneTransaction(t *testing.T) {
	catalog := priceList()
	catalog.upsertErr = errors.New("constraint violation")
	var calls int
	runner := func(ctx context.Context, fn func(ctx context.Context) error) error {
		calls++
		return fn(ctx)
	}
	svc := NewService(catalog, newMockBilledRepo(), NewMemorySelectionStore(time.Hour), runner, zerolog.Nop())

	_, err := svc.ImportCatalog(context.Background(), []*CatalogItem{{ID: "B5", GroupName: "Procedures", DetailName: "Dressing"}})
	if err == nil {
		t.Fatal("expected upsert error")
	}
	if calls != 1 {
		t.Errorf("expected one transaction, got %d", calls)
	}
}

func TestImportCatalog_Empty(t *testing.T) {
	svc, _ := newTestService(priceList(), newMockBilledRepo())
	if _, err := svc.ImportCatalog(context.Background(), nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestRecordBilledItem_Validation(t *testing.T) {
	svc, _ := newTestService(priceList(), newMockBilledRepo())

	tests := []struct {
		name string
		item BilledItem
	}{
		{"missing visit", BilledItem{GroupName: "Laboratory", DetailName: "CBC"}},
		{"missing group", BilledItem{VisitID: "V-1", DetailName: "CBC"}},
		{"missing detail", BilledItem{VisitID: "V-1", GroupName: "Laboratory"}},
		{"negative amount", BilledItem{VisitID: "V-1", GroupName: "Laboratory", DetailName: "CBC", Amount: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item
			if err := svc.RecordBilledItem(context.Background(), &item); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
