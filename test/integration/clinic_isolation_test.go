//go:build integration

package integration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk/internal/domain/billing"
	"github.com/clinicdesk/frontdesk/internal/domain/patient"
	"github.com/clinicdesk/frontdesk/internal/platform/db"
)

func TestClinicIsolation(t *testing.T) {
	ctx := context.Background()
	clinicA := uniqueClinicID("clinicA")
	clinicB := uniqueClinicID("clinicB")
	createClinic(t, ctx, clinicA)
	createClinic(t, ctx, clinicB)

	t.Run("patients", func(t *testing.T) {
		pA := createTestPatient(t, ctx, clinicA, "P-1", "Alice", "Smith", "")
		createTestPatient(t, ctx, clinicA, "P-2", "Bob", "Jones", "")
		// Clinics number patients independently, so the same id is fine.
		createTestPatient(t, ctx, clinicB, "P-1", "Charlie", "Brown", "")

		for clinic, want := range map[string]int{clinicA: 2, clinicB: 1} {
			var total int
			err := withClinicConn(ctx, clinic, func(ctx context.Context) error {
				return db.ConnFromContext(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM patient").Scan(&total)
			})
			if err != nil {
				t.Fatalf("count patients in %s: %v", clinic, err)
			}
			if total != want {
				t.Errorf("expected %d patients in %s, got %d", want, clinic, total)
			}
		}

		repo := patient.NewPatientRepoPG(globalDB.Pool)
		err := withClinicConn(ctx, clinicB, func(ctx context.Context) error {
			_, err := repo.GetByID(ctx, pA.ID)
			return err
		})
		if !errors.Is(err, patient.ErrNotFound) {
			t.Errorf("clinic B should not see clinic A patient, got %v", err)
		}

		err = withClinicConn(ctx, clinicB, func(ctx context.Context) error {
			got, err := repo.FetchCandidates(ctx, "alice", 20)
			if err != nil {
				return err
			}
			if len(got) != 0 {
				t.Errorf("clinic B search returned clinic A patients: %v", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("FetchCandidates: %v", err)
		}
	})

	t.Run("catalog and selections", func(t *testing.T) {
		store := billing.NewMemorySelectionStore(time.Hour)
		svc := billing.NewService(
			billing.NewCatalogRepoPG(globalDB.Pool),
			billing.NewBilledItemRepoPG(globalDB.Pool),
			store,
			db.NewTxRunner(globalDB.Pool),
			zerolog.Nop(),
		)
		items, err := billing.LoadCatalogYAML(strings.NewReader(clinicPriceList))
		if err != nil {
			t.Fatalf("load price list: %v", err)
		}
		err = withClinicConn(ctx, clinicA, func(ctx context.Context) error {
			if _, err := svc.ImportCatalog(ctx, items); err != nil {
				return err
			}
			_, err := svc.ReplaceSelection(ctx, "V-1", []string{"LAB-CBC"})
			return err
		})
		if err != nil {
			t.Fatalf("seed clinic A: %v", err)
		}

		err = withClinicConn(ctx, clinicB, func(ctx context.Context) error {
			catalog, err := svc.ListCatalog(ctx)
			if err != nil {
				return err
			}
			if len(catalog) != 0 {
				t.Errorf("clinic B sees %d catalog items from clinic A", len(catalog))
			}
			sel, err := svc.GetSelection(ctx, "V-1")
			if err != nil {
				return err
			}
			if sel.Selected.Len() != 0 {
				t.Errorf("clinic B sees clinic A selection: %v", sel.Selected.IDs())
			}
			return nil
		})
		if err != nil {
			t.Fatalf("read clinic B: %v", err)
		}
	})
}

func TestScopeConnRejectsUnknownClinic(t *testing.T) {
	ctx := context.Background()
	err := withClinicConn(ctx, "bad-clinic;drop", func(ctx context.Context) error {
		t.Fatal("callback must not run for an invalid clinic id")
		return nil
	})
	if err == nil {
		t.Fatal("expected an error for an invalid clinic id")
	}
}
