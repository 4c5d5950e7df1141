package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk/internal/config"
	"github.com/clinicdesk/frontdesk/internal/domain/billing"
	"github.com/clinicdesk/frontdesk/internal/platform/db"
	"github.com/clinicdesk/frontdesk/internal/platform/middleware"
	"github.com/clinicdesk/frontdesk/internal/platform/search"
)

const sampleRoster = `
patients:
  - id: P-1001
    first_name: Asha
    last_name: Patil
    contact: "+91 98200 11111"
  - id: P-1002
    first_name: Ashok
    last_name: Kumar
  - id: P-1003
    first_name: Vasha
    last_name: Rao
    attributes:
      ward: General
`

func testConfig() *config.Config {
	return &config.Config{
		Port:           "8000",
		Env:            "development",
		LogLevel:       "info",
		DefaultClinic:  "default",
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   100,
		RateLimitBurst: 200,
		SelectionTTL:   time.Hour,
	}
}

func TestLoadRoster(t *testing.T) {
	roster, err := loadRoster(strings.NewReader(sampleRoster))
	if err != nil {
		t.Fatalf("loadRoster: %v", err)
	}
	if len(roster) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(roster))
	}
	if roster[0].Contact != "+91 98200 11111" {
		t.Errorf("unexpected contact %q", roster[0].Contact)
	}
	if roster[2].Attributes["ward"] != "General" {
		t.Errorf("expected ward attribute, got %v", roster[2].Attributes)
	}
}

func TestLoadRoster_MissingID(t *testing.T) {
	_, err := loadRoster(strings.NewReader("patients:\n  - first_name: Asha\n"))
	if err == nil || !strings.Contains(err.Error(), "id is required") {
		t.Errorf("expected missing id error, got %v", err)
	}
}

func TestPrintResults(t *testing.T) {
	roster, _ := loadRoster(strings.NewReader(sampleRoster))
	results := search.RankResults(search.ParseQuery("asha"), roster)

	var buf bytes.Buffer
	printResults(&buf, results)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "500") || !strings.Contains(lines[1], "P-1001") || !strings.HasSuffix(lines[1], "Asha Patil") {
		t.Errorf("unexpected first row %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "300") || !strings.Contains(lines[2], "P-1003") {
		t.Errorf("unexpected second row %q", lines[2])
	}
}

func TestPrintResults_NoMatches(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, nil)
	if strings.TrimSpace(buf.String()) != "No matches." {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, "clinic_default", []db.MigrationStatus{
		{Version: 1, Name: "001_frontdesk.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})
	out := buf.String()
	if !strings.Contains(out, "clinic_default") || !strings.Contains(out, "2026-01-02 03:04:05") {
		t.Errorf("unexpected output %q", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("expected pending migration in output %q", out)
	}
}

func TestMigrationSource_Embedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationSource(""), ".")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Name() == "001_frontdesk.sql" {
			found = true
		}
	}
	if !found {
		t.Error("expected 001_frontdesk.sql in embedded migrations")
	}
}

func TestSelectionStore_WithoutRedis(t *testing.T) {
	if _, ok := selectionStore(nil, time.Hour).(*billing.MemorySelectionStore); !ok {
		t.Error("expected in-memory selection store without redis")
	}
	if _, ok := rateLimiter(nil, middleware.DefaultRateLimitConfig()).(*middleware.MemoryLimiter); !ok {
		t.Error("expected in-memory limiter without redis")
	}
}

func TestNewRedis_EmptyURL(t *testing.T) {
	client, err := newRedis(context.Background(), "")
	if err != nil || client != nil {
		t.Errorf("expected no client and no error, got %v, %v", client, err)
	}
}

func TestNewServer_Health(t *testing.T) {
	e := newServer(testConfig(), zerolog.Nop(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["version"] != version {
		t.Errorf("unexpected body %v", body)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestNewServer_RequiresTokenOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = "test-signing-key"
	e := newServer(cfg, zerolog.Nop(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/search?q=asha", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected health to stay public, got %d", rec.Code)
	}
}

func TestNewServer_MetricsArePublic(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = "test-signing-key"
	e := newServer(cfg, zerolog.Nop(), nil, nil)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `route="/health"`) {
		t.Errorf("expected the health request in the exposition:\n%s", rec.Body.String())
	}
}
