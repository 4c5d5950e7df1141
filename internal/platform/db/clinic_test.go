package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractClinicID_FromHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ClinicHeader, "north_wing")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	id := extractClinicID(c, "default")
	if id != "north_wing" {
		t.Errorf("expected north_wing, got %s", id)
	}
}

func TestExtractClinicID_FromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?clinic_id=east", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	id := extractClinicID(c, "default")
	if id != "east" {
		t.Errorf("expected east, got %s", id)
	}
}

func TestExtractClinicID_Default(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	id := extractClinicID(c, "default")
	if id != "default" {
		t.Errorf("expected default, got %s", id)
	}
}

func TestExtractClinicID_Priority(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?clinic_id=query", nil)
	req.Header.Set(ClinicHeader, "header")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if id := extractClinicID(c, "default"); id != "header" {
		t.Errorf("expected header over query, got %s", id)
	}

	// token claim beats both
	c.Set("jwt_clinic_id", "jwt")
	if id := extractClinicID(c, "default"); id != "jwt" {
		t.Errorf("expected jwt, got %s", id)
	}
}

func TestValidClinicID(t *testing.T) {
	valid := []string{"abc", "clinic_1", "north_wing_2", "A1B2"}
	for _, v := range valid {
		if !ValidClinicID(v) {
			t.Errorf("expected %s to be valid", v)
		}
	}

	invalid := []string{"a-b", "a.b", "a b", "'; DROP TABLE", "a/b", ""}
	for _, v := range invalid {
		if ValidClinicID(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("north"); got != "clinic_north" {
		t.Errorf("expected clinic_north, got %s", got)
	}
}

func TestClinicMiddleware_RejectsInvalidID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ClinicHeader, "bad-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	// the id is checked before the pool is touched
	h := ClinicMiddleware(nil, "default")(func(c echo.Context) error { return nil })
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", he.Code)
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestClinicFromContext(t *testing.T) {
	ctx := WithClinic(context.Background(), "north")
	if id := ClinicFromContext(ctx); id != "north" {
		t.Errorf("expected north, got %s", id)
	}
	if id := ClinicFromContext(context.Background()); id != "" {
		t.Errorf("expected empty string, got %s", id)
	}
}

func TestCreateClinicSchema_InvalidID(t *testing.T) {
	err := CreateClinicSchema(context.Background(), nil, "invalid-id!")
	if err == nil {
		t.Error("expected error for invalid clinic ID")
	}
}

func TestScopeConn_RejectsInvalidClinic(t *testing.T) {
	ctx, release, err := ScopeConn(context.Background(), nil, "north; DROP SCHEMA public")
	defer release()
	if err == nil {
		t.Fatal("expected error for invalid clinic id")
	}
	if ClinicFromContext(ctx) != "" {
		t.Errorf("expected no clinic in context, got %q", ClinicFromContext(ctx))
	}
}
