package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ClinicIDKey contextKey = "clinic_id"
	DBConnKey   contextKey = "db_conn"

	// ClinicHeader lets front-desk terminals that serve several clinics pick one.
	ClinicHeader = "X-Clinic-ID"
)

var clinicIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the schema holding a clinic's registry, admissions and billing.
func SchemaName(clinicID string) string {
	return "clinic_" + clinicID
}

// ValidClinicID reports whether id is safe to splice into a schema name.
func ValidClinicID(id string) bool {
	return clinicIDPattern.MatchString(id)
}

// ClinicMiddleware resolves the clinic for the request, acquires a connection
// and points its search_path at the clinic schema for the life of the request.
func ClinicMiddleware(pool *pgxpool.Pool, defaultClinic string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clinicID := extractClinicID(c, defaultClinic)

			if !ValidClinicID(clinicID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic identifier")
			}

			ctx, release, err := ScopeConn(c.Request().Context(), pool, clinicID)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("clinic_id", clinicID)

			return next(c)
		}
	}
}

// ScopeConn acquires a connection whose search_path points at the clinic
// schema and stores both the connection and the clinic id in the returned
// context. The caller must call release when done.
func ScopeConn(ctx context.Context, pool *pgxpool.Pool, clinicID string) (context.Context, func(), error) {
	if !ValidClinicID(clinicID) {
		return ctx, func() {}, fmt.Errorf("invalid clinic identifier %q", clinicID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(clinicID))); err != nil {
		conn.Release()
		return ctx, func() {}, fmt.Errorf("set search_path: %w", err)
	}
	ctx = WithClinic(ctx, clinicID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, conn.Release, nil
}

// extractClinicID prefers the token claim, then the header, then the query string.
func extractClinicID(c echo.Context, defaultClinic string) string {
	if id, ok := c.Get("jwt_clinic_id").(string); ok && id != "" {
		return id
	}
	if id := c.Request().Header.Get(ClinicHeader); id != "" {
		return id
	}
	if id := c.QueryParam("clinic_id"); id != "" {
		return id
	}
	return defaultClinic
}

// ConnFromContext retrieves the clinic-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// WithClinic stores the clinic id in ctx. CLI commands use it in place of the middleware.
func WithClinic(ctx context.Context, clinicID string) context.Context {
	return context.WithValue(ctx, ClinicIDKey, clinicID)
}

// ClinicFromContext retrieves the clinic id from context.
func ClinicFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ClinicIDKey).(string)
	return id
}

// CreateClinicSchema creates the schema for a clinic and migrates it.
func CreateClinicSchema(ctx context.Context, m *Migrator, clinicID string) error {
	if !ValidClinicID(clinicID) {
		return fmt.Errorf("invalid clinic identifier: %s", clinicID)
	}
	schema := SchemaName(clinicID)

	if _, err := m.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if _, err := m.Up(ctx, schema); err != nil {
		return fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return nil
}
