// Package audit keeps a per-clinic trail of who read or changed patient,
// admission and billing records through the API.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/frontdesk/internal/platform/db"
)

// Action codes, one per HTTP verb class.
const (
	ActionCreate  = "C"
	ActionRead    = "R"
	ActionUpdate  = "U"
	ActionDelete  = "D"
	ActionExecute = "E"
)

// Event is one audited request. EntityID is the path identifier the request
// addressed (patient row id, admission id or visit id) and may be empty for
// collection reads such as a search.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	ActorRoles []string  `json:"actor_roles"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Recorded   time.Time `json:"recorded"`
}

// Succeeded reports whether the audited request completed without error.
func (e *Event) Succeeded() bool { return e.Status > 0 && e.Status < 400 }

// ActionFor maps an HTTP method to an action code. POST is a create unless
// the route is an operation on an existing record, such as discharge.
func ActionFor(method, route string) string {
	switch method {
	case "GET", "HEAD":
		return ActionRead
	case "PUT", "PATCH":
		return ActionUpdate
	case "DELETE":
		return ActionDelete
	case "POST":
		if strings.Contains(route, "/:") {
			return ActionExecute
		}
		return ActionCreate
	}
	return ActionExecute
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, e *Event) error
}

// Store reads back recorded events.
type Store interface {
	Recorder
	List(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error)
}

// Filter narrows a listing. Zero fields match everything.
type Filter struct {
	EntityType string
	EntityID   string
	ActorID    string
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore writes to the audit_event table of the clinic schema the request
// connection points at.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *PGStore) Record(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ActorRoles == nil {
		e.ActorRoles = []string{}
	}
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO audit_event (id, action, entity_type, entity_id, actor_id, actor_roles,
			method, path, status, remote_addr, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING recorded`,
		e.ID, e.Action, e.EntityType, e.EntityID, e.ActorID, e.ActorRoles,
		e.Method, e.Path, e.Status, e.RemoteAddr, e.RequestID,
	).Scan(&e.Recorded)
	if err != nil {
		return fmt.Errorf("audit: record event: %w", err)
	}
	return nil
}

const eventCols = `id, action, entity_type, entity_id, actor_id, actor_roles,
	method, path, status, remote_addr, request_id, recorded`

func (s *PGStore) List(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error) {
	where, args := f.where()

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_event`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count events: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := s.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT `+eventCols+` FROM audit_event%s ORDER BY recorded DESC, id LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.ActorID, &e.ActorRoles,
			&e.Method, &e.Path, &e.Status, &e.RemoteAddr, &e.RequestID, &e.Recorded); err != nil {
			return nil, 0, err
		}
		out = append(out, &e)
	}
	return out, total, rows.Err()
}

func (f Filter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("entity_type", f.EntityType)
	add("entity_id", f.EntityID)
	add("actor_id", f.ActorID)
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
