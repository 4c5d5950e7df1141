package audit

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk/internal/platform/auth"
)

// idParams are the route parameters that name the audited record, in
// order of preference.
var idParams = []string{"id", "visit_id"}

// Middleware records one event per routed request below prefix. It must run
// inside the clinic middleware so the event lands in the clinic schema. A
// failed write is logged and never fails the request.
func Middleware(rec Recorder, logger zerolog.Logger, prefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			route := c.Path()
			entity := entityType(route, prefix)
			if entity == "" {
				return err
			}

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = 500
			}

			ctx := c.Request().Context()
			rid, _ := c.Get("request_id").(string)
			e := &Event{
				Action:     ActionFor(c.Request().Method, route),
				EntityType: entity,
				EntityID:   entityID(c),
				ActorID:    auth.UserIDFromContext(ctx),
				ActorRoles: auth.RolesFromContext(ctx),
				Method:     c.Request().Method,
				Path:       route,
				Status:     status,
				RemoteAddr: c.RealIP(),
				RequestID:  rid,
			}
			if rerr := rec.Record(ctx, e); rerr != nil {
				logger.Error().Err(rerr).
					Str("request_id", rid).
					Str("entity_type", e.EntityType).
					Str("entity_id", e.EntityID).
					Msg("audit event not recorded")
			}
			return err
		}
	}
}

// entityType is the first route segment after prefix, or "" for unrouted requests.
func entityType(route, prefix string) string {
	if route == "" || !strings.HasPrefix(route, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(route, prefix), "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	// The group's not-found route.
	if rest == "*" {
		return ""
	}
	return rest
}

func entityID(c echo.Context) string {
	for _, name := range idParams {
		if v := c.Param(name); v != "" {
			return v
		}
	}
	return ""
}
