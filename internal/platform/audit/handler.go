package audit

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/frontdesk/internal/platform/auth"
	"github.com/clinicdesk/frontdesk/pkg/pagination"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.GET("/audit-events", h.ListEvents)
}

// ListEvents pages the clinic's trail, newest first. entity_type, entity_id
// and actor_id narrow the listing.
func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		EntityType: c.QueryParam("entity_type"),
		EntityID:   c.QueryParam("entity_id"),
		ActorID:    c.QueryParam("actor_id"),
	}
	events, total, err := h.store.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if events == nil {
		events = []*Event{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg.Limit, pg.Offset))
}
