package billing

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/frontdesk/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleReceptionist))
	readGroup.GET("/billing/catalog", h.ListCatalog)
	readGroup.GET("/billing/visits/:visit_id/selection", h.GetSelection)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleBilling))
	writeGroup.PUT("/billing/visits/:visit_id/selection", h.ReplaceSelection)
	writeGroup.DELETE("/billing/visits/:visit_id/selection", h.ClearSelection)
	writeGroup.POST("/billing/visits/:visit_id/selection/prepare", h.PrepareSelection)
	writeGroup.POST("/billing/visits/:visit_id/items", h.RecordBilledItem)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/billing/catalog/import", h.ImportCatalog)
}

func (h *Handler) ListCatalog(c echo.Context) error {
	items, err := h.svc.ListCatalog(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*CatalogItem{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

// ImportCatalog accepts the YAML price list as the request body.
func (h *Handler) ImportCatalog(c echo.Context) error {
	items, err := LoadCatalogYAML(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.ImportCatalog(c.Request().Context(), items)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"imported": n})
}

func (h *Handler) GetSelection(c echo.Context) error {
	sel, err := h.svc.GetSelection(c.Request().Context(), c.Param("visit_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sel)
}

func (h *Handler) ReplaceSelection(c echo.Context) error {
	var body struct {
		Selected []string `json:"selected"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sel, err := h.svc.ReplaceSelection(c.Request().Context(), c.Param("visit_id"), body.Selected)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sel)
}

func (h *Handler) ClearSelection(c echo.Context) error {
	if err := h.svc.ClearSelection(c.Request().Context(), c.Param("visit_id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PrepareSelection(c echo.Context) error {
	var req PrepareRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.VisitID = c.Param("visit_id")
	sel, err := h.svc.PrepareSelection(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sel)
}

func (h *Handler) RecordBilledItem(c echo.Context) error {
	var item BilledItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item.VisitID = c.Param("visit_id")
	if err := h.svc.RecordBilledItem(c.Request().Context(), &item); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func httpError(err error) error {
	if errors.Is(err, ErrInvalid) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
