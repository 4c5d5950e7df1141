package admission

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/frontdesk/internal/platform/auth"
	"github.com/clinicdesk/frontdesk/internal/platform/reconcile"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse, auth.RoleDoctor, auth.RoleBilling))
	readGroup.GET("/admissions", h.ListActive)
	readGroup.GET("/admissions/search", h.SearchRoster)
	readGroup.GET("/admissions/:id", h.GetAdmission)

	// Ward movements: reception and nursing
	writeGroup := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse))
	writeGroup.POST("/admissions", h.Admit)
	writeGroup.POST("/admissions/:id/discharge", h.Discharge)
	writeGroup.POST("/admissions/census", h.ReconcileCensus)
}

func (h *Handler) Admit(c echo.Context) error {
	var a Admission
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Admit(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListActive(c echo.Context) error {
	roster, err := h.svc.ListActive(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if roster == nil {
		roster = []*Admission{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"admissions": roster})
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Discharge(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SearchRoster(c echo.Context) error {
	results, err := h.svc.SearchRoster(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":   c.QueryParam("q"),
		"results": results,
	})
}

func (h *Handler) ReconcileCensus(c echo.Context) error {
	var body struct {
		Selected reconcile.SelectionSet `json:"selected"`
		Entries  []CensusEntry          `json:"entries"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := h.svc.ReconcileCensus(c.Request().Context(), body.Selected, body.Entries)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyAdmitted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
