// Package graphview exposes read-through queries against the projected graph.
package graphview

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Londondannyboy/quest-sub003/pkg/graph"
)

// Handler handles graph query API requests
type Handler struct {
	store  *graph.Store
	logger ectologger.Logger
}

// NewHandler creates a new graph view handler
func NewHandler(store *graph.Store, logger ectologger.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes registers graph query endpoints
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/graph/companies/:companyID/colleagues", h.CompanyColleagues)
	g.GET("/graph/companies/:companyID/jobs", h.CompanyJobs)
	g.GET("/graph/skills/:skillID/jobs", h.SkillJobs)
}

// CompanyColleagues returns colleagues working at a company
// GET /api/v1/graph/companies/:companyID/colleagues
func (h *Handler) CompanyColleagues(c echo.Context) error {
	ctx := c.Request().Context()

	companyID, err := uuid.Parse(c.Param("companyID"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid company id")
	}

	nodes, err := h.store.CompanyColleagues(ctx, companyID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nodes)
}

// CompanyJobs returns job postings attributed to a company
// GET /api/v1/graph/companies/:companyID/jobs
func (h *Handler) CompanyJobs(c echo.Context) error {
	ctx := c.Request().Context()

	companyID, err := uuid.Parse(c.Param("companyID"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid company id")
	}

	nodes, err := h.store.CompanyJobs(ctx, companyID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nodes)
}

// SkillJobs returns job postings requiring a skill
// GET /api/v1/graph/skills/:skillID/jobs
func (h *Handler) SkillJobs(c echo.Context) error {
	ctx := c.Request().Context()

	skillID, err := uuid.Parse(c.Param("skillID"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid skill id")
	}

	nodes, err := h.store.SkillJobs(ctx, skillID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nodes)
}
