// Package run exposes the pipeline run API.
package run

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	runrepo "github.com/Londondannyboy/quest-sub003/internal/repositories/run"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/pipeline"
)

// Handler handles pipeline run API requests
type Handler struct {
	orchestrator *pipeline.Orchestrator
	runs         *runrepo.Repository
	logger       ectologger.Logger
}

// NewHandler creates a new run handler
func NewHandler(orchestrator *pipeline.Orchestrator, runs *runrepo.Repository, logger ectologger.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		runs:         runs,
		logger:       logger,
	}
}

// RegisterRoutes registers run endpoints
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/sources/:sourceID/runs", h.Start)
	g.GET("/sources/:sourceID/runs", h.ListRecent)
	g.GET("/runs/:id", h.Get)
}

// Start triggers a pipeline run for a source
// POST /api/v1/sources/:sourceID/runs
func (h *Handler) Start(c echo.Context) error {
	ctx := c.Request().Context()

	sourceID, err := uuid.Parse(c.Param("sourceID"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid source id")
	}

	result, err := h.orchestrator.StartRun(ctx, sourceID)
	if err != nil {
		if errors.Is(err, models.ErrRunInFlight) {
			return httperror.NewHTTPError(http.StatusConflict, "a run for this source and window is already in flight")
		}
		h.logger.WithContext(ctx).WithError(err).Error("Failed to start run")
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// Get returns a run by id
// GET /api/v1/runs/:id
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}

	run, err := h.runs.Get(ctx, id)
	if err != nil {
		return err
	}
	if run == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "run not found")
	}

	return c.JSON(http.StatusOK, run)
}

// ListRecent returns recent runs for a source
// GET /api/v1/sources/:sourceID/runs
func (h *Handler) ListRecent(c echo.Context) error {
	ctx := c.Request().Context()

	sourceID, err := uuid.Parse(c.Param("sourceID"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid source id")
	}

	runs, err := h.runs.ListRecent(ctx, sourceID, 20)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, runs)
}
