// Package review exposes the human validation API.
package review

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Londondannyboy/quest-sub003/internal/appctx"
	entityrepo "github.com/Londondannyboy/quest-sub003/internal/repositories/entity"
	validationrepo "github.com/Londondannyboy/quest-sub003/internal/repositories/validation"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

// EventEmitter publishes review lifecycle events. Nil is allowed.
type EventEmitter interface {
	EntityValidated(ctx context.Context, entity *models.CanonicalEntity)
	EntityMerged(ctx context.Context, sourceID, targetID string)
}

// Handler handles review API requests
type Handler struct {
	entities   *entityrepo.Repository
	validation *validationrepo.Repository
	events     EventEmitter
	logger     ectologger.Logger
}

// NewHandler creates a new review handler
func NewHandler(entities *entityrepo.Repository, validation *validationrepo.Repository, events EventEmitter, logger ectologger.Logger) *Handler {
	return &Handler{
		entities:   entities,
		validation: validation,
		events:     events,
		logger:     logger,
	}
}

// RegisterRoutes registers review endpoints
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/review", h.List)
	g.POST("/review/:entityID", h.Decide)
	g.POST("/review/:entityID/merge", h.Merge)
	g.GET("/review/:entityID/events", h.Events)
}

// List returns entities waiting for review
// GET /api/v1/review
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()

	entities, err := h.entities.ListForReview(ctx, 100)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entities)
}

// DecideRequest is the body for a review decision.
type DecideRequest struct {
	Accepted bool `json:"accepted"`
}

// Decide records an accept or reject decision for an entity
// POST /api/v1/review/:entityID
func (h *Handler) Decide(c echo.Context) error {
	ctx := c.Request().Context()

	entityID, err := uuid.Parse(c.Param("entityID"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid entity id")
	}

	var req DecideRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	validatorID := appctx.GetOwnerUserID(ctx)
	if validatorID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "missing owner user header")
	}

	entity, err := h.entities.RecordValidation(ctx, entityID, validatorID, req.Accepted)
	if err != nil {
		return err
	}

	if h.events != nil {
		h.events.EntityValidated(ctx, entity)
	}
	return c.JSON(http.StatusOK, entity)
}

// MergeRequest is the body for a manual merge.
type MergeRequest struct {
	TargetID uuid.UUID `json:"target_id"`
}

// Merge folds an ambiguous entity into a confirmed duplicate
// POST /api/v1/review/:entityID/merge
func (h *Handler) Merge(c echo.Context) error {
	ctx := c.Request().Context()

	sourceID, err := uuid.Parse(c.Param("entityID"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid entity id")
	}

	var req MergeRequest
	if err := c.Bind(&req); err != nil || req.TargetID == uuid.Nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	target, err := h.entities.Get(ctx, req.TargetID)
	if err != nil {
		return err
	}
	if target == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "target entity not found")
	}
	if target.IsAlias() {
		return httperror.NewHTTPError(http.StatusBadRequest, "target entity is itself an alias")
	}

	if err := h.entities.Merge(ctx, sourceID, req.TargetID); err != nil {
		return err
	}

	if h.events != nil {
		h.events.EntityMerged(ctx, sourceID.String(), req.TargetID.String())
	}
	return c.NoContent(http.StatusNoContent)
}

// Events returns the review history for an entity
// GET /api/v1/review/:entityID/events
func (h *Handler) Events(c echo.Context) error {
	ctx := c.Request().Context()

	entityID, err := uuid.Parse(c.Param("entityID"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid entity id")
	}

	events, err := h.validation.ListByEntity(ctx, entityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}
