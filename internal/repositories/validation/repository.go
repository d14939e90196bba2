// Package validation reads the review audit trail.
package validation

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Londondannyboy/quest-sub003/internal/database"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

// Repository reads validation events. Writes happen inside the entity
// repository so the event and the state change share a transaction.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new validation event repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListByEntity returns the review history for an entity, newest first.
func (r *Repository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]models.ValidationEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "validation.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id, entity_id, validator_id, accepted, created_at")
	sb.From("validation_events")
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("created_at DESC")

	query, args := sb.Build()
	var events []models.ValidationEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": entityID}).Error("Failed to list validation events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list validation events")
	}
	return events, nil
}
