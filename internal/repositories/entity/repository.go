// Package entity persists canonical companies, skills and institutions.
package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Londondannyboy/quest-sub003/internal/database"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

const columns = "id, kind, name, natural_key, status, confidence, needs_review, parent_id, cluster_id, alias_of, attributes, validation_count, rejection_count, last_scraped_at, created_at, updated_at, synced_at"

const uniqueViolation = "23505"

// Repository handles canonical entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger

	// RejectionThreshold is how many rejections flip a provisional entity
	// to rejected.
	RejectionThreshold int
}

// NewRepository creates a new canonical entity repository
func NewRepository(db database.DB, logger ectologger.Logger, rejectionThreshold int) *Repository {
	if rejectionThreshold <= 0 {
		rejectionThreshold = 2
	}
	return &Repository{
		db:                 db,
		logger:             logger,
		RejectionThreshold: rejectionThreshold,
	}
}

// Get returns an entity by id, nil if missing.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("canonical_entities")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var entity models.CanonicalEntity
	if err := r.db.GetContext(ctx, &entity, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get canonical entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}
	return &entity, nil
}

// GetByNaturalKey returns the active (non-alias) row for (kind, key), nil
// if none. Alias rows are skipped so merged entities resolve to the target.
func (r *Repository) GetByNaturalKey(ctx context.Context, kind models.EntityKind, key string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetByNaturalKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("canonical_entities")
	sb.Where(
		sb.Equal("kind", kind),
		sb.Equal("natural_key", key),
		sb.IsNull("alias_of"),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var entity models.CanonicalEntity
	if err := r.db.GetContext(ctx, &entity, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "natural_key": key}).Error("Failed to get canonical entity by natural key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}
	return &entity, nil
}

// FuzzyCandidates returns coarse name candidates for in-process scoring.
// pg_trgm similarity() prefilters in SQL so we never scan a whole kind.
func (r *Repository) FuzzyCandidates(ctx context.Context, kind models.EntityKind, name string, limit int) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.FuzzyCandidates")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + columns + `
		FROM canonical_entities
		WHERE kind = $1
		  AND alias_of IS NULL
		  AND similarity(name, $2) > 0.3
		ORDER BY similarity(name, $2) DESC
		LIMIT $3
	`

	var entities []models.CanonicalEntity
	if err := r.db.SelectContext(ctx, &entities, query, kind, name, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "name": name}).Error("Failed to fetch fuzzy candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to fetch candidates")
	}
	return entities, nil
}

// UpsertByNaturalKey creates or refreshes the row for (kind, natural_key)
// in one atomic statement. Concurrent upserts for the same key converge on
// a single row. Confidence only ever rises; rejected rows keep their status
// and content, only the scrape timestamp moves.
func (r *Repository) UpsertByNaturalKey(ctx context.Context, req models.UpsertEntityRequest) (*models.CanonicalEntity, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.UpsertByNaturalKey")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":      "UpsertByNaturalKey",
		"kind":        req.Kind,
		"natural_key": req.NaturalKey,
	})

	if req.NaturalKey == "" {
		entity, err := r.Create(ctx, req, models.EntityStatusProvisional, false)
		return entity, entity != nil, err
	}

	attrs := req.Attributes
	if attrs == nil {
		attrs = json.RawMessage("{}")
	}
	scrapedAt := req.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO canonical_entities (
			id, kind, name, natural_key, status, confidence, attributes,
			last_scraped_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (kind, natural_key) WHERE natural_key IS NOT NULL AND alias_of IS NULL
		DO UPDATE SET
			name = CASE WHEN canonical_entities.status = 'rejected' THEN canonical_entities.name ELSE EXCLUDED.name END,
			confidence = CASE WHEN canonical_entities.status = 'rejected' THEN canonical_entities.confidence ELSE GREATEST(canonical_entities.confidence, EXCLUDED.confidence) END,
			attributes = CASE WHEN canonical_entities.status = 'rejected' THEN canonical_entities.attributes ELSE canonical_entities.attributes || EXCLUDED.attributes END,
			last_scraped_at = EXCLUDED.last_scraped_at,
			updated_at = CASE WHEN canonical_entities.status = 'rejected' THEN canonical_entities.updated_at ELSE now() END
		RETURNING ` + columns + `, (xmax = 0) AS inserted
	`

	row := struct {
		models.CanonicalEntity
		Inserted bool `db:"inserted"`
	}{}

	err := r.db.GetContext(ctx, &row, query,
		uuid.New(), req.Kind, req.Name, req.NaturalKey,
		models.EntityStatusProvisional, req.Confidence, attrs, scrapedAt,
	)
	if err != nil {
		log.WithError(err).Error("Failed to upsert canonical entity")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert entity")
	}

	return &row.CanonicalEntity, row.Inserted, nil
}

// Create inserts a new provisional row without a conflict target. Used for
// keyless records and for ambiguous matches flagged for review. A
// concurrent insert of the same natural key surfaces as ErrStoreConflict;
// the caller retries the record as an upsert.
func (r *Repository) Create(ctx context.Context, req models.UpsertEntityRequest, status models.EntityStatus, needsReview bool) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Create")
	defer span.End()

	attrs := req.Attributes
	if attrs == nil {
		attrs = json.RawMessage("{}")
	}
	scrapedAt := req.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	var key any
	if req.NaturalKey != "" {
		key = req.NaturalKey
	}

	query := `
		INSERT INTO canonical_entities (
			id, kind, name, natural_key, status, confidence, needs_review,
			attributes, last_scraped_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING ` + columns

	var entity models.CanonicalEntity
	err := r.db.GetContext(ctx, &entity, query,
		uuid.New(), req.Kind, req.Name, key, status, req.Confidence,
		needsReview, attrs, scrapedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil, models.ErrStoreConflict
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": req.Kind, "name": req.Name}).Error("Failed to create canonical entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create entity")
	}
	return &entity, nil
}

// TouchScrape refreshes an existing entity from a new observation that
// matched it. Confidence only rises; rejected rows are left alone.
func (r *Repository) TouchScrape(ctx context.Context, id uuid.UUID, confidence float64, scrapedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.TouchScrape")
	defer span.End()

	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE canonical_entities
		SET confidence = GREATEST(confidence, $2),
			last_scraped_at = $3,
			updated_at = now()
		WHERE id = $1 AND status != 'rejected'
	`, id, confidence, scrapedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to touch entity scrape")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to refresh entity")
	}
	return nil
}

// RecordValidation applies a review decision. The first acceptance flips a
// provisional entity to validated; rejections past the threshold flip it to
// rejected. Both states are terminal for this path. An audit event is
// written in the same transaction.
func (r *Repository) RecordValidation(ctx context.Context, entityID uuid.UUID, validatorID string, accepted bool) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.RecordValidation")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":    entityID,
		"validator_id": validatorID,
		"accepted":     accepted,
	})

	txCtx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var entity models.CanonicalEntity
	err = tx.GetContext(txCtx, &entity, "SELECT "+columns+" FROM canonical_entities WHERE id = $1 FOR UPDATE", entityID)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "entity not found")
		}
		log.WithError(err).Error("Failed to lock entity for validation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record validation")
	}

	if accepted {
		entity.ValidationCount++
		if entity.Status == models.EntityStatusProvisional {
			entity.Status = models.EntityStatusValidated
			if entity.Confidence < 0.9 {
				entity.Confidence = 0.9
			}
		}
		entity.NeedsReview = false
	} else {
		entity.RejectionCount++
		if entity.Status == models.EntityStatusProvisional && entity.RejectionCount >= r.RejectionThreshold {
			entity.Status = models.EntityStatusRejected
			entity.NeedsReview = false
		}
	}

	_, err = tx.ExecContext(txCtx, `
		UPDATE canonical_entities
		SET status = $2, confidence = $3, needs_review = $4,
			validation_count = $5, rejection_count = $6, updated_at = now()
		WHERE id = $1
	`, entity.ID, entity.Status, entity.Confidence, entity.NeedsReview, entity.ValidationCount, entity.RejectionCount)
	if err != nil {
		log.WithError(err).Error("Failed to update entity validation state")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record validation")
	}

	_, err = tx.ExecContext(txCtx, `
		INSERT INTO validation_events (id, entity_id, validator_id, accepted, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, uuid.New(), entityID, validatorID, accepted)
	if err != nil {
		log.WithError(err).Error("Failed to write validation event")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record validation")
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record validation")
	}

	return &entity, nil
}

// Merge folds source into target: every foreign reference is repointed and
// the source survives as an alias row. Runs in one transaction so readers
// never observe a half-merged state.
func (r *Repository) Merge(ctx context.Context, sourceID, targetID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Merge")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id": sourceID,
		"target_id": targetID,
	})

	if sourceID == targetID {
		return httperror.NewHTTPError(http.StatusBadRequest, "cannot merge an entity into itself")
	}

	txCtx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	statements := []string{
		"UPDATE colleagues SET company_id = $2, updated_at = now() WHERE company_id = $1",
		"UPDATE job_postings SET company_id = $2, updated_at = now() WHERE company_id = $1",
		"UPDATE canonical_entities SET parent_id = $2 WHERE parent_id = $1",
		"UPDATE canonical_entities SET cluster_id = $2 WHERE cluster_id = $1",
		"UPDATE canonical_entities SET alias_of = $2, needs_review = false, updated_at = now() WHERE id = $1",
		"UPDATE canonical_entities SET updated_at = now() WHERE id = $2",
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(txCtx, stmt, sourceID, targetID); err != nil {
			log.WithError(err).Error("Failed to merge entities")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to merge entities")
		}
	}

	if err := tx.Commit(txCtx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to merge entities")
	}

	log.Info("Merged entity")
	return nil
}

// ListStale returns active rows whose graph projection is behind their
// relational state. Rejected entities are never projected.
func (r *Repository) ListStale(ctx context.Context, limit int) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListStale")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + columns + `
		FROM canonical_entities
		WHERE alias_of IS NULL
		  AND status != 'rejected'
		  AND (synced_at IS NULL OR synced_at < updated_at)
		ORDER BY updated_at ASC
		LIMIT $1
	`

	var entities []models.CanonicalEntity
	if err := r.db.SelectContext(ctx, &entities, query, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list stale entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list stale entities")
	}
	return entities, nil
}

// ListStaleAliases returns rows merged away since their graph node was
// last touched. The projector removes those nodes and advances the cursor.
func (r *Repository) ListStaleAliases(ctx context.Context, limit int) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListStaleAliases")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + columns + `
		FROM canonical_entities
		WHERE alias_of IS NOT NULL
		  AND (synced_at IS NULL OR synced_at < updated_at)
		ORDER BY updated_at ASC
		LIMIT $1
	`

	var entities []models.CanonicalEntity
	if err := r.db.SelectContext(ctx, &entities, query, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list stale alias entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list stale aliases")
	}
	return entities, nil
}

// AdvanceSyncCursor records that the entity state as of syncedThrough has
// been projected. Called only after the graph write succeeds.
func (r *Repository) AdvanceSyncCursor(ctx context.Context, id uuid.UUID, syncedThrough time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.AdvanceSyncCursor")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		"UPDATE canonical_entities SET synced_at = $2 WHERE id = $1 AND (synced_at IS NULL OR synced_at < $2)",
		id, syncedThrough,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to advance entity sync cursor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to advance sync cursor")
	}
	return nil
}

// ListForReview returns entities flagged by ambiguous matches.
func (r *Repository) ListForReview(ctx context.Context, limit int) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListForReview")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("canonical_entities")
	sb.Where(
		sb.Equal("needs_review", true),
		sb.IsNull("alias_of"),
	)
	sb.OrderBy("created_at ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var entities []models.CanonicalEntity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list entities for review")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list review queue")
	}
	return entities, nil
}
