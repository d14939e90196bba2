// Package run persists pipeline run records.
package run

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Londondannyboy/quest-sub003/internal/database"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

const columns = "id, source_id, window_start, stage, records_in, records_resolved, records_persisted, records_projected, error_count, errors, started_at, completed_at"

// Repository handles pipeline run persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new pipeline run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert creates the run row for (source, window). The unique index on
// (source_id, window_start) is the relational backstop behind the Redis
// lock. A failed row from an earlier aborted attempt is reclaimed and
// reset; an in-flight or completed row surfaces as ErrRunInFlight.
func (r *Repository) Insert(ctx context.Context, sourceID uuid.UUID, windowStart time.Time) (*models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.Insert")
	defer span.End()

	query := `
		INSERT INTO pipeline_runs (id, source_id, window_start, stage, errors, started_at)
		VALUES ($1, $2, $3, $4, '[]'::jsonb, now())
		ON CONFLICT (source_id, window_start) DO UPDATE SET
			stage = EXCLUDED.stage,
			records_in = 0,
			records_resolved = 0,
			records_persisted = 0,
			records_projected = 0,
			error_count = 0,
			errors = '[]'::jsonb,
			started_at = now(),
			completed_at = NULL
		WHERE pipeline_runs.stage = $5
		RETURNING ` + columns

	var run models.PipelineRun
	err := r.db.GetContext(ctx, &run, query, uuid.New(), sourceID, windowStart, models.StageScheduled, models.StageFailed)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, models.ErrRunInFlight
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_id":    sourceID,
			"window_start": windowStart,
		}).Error("Failed to insert pipeline run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert run")
	}
	return &run, nil
}

// Get returns a run by id, nil if missing.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("pipeline_runs")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var run models.PipelineRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get pipeline run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get run")
	}
	return &run, nil
}

// UpdateStage advances the run's stage marker.
func (r *Repository) UpdateStage(ctx context.Context, id uuid.UUID, stage models.RunStage) error {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.UpdateStage")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		"UPDATE pipeline_runs SET stage = $2 WHERE id = $1",
		id, stage,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "stage": stage}).Error("Failed to update run stage")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update run stage")
	}
	return nil
}

// Complete finalizes the run with its counters and per-record errors.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, stage models.RunStage, counters models.RunResult, recordErrors models.RecordErrors) error {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.Complete")
	defer span.End()

	_, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET stage = $2,
			records_in = $3,
			records_resolved = $4,
			records_persisted = $5,
			records_projected = $6,
			error_count = $7,
			errors = $8,
			completed_at = now()
		WHERE id = $1
	`, id, stage, counters.RecordsIn, counters.RecordsResolved,
		counters.RecordsPersisted, counters.RecordsProjected,
		len(recordErrors), recordErrors,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to complete pipeline run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete run")
	}
	return nil
}

// Fail marks an aborted run so a retry in the same window can reclaim the
// row. Counters and errors gathered before the abort stay for audit.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, counters models.RunResult, recordErrors models.RecordErrors) error {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.Fail")
	defer span.End()

	_, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET stage = $2,
			records_in = $3,
			records_resolved = $4,
			records_persisted = $5,
			records_projected = $6,
			error_count = $7,
			errors = $8,
			completed_at = now()
		WHERE id = $1
	`, id, models.StageFailed, counters.RecordsIn, counters.RecordsResolved,
		counters.RecordsPersisted, counters.RecordsProjected,
		len(recordErrors), recordErrors,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to mark pipeline run failed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark run failed")
	}
	return nil
}

// ListRecent returns the most recent runs for a source.
func (r *Repository) ListRecent(ctx context.Context, sourceID uuid.UUID, limit int) ([]models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.ListRecent")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("pipeline_runs")
	sb.Where(sb.Equal("source_id", sourceID))
	sb.OrderBy("started_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var runs []models.PipelineRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source_id": sourceID}).Error("Failed to list pipeline runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	return runs, nil
}
