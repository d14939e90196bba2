// Package job persists scraped job postings and their classifications.
package job

import (
	"context"
	"encoding/json"
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

const columns = "id, posting_url, company_id, title, description, classified, classification_status, source_id, scraped_at, created_at, updated_at, synced_at"

// Repository handles job posting persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new job posting repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get returns a posting by id, nil if missing.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.JobPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("job_postings")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var posting models.JobPosting
	if err := r.db.GetContext(ctx, &posting, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get job posting")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job posting")
	}
	return &posting, nil
}

// GetByPostingURL returns the posting with the canonical URL, nil if none.
func (r *Repository) GetByPostingURL(ctx context.Context, postingURL string) (*models.JobPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.GetByPostingURL")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("job_postings")
	sb.Where(sb.Equal("posting_url", postingURL))
	sb.Limit(1)

	query, args := sb.Build()
	var posting models.JobPosting
	if err := r.db.GetContext(ctx, &posting, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"posting_url": postingURL}).Error("Failed to get job posting by url")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get job posting")
	}
	return &posting, nil
}

// UpsertByPostingURL creates or refreshes the row keyed by posting_url.
// A re-scrape refreshes content but keeps an existing classification; the
// status only resets to pending for brand new rows.
func (r *Repository) UpsertByPostingURL(ctx context.Context, req models.UpsertJobRequest) (*models.JobPosting, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.UpsertByPostingURL")
	defer span.End()

	scrapedAt := req.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO job_postings (
			id, posting_url, company_id, title, description,
			classification_status, source_id, scraped_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (posting_url)
		DO UPDATE SET
			company_id = COALESCE(EXCLUDED.company_id, job_postings.company_id),
			title = EXCLUDED.title,
			description = COALESCE(EXCLUDED.description, job_postings.description),
			scraped_at = EXCLUDED.scraped_at,
			updated_at = now()
		RETURNING ` + columns + `, (xmax = 0) AS inserted
	`

	row := struct {
		models.JobPosting
		Inserted bool `db:"inserted"`
	}{}

	err := r.db.GetContext(ctx, &row, query,
		uuid.New(), req.PostingURL, req.CompanyID, req.Title, req.Description,
		models.ClassificationPending, req.SourceID, scrapedAt,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"posting_url": req.PostingURL}).Error("Failed to upsert job posting")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert job posting")
	}

	return &row.JobPosting, row.Inserted, nil
}

// SetClassification stores a validated extraction and marks the posting
// classified. Callers validate before calling; this write is all or
// nothing.
func (r *Repository) SetClassification(ctx context.Context, id uuid.UUID, classified *models.ClassifiedJob) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.SetClassification")
	defer span.End()

	payload, err := json.Marshal(classified)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode classification")
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE job_postings
		SET classified = $2, classification_status = $3, updated_at = now()
		WHERE id = $1
	`, id, payload, models.ClassificationClassified)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to set job classification")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set classification")
	}
	return nil
}

// MarkUnclassified records that classification failed for this posting.
// The posting itself stays persisted and queryable.
func (r *Repository) MarkUnclassified(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.MarkUnclassified")
	defer span.End()

	_, err := r.db.ExecContext(ctx, `
		UPDATE job_postings
		SET classification_status = $2, updated_at = now()
		WHERE id = $1
	`, id, models.ClassificationUnclassified)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to mark job unclassified")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark unclassified")
	}
	return nil
}

// RepointCompany moves postings from one company to another. Used when
// canonical companies merge.
func (r *Repository) RepointCompany(ctx context.Context, fromCompanyID, toCompanyID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.RepointCompany")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		"UPDATE job_postings SET company_id = $2, updated_at = now() WHERE company_id = $1",
		fromCompanyID, toCompanyID,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to repoint job company")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to repoint job postings")
	}
	return nil
}

// ListByCompany returns the postings attached to a company.
func (r *Repository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]models.JobPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.ListByCompany")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("job_postings")
	sb.Where(sb.Equal("company_id", companyID))
	sb.OrderBy("scraped_at DESC")

	query, args := sb.Build()
	var postings []models.JobPosting
	if err := r.db.SelectContext(ctx, &postings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"company_id": companyID}).Error("Failed to list job postings by company")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list job postings")
	}
	return postings, nil
}

// ListStale returns postings whose graph projection is behind.
func (r *Repository) ListStale(ctx context.Context, limit int) ([]models.JobPosting, error) {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.ListStale")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + columns + `
		FROM job_postings
		WHERE synced_at IS NULL OR synced_at < updated_at
		ORDER BY updated_at ASC
		LIMIT $1
	`

	var postings []models.JobPosting
	if err := r.db.SelectContext(ctx, &postings, query, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list stale job postings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list stale job postings")
	}
	return postings, nil
}

// AdvanceSyncCursor records a successful projection of the posting state
// as of syncedThrough.
func (r *Repository) AdvanceSyncCursor(ctx context.Context, id uuid.UUID, syncedThrough time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "job.Repository.AdvanceSyncCursor")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		"UPDATE job_postings SET synced_at = $2 WHERE id = $1 AND (synced_at IS NULL OR synced_at < $2)",
		id, syncedThrough,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to advance job sync cursor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to advance sync cursor")
	}
	return nil
}
