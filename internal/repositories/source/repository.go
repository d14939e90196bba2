// Package source persists scrape source configuration.
package source

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Londondannyboy/quest-sub003/internal/database"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/normalize"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

const columns = "id, kind, owner_user_id, endpoint, interval_seconds, enabled, last_run_at, created_at, updated_at"

// Repository handles scrape source persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new scrape source repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get returns a source by id, nil if missing.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.ScrapeSource, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("scrape_sources")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var src models.ScrapeSource
	if err := r.db.GetContext(ctx, &src, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get scrape source")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get source")
	}
	return &src, nil
}

// ListDue returns enabled sources whose interval has elapsed.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]models.ScrapeSource, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.ListDue")
	defer span.End()

	query := `
		SELECT ` + columns + `
		FROM scrape_sources
		WHERE enabled = true
		  AND (last_run_at IS NULL OR last_run_at + make_interval(secs => interval_seconds) <= $1)
		ORDER BY last_run_at ASC NULLS FIRST
	`

	var sources []models.ScrapeSource
	if err := r.db.SelectContext(ctx, &sources, query, now); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list due sources")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list due sources")
	}
	return sources, nil
}

// MarkRun stamps the source with its latest run time.
func (r *Repository) MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.MarkRun")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		"UPDATE scrape_sources SET last_run_at = $2, updated_at = now() WHERE id = $1",
		id, at,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to mark source run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark source run")
	}
	return nil
}

// OwnerProfileURL returns the owner's own canonical profile URL, taken
// from their profile-kind source. Empty when the owner has none; the match
// engine then simply never sees a self-match for them.
func (r *Repository) OwnerProfileURL(ctx context.Context, ownerUserID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.OwnerProfileURL")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("endpoint")
	sb.From("scrape_sources")
	sb.Where(
		sb.Equal("owner_user_id", ownerUserID),
		sb.Equal("kind", models.SourceKindProfile),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var endpoint string
	if err := r.db.GetContext(ctx, &endpoint, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return "", nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"owner_user_id": ownerUserID}).Error("Failed to get owner profile url")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to get owner profile")
	}

	canonical, err := normalize.CanonicalURL(endpoint)
	if err != nil {
		return "", nil
	}
	return canonical, nil
}

// QuestUserByProfileURL returns the platform user whose own profile-kind
// source points at the given canonical profile URL, empty when nobody does.
// Endpoints are stored as entered, so an ILIKE prefilter narrows to rows
// sharing the host and path before the canonical comparison in Go.
func (r *Repository) QuestUserByProfileURL(ctx context.Context, profileURL string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.QuestUserByProfileURL")
	defer span.End()

	if profileURL == "" {
		return "", nil
	}
	pattern := "%" + strings.TrimPrefix(profileURL, "https://") + "%"

	query := `
		SELECT owner_user_id, endpoint
		FROM scrape_sources
		WHERE kind = $1 AND endpoint ILIKE $2
	`

	var rows []struct {
		OwnerUserID string `db:"owner_user_id"`
		Endpoint    string `db:"endpoint"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, models.SourceKindProfile, pattern); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"profile_url": profileURL}).Error("Failed to look up quest user by profile url")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up quest user")
	}

	for _, row := range rows {
		canonical, err := normalize.CanonicalURL(row.Endpoint)
		if err != nil {
			continue
		}
		if canonical == profileURL {
			return row.OwnerUserID, nil
		}
	}
	return "", nil
}
