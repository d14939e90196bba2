// Package colleague persists people observed in an owner's network.
package colleague

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

const columns = "id, owner_user_id, linkedin_url, name, title, company_id, is_quest_user, quest_user_id, created_at, updated_at, synced_at"

// Repository handles colleague persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new colleague repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get returns a colleague by id, nil if missing.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Colleague, error) {
	ctx, span := tracing.StartSpan(ctx, "colleague.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("colleagues")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var colleague models.Colleague
	if err := r.db.GetContext(ctx, &colleague, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get colleague")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get colleague")
	}
	return &colleague, nil
}

// GetByProfileURL returns the colleague with the canonical profile URL for
// the owner, nil if none.
func (r *Repository) GetByProfileURL(ctx context.Context, ownerUserID, linkedinURL string) (*models.Colleague, error) {
	ctx, span := tracing.StartSpan(ctx, "colleague.Repository.GetByProfileURL")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("colleagues")
	sb.Where(
		sb.Equal("owner_user_id", ownerUserID),
		sb.Equal("linkedin_url", linkedinURL),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var colleague models.Colleague
	if err := r.db.GetContext(ctx, &colleague, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"linkedin_url": linkedinURL}).Error("Failed to get colleague by profile url")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get colleague")
	}
	return &colleague, nil
}

// UpsertByProfileURL creates or refreshes the row keyed by
// (owner_user_id, linkedin_url). Profile fields update in place so the row
// always reflects the freshest scrape. The quest user link is never touched
// here.
func (r *Repository) UpsertByProfileURL(ctx context.Context, req models.UpsertColleagueRequest) (*models.Colleague, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "colleague.Repository.UpsertByProfileURL")
	defer span.End()

	query := `
		INSERT INTO colleagues (
			id, owner_user_id, linkedin_url, name, title, company_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (owner_user_id, linkedin_url)
		DO UPDATE SET
			name = EXCLUDED.name,
			title = COALESCE(EXCLUDED.title, colleagues.title),
			company_id = COALESCE(EXCLUDED.company_id, colleagues.company_id),
			updated_at = now()
		RETURNING ` + columns + `, (xmax = 0) AS inserted
	`

	row := struct {
		models.Colleague
		Inserted bool `db:"inserted"`
	}{}

	err := r.db.GetContext(ctx, &row, query,
		uuid.New(), req.OwnerUserID, req.LinkedinURL, req.Name, req.Title, req.CompanyID,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"owner_user_id": req.OwnerUserID,
			"linkedin_url":  req.LinkedinURL,
		}).Error("Failed to upsert colleague")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert colleague")
	}

	return &row.Colleague, row.Inserted, nil
}

// LinkQuestUser marks a colleague as a platform user. The guard in the
// WHERE clause makes the link set-once: a second call with a different id
// changes nothing and reports false.
func (r *Repository) LinkQuestUser(ctx context.Context, colleagueID uuid.UUID, questUserID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "colleague.Repository.LinkQuestUser")
	defer span.End()

	res, err := r.db.ExecContext(ctx, `
		UPDATE colleagues
		SET is_quest_user = true, quest_user_id = $2, updated_at = now()
		WHERE id = $1 AND quest_user_id IS NULL
	`, colleagueID, questUserID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"colleague_id": colleagueID}).Error("Failed to link quest user")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to link quest user")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to link quest user")
	}
	return affected == 1, nil
}

// RepointCompany moves colleagues from one company to another. Used when
// canonical companies merge.
func (r *Repository) RepointCompany(ctx context.Context, fromCompanyID, toCompanyID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "colleague.Repository.RepointCompany")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		"UPDATE colleagues SET company_id = $2, updated_at = now() WHERE company_id = $1",
		fromCompanyID, toCompanyID,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to repoint colleague company")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to repoint colleagues")
	}
	return nil
}

// ListByCompany returns the colleagues attached to a company.
func (r *Repository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]models.Colleague, error) {
	ctx, span := tracing.StartSpan(ctx, "colleague.Repository.ListByCompany")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("colleagues")
	sb.Where(sb.Equal("company_id", companyID))
	sb.OrderBy("name ASC")

	query, args := sb.Build()
	var colleagues []models.Colleague
	if err := r.db.SelectContext(ctx, &colleagues, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"company_id": companyID}).Error("Failed to list colleagues by company")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list colleagues")
	}
	return colleagues, nil
}

// ListStale returns colleagues whose graph projection is behind.
func (r *Repository) ListStale(ctx context.Context, limit int) ([]models.Colleague, error) {
	ctx, span := tracing.StartSpan(ctx, "colleague.Repository.ListStale")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + columns + `
		FROM colleagues
		WHERE synced_at IS NULL OR synced_at < updated_at
		ORDER BY updated_at ASC
		LIMIT $1
	`

	var colleagues []models.Colleague
	if err := r.db.SelectContext(ctx, &colleagues, query, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list stale colleagues")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list stale colleagues")
	}
	return colleagues, nil
}

// AdvanceSyncCursor records a successful projection of the colleague state
// as of syncedThrough.
func (r *Repository) AdvanceSyncCursor(ctx context.Context, id uuid.UUID, syncedThrough time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "colleague.Repository.AdvanceSyncCursor")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		"UPDATE colleagues SET synced_at = $2 WHERE id = $1 AND (synced_at IS NULL OR synced_at < $2)",
		id, syncedThrough,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to advance colleague sync cursor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to advance sync cursor")
	}
	return nil
}
