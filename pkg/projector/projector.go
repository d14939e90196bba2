// Package projector keeps the graph in step with relational state.
package projector

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Londondannyboy/quest-sub003/pkg/metrics"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/normalize"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

// EntityStore is the relational surface the projector reads entities from.
type EntityStore interface {
	ListStale(ctx context.Context, limit int) ([]models.CanonicalEntity, error)
	ListStaleAliases(ctx context.Context, limit int) ([]models.CanonicalEntity, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CanonicalEntity, error)
	GetByNaturalKey(ctx context.Context, kind models.EntityKind, key string) (*models.CanonicalEntity, error)
	AdvanceSyncCursor(ctx context.Context, id uuid.UUID, syncedThrough time.Time) error
}

// ColleagueStore is the relational surface for colleagues.
type ColleagueStore interface {
	ListStale(ctx context.Context, limit int) ([]models.Colleague, error)
	AdvanceSyncCursor(ctx context.Context, id uuid.UUID, syncedThrough time.Time) error
}

// JobStore is the relational surface for job postings.
type JobStore interface {
	ListStale(ctx context.Context, limit int) ([]models.JobPosting, error)
	AdvanceSyncCursor(ctx context.Context, id uuid.UUID, syncedThrough time.Time) error
}

// GraphStore is the write surface of the graph.
type GraphStore interface {
	SyncEntity(ctx context.Context, entity *models.CanonicalEntity) error
	SyncColleague(ctx context.Context, colleague *models.Colleague) error
	SyncJob(ctx context.Context, posting *models.JobPosting, skillIDs []uuid.UUID) error
	RemoveEntity(ctx context.Context, kind models.EntityKind, id uuid.UUID) error
	AddEpisode(ctx context.Context, episode *models.Episode) error
}

// Stats summarizes one projection pass.
type Stats struct {
	Entities   int `json:"entities"`
	Colleagues int `json:"colleagues"`
	Jobs       int `json:"jobs"`
	Removed    int `json:"removed"`
	Failed     int `json:"failed"`

	// Failures carries per-subject failure detail so the run result can
	// report them. A subject that fails stays stale and retries next pass.
	Failures []models.RecordError `json:"failures,omitempty"`
}

// Total returns the number of subjects projected.
func (s Stats) Total() int {
	return s.Entities + s.Colleagues + s.Jobs
}

func (s *Stats) addFailure(kind models.EntityKind, naturalKey string, err error) {
	s.Failed++
	s.Failures = append(s.Failures, models.RecordError{
		Kind:       kind,
		NaturalKey: naturalKey,
		Stage:      models.StageProjecting,
		Reason:     err.Error(),
	})
}

// Projector walks stale rows, renders their episodes and writes nodes,
// edges and episodes into the graph, and removes the nodes of rows merged
// away as aliases. A subject's sync cursor advances only after its graph
// writes succeed; a failed subject stays stale and is retried on the next
// pass. An unreachable graph store aborts the pass with ErrInfrastructure
// instead of burning through the whole batch.
type Projector struct {
	logger     ectologger.Logger
	entities   EntityStore
	colleagues ColleagueStore
	jobs       JobStore
	graph      GraphStore
	renderer   *Renderer
	batchSize  int
}

// NewProjector creates a new Projector
func NewProjector(
	logger ectologger.Logger,
	entities EntityStore,
	colleagues ColleagueStore,
	jobs JobStore,
	graph GraphStore,
	batchSize int,
) *Projector {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Projector{
		logger:     logger,
		entities:   entities,
		colleagues: colleagues,
		jobs:       jobs,
		graph:      graph,
		renderer:   NewRenderer(),
		batchSize:  batchSize,
	}
}

// Project runs one full pass over all stale subjects.
func (p *Projector) Project(ctx context.Context) (Stats, error) {
	ctx, span := tracing.StartSpan(ctx, "projector.Projector.Project")
	defer span.End()

	var stats Stats

	if err := p.removeAliases(ctx, &stats); err != nil {
		return stats, err
	}
	if err := p.projectEntities(ctx, &stats); err != nil {
		return stats, err
	}
	if err := p.projectColleagues(ctx, &stats); err != nil {
		return stats, err
	}
	if err := p.projectJobs(ctx, &stats); err != nil {
		return stats, err
	}

	metrics.EpisodesProjectedTotal.Add(float64(stats.Total()))
	metrics.ProjectionFailuresTotal.Add(float64(stats.Failed))

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"entities":   stats.Entities,
		"colleagues": stats.Colleagues,
		"jobs":       stats.Jobs,
		"removed":    stats.Removed,
		"failed":     stats.Failed,
	}).Info("Projection pass complete")

	return stats, nil
}

// removeAliases sweeps rows merged away since their node was last
// projected and deletes their graph nodes, so a merged duplicate never
// lingers in the graph.
func (p *Projector) removeAliases(ctx context.Context, stats *Stats) error {
	aliases, err := p.entities.ListStaleAliases(ctx, p.batchSize)
	if err != nil {
		return err
	}

	for i := range aliases {
		alias := &aliases[i]

		if err := p.graph.RemoveEntity(ctx, alias.Kind, alias.ID); err != nil {
			if errors.Is(err, models.ErrInfrastructure) {
				return err
			}
			stats.addFailure(alias.Kind, naturalKey(alias), err)
			continue
		}

		if err := p.entities.AdvanceSyncCursor(ctx, alias.ID, alias.UpdatedAt); err != nil {
			stats.addFailure(alias.Kind, naturalKey(alias), err)
			continue
		}
		stats.Removed++
	}
	return nil
}

func (p *Projector) projectEntities(ctx context.Context, stats *Stats) error {
	entities, err := p.entities.ListStale(ctx, p.batchSize)
	if err != nil {
		return err
	}

	for i := range entities {
		entity := &entities[i]

		if err := p.graph.SyncEntity(ctx, entity); err != nil {
			if errors.Is(err, models.ErrInfrastructure) {
				return err
			}
			stats.addFailure(entity.Kind, naturalKey(entity), err)
			continue
		}

		body := p.renderer.RenderEntity(entity)
		episode := &models.Episode{
			ID:          p.renderer.Fingerprint(string(entity.Kind), entity.ID.String(), body),
			SubjectID:   entity.ID,
			SubjectKind: string(entity.Kind),
			Body:        body,
			RenderedAt:  time.Now().UTC(),
		}
		if err := p.graph.AddEpisode(ctx, episode); err != nil {
			if errors.Is(err, models.ErrInfrastructure) {
				return err
			}
			stats.addFailure(entity.Kind, naturalKey(entity), err)
			continue
		}

		if err := p.entities.AdvanceSyncCursor(ctx, entity.ID, entity.UpdatedAt); err != nil {
			stats.addFailure(entity.Kind, naturalKey(entity), err)
			continue
		}
		stats.Entities++
	}
	return nil
}

func (p *Projector) projectColleagues(ctx context.Context, stats *Stats) error {
	colleagues, err := p.colleagues.ListStale(ctx, p.batchSize)
	if err != nil {
		return err
	}

	for i := range colleagues {
		colleague := &colleagues[i]

		if err := p.graph.SyncColleague(ctx, colleague); err != nil {
			if errors.Is(err, models.ErrInfrastructure) {
				return err
			}
			stats.addFailure(models.KindPerson, colleague.LinkedinURL, err)
			continue
		}

		companyName := p.companyName(ctx, colleague.CompanyID)
		body := p.renderer.RenderColleague(colleague, companyName)
		episode := &models.Episode{
			ID:          p.renderer.Fingerprint("colleague", colleague.ID.String(), body),
			SubjectID:   colleague.ID,
			SubjectKind: "colleague",
			Body:        body,
			RenderedAt:  time.Now().UTC(),
		}
		if err := p.graph.AddEpisode(ctx, episode); err != nil {
			if errors.Is(err, models.ErrInfrastructure) {
				return err
			}
			stats.addFailure(models.KindPerson, colleague.LinkedinURL, err)
			continue
		}

		if err := p.colleagues.AdvanceSyncCursor(ctx, colleague.ID, colleague.UpdatedAt); err != nil {
			stats.addFailure(models.KindPerson, colleague.LinkedinURL, err)
			continue
		}
		stats.Colleagues++
	}
	return nil
}

func (p *Projector) projectJobs(ctx context.Context, stats *Stats) error {
	postings, err := p.jobs.ListStale(ctx, p.batchSize)
	if err != nil {
		return err
	}

	for i := range postings {
		posting := &postings[i]

		skillNames := classifiedSkills(posting)
		skillIDs := p.resolveSkills(ctx, skillNames)

		if err := p.graph.SyncJob(ctx, posting, skillIDs); err != nil {
			if errors.Is(err, models.ErrInfrastructure) {
				return err
			}
			stats.addFailure(models.KindJob, posting.PostingURL, err)
			continue
		}

		companyName := p.companyName(ctx, posting.CompanyID)
		body := p.renderer.RenderJob(posting, companyName, skillNames)
		episode := &models.Episode{
			ID:          p.renderer.Fingerprint("job", posting.ID.String(), body),
			SubjectID:   posting.ID,
			SubjectKind: "job",
			Body:        body,
			RenderedAt:  time.Now().UTC(),
		}
		if err := p.graph.AddEpisode(ctx, episode); err != nil {
			if errors.Is(err, models.ErrInfrastructure) {
				return err
			}
			stats.addFailure(models.KindJob, posting.PostingURL, err)
			continue
		}

		if err := p.jobs.AdvanceSyncCursor(ctx, posting.ID, posting.UpdatedAt); err != nil {
			stats.addFailure(models.KindJob, posting.PostingURL, err)
			continue
		}
		stats.Jobs++
	}
	return nil
}

func naturalKey(entity *models.CanonicalEntity) string {
	if entity.NaturalKey == nil {
		return ""
	}
	return *entity.NaturalKey
}

func (p *Projector) companyName(ctx context.Context, companyID *uuid.UUID) string {
	if companyID == nil {
		return ""
	}
	company, err := p.entities.Get(ctx, *companyID)
	if err != nil || company == nil {
		return ""
	}
	return company.Name
}

func (p *Projector) resolveSkills(ctx context.Context, names []string) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		skill, err := p.entities.GetByNaturalKey(ctx, models.KindSkill, normalize.Label(name))
		if err != nil || skill == nil {
			continue
		}
		ids = append(ids, skill.ID)
	}
	return ids
}

func classifiedSkills(posting *models.JobPosting) []string {
	if posting.ClassificationStatus != models.ClassificationClassified || len(posting.Classified) == 0 {
		return nil
	}
	var classified models.ClassifiedJob
	if err := json.Unmarshal(posting.Classified, &classified); err != nil {
		return nil
	}
	return classified.Skills
}
