package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

type fakeEntityStore struct {
	stale        []models.CanonicalEntity
	staleAliases []models.CanonicalEntity
	byID         map[uuid.UUID]*models.CanonicalEntity
	byKey        map[string]*models.CanonicalEntity
	advanced     map[uuid.UUID]time.Time
}

func (f *fakeEntityStore) ListStale(_ context.Context, _ int) ([]models.CanonicalEntity, error) {
	return f.stale, nil
}

func (f *fakeEntityStore) ListStaleAliases(_ context.Context, _ int) ([]models.CanonicalEntity, error) {
	return f.staleAliases, nil
}

func (f *fakeEntityStore) Get(_ context.Context, id uuid.UUID) (*models.CanonicalEntity, error) {
	return f.byID[id], nil
}

func (f *fakeEntityStore) GetByNaturalKey(_ context.Context, kind models.EntityKind, key string) (*models.CanonicalEntity, error) {
	return f.byKey[string(kind)+":"+key], nil
}

func (f *fakeEntityStore) AdvanceSyncCursor(_ context.Context, id uuid.UUID, t time.Time) error {
	if f.advanced == nil {
		f.advanced = map[uuid.UUID]time.Time{}
	}
	f.advanced[id] = t
	return nil
}

type fakeColleagueStore struct {
	stale    []models.Colleague
	advanced map[uuid.UUID]time.Time
}

func (f *fakeColleagueStore) ListStale(_ context.Context, _ int) ([]models.Colleague, error) {
	return f.stale, nil
}

func (f *fakeColleagueStore) AdvanceSyncCursor(_ context.Context, id uuid.UUID, t time.Time) error {
	if f.advanced == nil {
		f.advanced = map[uuid.UUID]time.Time{}
	}
	f.advanced[id] = t
	return nil
}

type fakeJobStore struct {
	stale    []models.JobPosting
	advanced map[uuid.UUID]time.Time
}

func (f *fakeJobStore) ListStale(_ context.Context, _ int) ([]models.JobPosting, error) {
	return f.stale, nil
}

func (f *fakeJobStore) AdvanceSyncCursor(_ context.Context, id uuid.UUID, t time.Time) error {
	if f.advanced == nil {
		f.advanced = map[uuid.UUID]time.Time{}
	}
	f.advanced[id] = t
	return nil
}

type fakeGraph struct {
	episodes   []*models.Episode
	syncedJobs map[uuid.UUID][]uuid.UUID
	removed    []uuid.UUID
	syncErr    error
	episodeErr error
	removeErr  error
}

func (f *fakeGraph) SyncEntity(_ context.Context, _ *models.CanonicalEntity) error {
	return f.syncErr
}

func (f *fakeGraph) SyncColleague(_ context.Context, _ *models.Colleague) error {
	return f.syncErr
}

func (f *fakeGraph) SyncJob(_ context.Context, posting *models.JobPosting, skillIDs []uuid.UUID) error {
	if f.syncErr != nil {
		return f.syncErr
	}
	if f.syncedJobs == nil {
		f.syncedJobs = map[uuid.UUID][]uuid.UUID{}
	}
	f.syncedJobs[posting.ID] = skillIDs
	return nil
}

func (f *fakeGraph) RemoveEntity(_ context.Context, _ models.EntityKind, id uuid.UUID) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeGraph) AddEpisode(_ context.Context, episode *models.Episode) error {
	if f.episodeErr != nil {
		return f.episodeErr
	}
	f.episodes = append(f.episodes, episode)
	return nil
}

func newTestProjector(entities *fakeEntityStore, colleagues *fakeColleagueStore, jobs *fakeJobStore, graph *fakeGraph) *Projector {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	if entities == nil {
		entities = &fakeEntityStore{byID: map[uuid.UUID]*models.CanonicalEntity{}, byKey: map[string]*models.CanonicalEntity{}}
	}
	if colleagues == nil {
		colleagues = &fakeColleagueStore{}
	}
	if jobs == nil {
		jobs = &fakeJobStore{}
	}
	if graph == nil {
		graph = &fakeGraph{}
	}
	return NewProjector(logger, entities, colleagues, jobs, graph, 100)
}

func staleEntity(kind models.EntityKind, name string) models.CanonicalEntity {
	return models.CanonicalEntity{
		ID:         uuid.New(),
		Kind:       kind,
		Name:       name,
		Status:     models.EntityStatusProvisional,
		Confidence: 0.7,
		Attributes: json.RawMessage(`{}`),
		UpdatedAt:  time.Now().UTC(),
	}
}

func TestProjectAdvancesCursorAfterSuccess(t *testing.T) {
	entity := staleEntity(models.KindCompany, "Acme Corporation")
	entities := &fakeEntityStore{
		stale: []models.CanonicalEntity{entity},
		byID:  map[uuid.UUID]*models.CanonicalEntity{},
		byKey: map[string]*models.CanonicalEntity{},
	}
	graph := &fakeGraph{}
	p := newTestProjector(entities, nil, nil, graph)

	stats, err := p.Project(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Entities)
	assert.Len(t, graph.episodes, 1)
	assert.Equal(t, entity.UpdatedAt, entities.advanced[entity.ID])
}

func TestProjectCursorStaysOnGraphFailure(t *testing.T) {
	entity := staleEntity(models.KindCompany, "Acme Corporation")
	entities := &fakeEntityStore{
		stale: []models.CanonicalEntity{entity},
		byID:  map[uuid.UUID]*models.CanonicalEntity{},
		byKey: map[string]*models.CanonicalEntity{},
	}
	graph := &fakeGraph{episodeErr: errors.New("episode write rejected")}
	p := newTestProjector(entities, nil, nil, graph)

	stats, err := p.Project(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Entities)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, models.StageProjecting, stats.Failures[0].Stage)
	assert.Equal(t, models.KindCompany, stats.Failures[0].Kind)
	assert.NotContains(t, entities.advanced, entity.ID)
}

func TestProjectAbortsOnGraphOutage(t *testing.T) {
	entities := &fakeEntityStore{
		stale: []models.CanonicalEntity{staleEntity(models.KindCompany, "Acme Corporation")},
		byID:  map[uuid.UUID]*models.CanonicalEntity{},
		byKey: map[string]*models.CanonicalEntity{},
	}
	graph := &fakeGraph{syncErr: fmt.Errorf("%w: connection refused", models.ErrInfrastructure)}
	p := newTestProjector(entities, nil, nil, graph)

	_, err := p.Project(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInfrastructure), "an unreachable graph must abort the pass")
	assert.Empty(t, entities.advanced)
}

func TestProjectRemovesMergedAliasNodes(t *testing.T) {
	canonical := staleEntity(models.KindCompany, "Acme Corporation")
	alias := staleEntity(models.KindCompany, "Acme Corp")
	alias.AliasOf = &canonical.ID

	entities := &fakeEntityStore{
		staleAliases: []models.CanonicalEntity{alias},
		byID:         map[uuid.UUID]*models.CanonicalEntity{},
		byKey:        map[string]*models.CanonicalEntity{},
	}
	graph := &fakeGraph{}
	p := newTestProjector(entities, nil, nil, graph)

	stats, err := p.Project(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, []uuid.UUID{alias.ID}, graph.removed)
	assert.Equal(t, alias.UpdatedAt, entities.advanced[alias.ID], "a removed alias must not stay stale")
}

func TestProjectJobResolvesSkillEdges(t *testing.T) {
	goSkill := staleEntity(models.KindSkill, "Go")
	classified, _ := json.Marshal(models.ClassifiedJob{
		Seniority:      "senior",
		EmploymentType: "full_time",
		RemotePolicy:   "remote",
		Skills:         []string{"Go"},
	})
	posting := models.JobPosting{
		ID:                   uuid.New(),
		PostingURL:           "https://jobs.acme.com/1",
		Title:                "Senior Go Engineer",
		Classified:           classified,
		ClassificationStatus: models.ClassificationClassified,
		UpdatedAt:            time.Now().UTC(),
	}

	entities := &fakeEntityStore{
		byID:  map[uuid.UUID]*models.CanonicalEntity{},
		byKey: map[string]*models.CanonicalEntity{"skill:go": &goSkill},
	}
	jobs := &fakeJobStore{stale: []models.JobPosting{posting}}
	graph := &fakeGraph{}
	p := newTestProjector(entities, nil, jobs, graph)

	stats, err := p.Project(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Jobs)
	assert.Equal(t, []uuid.UUID{goSkill.ID}, graph.syncedJobs[posting.ID])
}

func TestRenderEntityByteIdentical(t *testing.T) {
	r := NewRenderer()
	entity := staleEntity(models.KindCompany, "Acme Corporation")
	key := "acme.com"
	entity.NaturalKey = &key
	entity.Attributes = json.RawMessage(`{"industry": "robotics", "size": "200"}`)

	first := r.RenderEntity(&entity)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.RenderEntity(&entity))
	}

	assert.Equal(t,
		r.Fingerprint("company", entity.ID.String(), first),
		r.Fingerprint("company", entity.ID.String(), r.RenderEntity(&entity)),
	)
}

func TestRenderJobSkillOrderStable(t *testing.T) {
	r := NewRenderer()
	posting := models.JobPosting{ID: uuid.New(), Title: "Engineer"}

	a := r.RenderJob(&posting, "Acme", []string{"Go", "Kubernetes", "PostgreSQL"})
	b := r.RenderJob(&posting, "Acme", []string{"PostgreSQL", "Go", "Kubernetes"})
	assert.Equal(t, a, b)
}

func TestRenderEntityChangesWithState(t *testing.T) {
	r := NewRenderer()
	entity := staleEntity(models.KindCompany, "Acme Corporation")

	before := r.RenderEntity(&entity)
	entity.Status = models.EntityStatusValidated
	entity.Confidence = 0.95
	after := r.RenderEntity(&entity)

	assert.NotEqual(t, before, after)
}
