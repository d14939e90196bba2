package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/projector"
	"github.com/Londondannyboy/quest-sub003/pkg/redis"
)

type fakeScraper struct {
	records []models.RawRecord
	err     error
}

func (f *fakeScraper) Scrape(_ context.Context, _ *models.ScrapeSource) ([]models.RawRecord, error) {
	return f.records, f.err
}

type fakeEntityStore struct {
	mu             sync.Mutex
	byKey          map[string]*models.CanonicalEntity
	created        []*models.CanonicalEntity
	touched        []uuid.UUID
	upsertOK       bool
	failNext       error
	createConflict bool
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{byKey: map[string]*models.CanonicalEntity{}, upsertOK: true}
}

func (f *fakeEntityStore) UpsertByNaturalKey(_ context.Context, req models.UpsertEntityRequest) (*models.CanonicalEntity, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		return nil, false, f.failNext
	}

	key := string(req.Kind) + ":" + req.NaturalKey
	if existing, ok := f.byKey[key]; ok && req.NaturalKey != "" {
		if req.Confidence > existing.Confidence {
			existing.Confidence = req.Confidence
		}
		existing.UpdatedAt = time.Now().UTC()
		return existing, false, nil
	}

	entity := &models.CanonicalEntity{
		ID:         uuid.New(),
		Kind:       req.Kind,
		Name:       req.Name,
		Status:     models.EntityStatusProvisional,
		Confidence: req.Confidence,
		UpdatedAt:  time.Now().UTC(),
	}
	if req.NaturalKey != "" {
		key := req.NaturalKey
		entity.NaturalKey = &key
		f.byKey[string(req.Kind)+":"+req.NaturalKey] = entity
	}
	f.created = append(f.created, entity)
	return entity, true, nil
}

func (f *fakeEntityStore) Create(_ context.Context, req models.UpsertEntityRequest, status models.EntityStatus, needsReview bool) (*models.CanonicalEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createConflict {
		f.createConflict = false
		return nil, models.ErrStoreConflict
	}
	entity := &models.CanonicalEntity{
		ID:          uuid.New(),
		Kind:        req.Kind,
		Name:        req.Name,
		Status:      status,
		NeedsReview: needsReview,
		Confidence:  req.Confidence,
	}
	f.created = append(f.created, entity)
	return entity, nil
}

func (f *fakeEntityStore) TouchScrape(_ context.Context, id uuid.UUID, _ float64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeEntityStore) count(kind models.EntityKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.created {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type fakeColleagueStore struct {
	mu    sync.Mutex
	byURL map[string]*models.Colleague
}

func newFakeColleagueStore() *fakeColleagueStore {
	return &fakeColleagueStore{byURL: map[string]*models.Colleague{}}
}

func (f *fakeColleagueStore) UpsertByProfileURL(_ context.Context, req models.UpsertColleagueRequest) (*models.Colleague, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byURL[req.LinkedinURL]; ok {
		existing.Name = req.Name
		existing.Title = req.Title
		if req.CompanyID != nil {
			existing.CompanyID = req.CompanyID
		}
		return existing, false, nil
	}
	colleague := &models.Colleague{
		ID:          uuid.New(),
		OwnerUserID: req.OwnerUserID,
		LinkedinURL: req.LinkedinURL,
		Name:        req.Name,
		Title:       req.Title,
		CompanyID:   req.CompanyID,
	}
	f.byURL[req.LinkedinURL] = colleague
	return colleague, true, nil
}

func (f *fakeColleagueStore) LinkQuestUser(_ context.Context, id uuid.UUID, questUserID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, colleague := range f.byURL {
		if colleague.ID != id {
			continue
		}
		if colleague.QuestUserID != nil {
			return false, nil
		}
		link := questUserID
		colleague.IsQuestUser = true
		colleague.QuestUserID = &link
		return true, nil
	}
	return false, nil
}

type fakeJobStore struct {
	mu           sync.Mutex
	byURL        map[string]*models.JobPosting
	classified   map[uuid.UUID]*models.ClassifiedJob
	unclassified map[uuid.UUID]bool
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		byURL:        map[string]*models.JobPosting{},
		classified:   map[uuid.UUID]*models.ClassifiedJob{},
		unclassified: map[uuid.UUID]bool{},
	}
}

func (f *fakeJobStore) UpsertByPostingURL(_ context.Context, req models.UpsertJobRequest) (*models.JobPosting, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byURL[req.PostingURL]; ok {
		existing.Title = req.Title
		return existing, false, nil
	}
	posting := &models.JobPosting{
		ID:         uuid.New(),
		PostingURL: req.PostingURL,
		CompanyID:  req.CompanyID,
		Title:      req.Title,
		SourceID:   req.SourceID,
	}
	f.byURL[req.PostingURL] = posting
	return posting, true, nil
}

func (f *fakeJobStore) SetClassification(_ context.Context, id uuid.UUID, classified *models.ClassifiedJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classified[id] = classified
	return nil
}

func (f *fakeJobStore) MarkUnclassified(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unclassified[id] = true
	return nil
}

// fakeRunStore mirrors the real repository's dedup: an in-flight or
// completed row for (source, window) blocks, a failed row is reclaimed.
type fakeRunStore struct {
	mu        sync.Mutex
	runs      map[string]*models.PipelineRun
	stages    []models.RunStage
	completed map[uuid.UUID]models.RunStage
	results   map[uuid.UUID]models.RunResult
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runs:      map[string]*models.PipelineRun{},
		completed: map[uuid.UUID]models.RunStage{},
		results:   map[uuid.UUID]models.RunResult{},
	}
}

func (f *fakeRunStore) Insert(_ context.Context, sourceID uuid.UUID, windowStart time.Time) (*models.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s:%d", sourceID, windowStart.Unix())
	if existing, ok := f.runs[key]; ok {
		if existing.Stage != models.StageFailed {
			return nil, models.ErrRunInFlight
		}
		existing.Stage = models.StageScheduled
		return existing, nil
	}
	run := &models.PipelineRun{
		ID:          uuid.New(),
		SourceID:    sourceID,
		WindowStart: windowStart,
		Stage:       models.StageScheduled,
	}
	f.runs[key] = run
	return run, nil
}

func (f *fakeRunStore) UpdateStage(_ context.Context, _ uuid.UUID, stage models.RunStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeRunStore) Complete(_ context.Context, id uuid.UUID, stage models.RunStage, counters models.RunResult, _ models.RecordErrors) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = stage
	f.results[id] = counters
	for _, run := range f.runs {
		if run.ID == id {
			run.Stage = stage
		}
	}
	return nil
}

func (f *fakeRunStore) Fail(_ context.Context, id uuid.UUID, counters models.RunResult, _ models.RecordErrors) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = counters
	for _, run := range f.runs {
		if run.ID == id {
			run.Stage = models.StageFailed
		}
	}
	return nil
}

type fakeSourceStore struct {
	source *models.ScrapeSource
	marked bool
}

func (f *fakeSourceStore) Get(_ context.Context, _ uuid.UUID) (*models.ScrapeSource, error) {
	return f.source, nil
}

func (f *fakeSourceStore) MarkRun(_ context.Context, _ uuid.UUID, _ time.Time) error {
	f.marked = true
	return nil
}

// fakeMatcher mirrors the real engine's outcomes for the fixtures in this
// file: exact key when the store knows the key, self for the owner's own
// profile, ambiguous for names listed in ambiguous, new otherwise.
type fakeMatcher struct {
	entities  *fakeEntityStore
	ownerURLs map[string]string
	ambiguous map[string]bool
}

func (f *fakeMatcher) Match(_ context.Context, rec *models.NormalizedRecord) (*models.MatchDecision, error) {
	if f.ambiguous[rec.Name] {
		return &models.MatchDecision{Kind: models.MatchAmbiguous, Score: 0.8}, nil
	}
	if rec.Kind == models.KindPerson {
		if f.ownerURLs[rec.OwnerUserID] == rec.NaturalKey {
			return &models.MatchDecision{Kind: models.MatchSelf, Score: 1.0}, nil
		}
		return &models.MatchDecision{Kind: models.MatchNew}, nil
	}
	if rec.Kind == models.KindJob {
		return &models.MatchDecision{Kind: models.MatchNew}, nil
	}
	f.entities.mu.Lock()
	existing, ok := f.entities.byKey[string(rec.Kind)+":"+rec.NaturalKey]
	f.entities.mu.Unlock()
	if ok && rec.NaturalKey != "" {
		return &models.MatchDecision{Kind: models.MatchExactKey, EntityID: &existing.ID}, nil
	}
	return &models.MatchDecision{Kind: models.MatchNew}, nil
}

type fakeClassifier struct {
	failURLs map[string]bool
}

func (f *fakeClassifier) Classify(_ context.Context, posting *models.JobPosting) (*models.ClassifiedJob, error) {
	if f.failURLs[posting.PostingURL] {
		return nil, fmt.Errorf("%w: schema rejected", models.ErrClassificationInvalid)
	}
	return &models.ClassifiedJob{
		Seniority:      "senior",
		EmploymentType: "full_time",
		RemotePolicy:   "remote",
		Skills:         []string{"Go"},
	}, nil
}

type fakeProjector struct {
	stats projector.Stats
	err   error
}

func (f *fakeProjector) Project(_ context.Context) (projector.Stats, error) {
	return f.stats, f.err
}

type passLocker struct {
	denied bool
}

func (l *passLocker) WithLock(_ context.Context, _ string, _ time.Duration, fn func() error) error {
	if l.denied {
		return redis.ErrLockNotAcquired
	}
	return fn()
}

type fakeProfiles struct {
	urls       map[string]string
	questByURL map[string]string
}

func (f *fakeProfiles) OwnerProfileURL(_ context.Context, ownerUserID string) (string, error) {
	return f.urls[ownerUserID], nil
}

func (f *fakeProfiles) QuestUserByProfileURL(_ context.Context, profileURL string) (string, error) {
	return f.questByURL[profileURL], nil
}

type testEnv struct {
	orchestrator *Orchestrator
	entities     *fakeEntityStore
	colleagues   *fakeColleagueStore
	jobs         *fakeJobStore
	runs         *fakeRunStore
	sources      *fakeSourceStore
	locker       *passLocker
	matcher      *fakeMatcher
	profiles     *fakeProfiles
	projector    *fakeProjector
}

func newTestEnv(scraper *fakeScraper, classifier *fakeClassifier, ownerURLs map[string]string) *testEnv {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	entities := newFakeEntityStore()
	colleagues := newFakeColleagueStore()
	jobs := newFakeJobStore()
	runs := newFakeRunStore()
	sources := &fakeSourceStore{source: &models.ScrapeSource{
		ID:          uuid.New(),
		Kind:        models.SourceKindJobBoard,
		OwnerUserID: "user-1",
		Enabled:     true,
	}}
	locker := &passLocker{}
	if ownerURLs == nil {
		ownerURLs = map[string]string{}
	}
	if classifier == nil {
		classifier = &fakeClassifier{}
	}
	matcher := &fakeMatcher{entities: entities, ownerURLs: ownerURLs, ambiguous: map[string]bool{}}
	profiles := &fakeProfiles{urls: ownerURLs, questByURL: map[string]string{}}
	proj := &fakeProjector{stats: projector.Stats{Entities: 1}}

	orchestrator := NewOrchestrator(
		logger,
		scraper,
		entities,
		colleagues,
		jobs,
		runs,
		sources,
		matcher,
		classifier,
		proj,
		locker,
		profiles,
		nil,
		DefaultConfig(),
	)

	return &testEnv{
		orchestrator: orchestrator,
		entities:     entities,
		colleagues:   colleagues,
		jobs:         jobs,
		runs:         runs,
		sources:      sources,
		locker:       locker,
		matcher:      matcher,
		profiles:     profiles,
		projector:    proj,
	}
}

func TestStartRunAcmeScenario(t *testing.T) {
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindCompany, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Acme Corporation", "website": "https://www.acme.com",
		}},
		{Kind: models.KindPerson, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Bob Smith", "linkedin_url": "linkedin.com/in/bob", "company_website": "acme.com", "company_name": "Acme Corporation",
		}},
		{Kind: models.KindJob, OwnerUserID: "user-1", Payload: map[string]any{
			"title": "Senior Go Engineer", "posting_url": "https://jobs.acme.com/1", "company_website": "acme.com", "company_name": "Acme Corporation",
		}},
	}}
	env := newTestEnv(scraper, nil, nil)

	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, result.RecordsIn)
	assert.Equal(t, 3, result.RecordsResolved)
	assert.Equal(t, 3, result.RecordsPersisted)
	assert.Empty(t, result.Errors)

	// One canonical company despite three mentions of it.
	assert.Equal(t, 1, env.entities.count(models.KindCompany))

	colleague := env.colleagues.byURL["https://linkedin.com/in/bob"]
	require.NotNil(t, colleague)
	require.NotNil(t, colleague.CompanyID)

	posting := env.jobs.byURL["https://jobs.acme.com/1"]
	require.NotNil(t, posting)
	assert.NotNil(t, env.jobs.classified[posting.ID])
	assert.True(t, env.sources.marked)
}

func TestStartRunClassificationFailuresAreData(t *testing.T) {
	var records []models.RawRecord
	failURLs := map[string]bool{}
	for i := 0; i < 10; i++ {
		url := fmt.Sprintf("https://jobs.acme.com/%d", i)
		records = append(records, models.RawRecord{
			Kind: models.KindJob, OwnerUserID: "user-1",
			Payload: map[string]any{"title": fmt.Sprintf("Role %d", i), "posting_url": url},
		})
		if i < 2 {
			failURLs["https://jobs.acme.com/"+fmt.Sprint(i)] = true
		}
	}
	env := newTestEnv(&fakeScraper{records: records}, &fakeClassifier{failURLs: failURLs}, nil)

	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)

	assert.Equal(t, 10, result.RecordsPersisted, "failed classification must not block persistence")
	assert.Len(t, result.Errors, 2)
	assert.Len(t, env.jobs.unclassified, 2)
	assert.Len(t, env.jobs.classified, 8)
}

func TestStartRunSelfMatchCreatesNoColleague(t *testing.T) {
	ownerURLs := map[string]string{"user-1": "https://linkedin.com/in/jane"}
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindPerson, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Jane Doe", "linkedin_url": "https://www.linkedin.com/in/jane/",
		}},
		{Kind: models.KindPerson, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Bob Smith", "linkedin_url": "linkedin.com/in/bob",
		}},
	}}
	env := newTestEnv(scraper, nil, ownerURLs)

	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RecordsResolved)
	assert.Equal(t, 1, result.RecordsPersisted)
	assert.NotContains(t, env.colleagues.byURL, "https://linkedin.com/in/jane")
	assert.Contains(t, env.colleagues.byURL, "https://linkedin.com/in/bob")
}

func TestStartRunMalformedRecordsAreData(t *testing.T) {
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindCompany, OwnerUserID: "user-1", Payload: map[string]any{"website": "acme.com"}},
		{Kind: models.KindSkill, OwnerUserID: "user-1", Payload: map[string]any{"name": "Go"}},
	}}
	env := newTestEnv(scraper, nil, nil)

	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RecordsIn)
	assert.Equal(t, 1, result.RecordsPersisted)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.StageNormalizing, result.Errors[0].Stage)
}

func TestStartRunLockDeniedReturnsRunInFlight(t *testing.T) {
	env := newTestEnv(&fakeScraper{}, nil, nil)
	env.locker.denied = true

	_, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	assert.True(t, errors.Is(err, models.ErrRunInFlight))
}

func TestStartRunInfrastructureFailureAborts(t *testing.T) {
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindCompany, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Acme Corporation", "website": "acme.com",
		}},
	}}
	env := newTestEnv(scraper, nil, nil)
	env.entities.failNext = errors.New("connection refused")

	_, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInfrastructure))
}

func TestDoubleIngestIsIdempotent(t *testing.T) {
	record := models.RawRecord{
		Kind: models.KindCompany, OwnerUserID: "user-1",
		Payload: map[string]any{"name": "Acme Corporation", "website": "https://acme.com"},
	}
	env := newTestEnv(&fakeScraper{records: []models.RawRecord{record, record}}, nil, nil)

	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RecordsPersisted)
	assert.Equal(t, 1, env.entities.count(models.KindCompany), "double ingest must converge on one row")
}

func TestStartRunRetriesWindowAfterAbort(t *testing.T) {
	scraper := &fakeScraper{err: errors.New("upstream timeout")}
	env := newTestEnv(scraper, nil, nil)

	_, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInfrastructure))

	// The scheduler retries the same window once the fault clears; the
	// failed row must not block it.
	scraper.err = nil
	scraper.records = []models.RawRecord{
		{Kind: models.KindCompany, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Acme Corporation", "website": "acme.com",
		}},
	}

	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsPersisted)
	assert.Len(t, env.runs.runs, 1, "retry must reclaim the failed row, not add a second")
	for _, run := range env.runs.runs {
		assert.Equal(t, models.StageCompleted, run.Stage)
	}
}

func TestStartRunCompletedWindowStaysDeduped(t *testing.T) {
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindSkill, OwnerUserID: "user-1", Payload: map[string]any{"name": "Go"}},
	}}
	env := newTestEnv(scraper, nil, nil)

	_, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)

	_, err = env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	assert.True(t, errors.Is(err, models.ErrRunInFlight), "a completed window must not rerun")
}

func TestStartRunGraphFailuresSurfaceInErrors(t *testing.T) {
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindCompany, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Acme Corporation", "website": "acme.com",
		}},
	}}
	env := newTestEnv(scraper, nil, nil)
	env.projector.stats = projector.Stats{
		Entities: 2,
		Failed:   1,
		Failures: []models.RecordError{{
			Kind:       models.KindCompany,
			NaturalKey: "acme.com",
			Stage:      models.StageProjecting,
			Reason:     "node write rejected",
		}},
	}

	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)

	require.Len(t, result.Errors, 1, "per-subject graph failures must land in the run's errors")
	assert.Equal(t, models.StageProjecting, result.Errors[0].Stage)
	assert.Equal(t, "acme.com", result.Errors[0].NaturalKey)
}

func TestStartRunGraphOutageAbortsThenRetries(t *testing.T) {
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindSkill, OwnerUserID: "user-1", Payload: map[string]any{"name": "Go"}},
	}}
	env := newTestEnv(scraper, nil, nil)
	env.projector.err = fmt.Errorf("%w: graph unreachable", models.ErrInfrastructure)

	_, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInfrastructure))

	env.projector.err = nil
	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
}

func TestStartRunLinksQuestUserColleague(t *testing.T) {
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindPerson, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Bob Smith", "linkedin_url": "linkedin.com/in/bob",
		}},
	}}
	env := newTestEnv(scraper, nil, nil)
	env.profiles.questByURL["https://linkedin.com/in/bob"] = "user-9"

	_, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)

	colleague := env.colleagues.byURL["https://linkedin.com/in/bob"]
	require.NotNil(t, colleague)
	assert.True(t, colleague.IsQuestUser)
	require.NotNil(t, colleague.QuestUserID)
	assert.Equal(t, "user-9", *colleague.QuestUserID)

	// The link is set-once: a later sighting under a different directory
	// answer must not rewrite it.
	env.profiles.questByURL["https://linkedin.com/in/bob"] = "user-7"
	_, err = env.orchestrator.ProcessOne(context.Background(), models.RawRecord{
		Kind: models.KindPerson, OwnerUserID: "user-1",
		Payload: map[string]any{"name": "Bob Smith", "linkedin_url": "linkedin.com/in/bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, "user-9", *colleague.QuestUserID)
}

func TestStartRunAmbiguousMatchFlagsReview(t *testing.T) {
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindCompany, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Acme Corporation", "website": "acme.com",
		}},
	}}
	env := newTestEnv(scraper, nil, nil)
	env.matcher.ambiguous["Acme Corporation"] = true

	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RecordsPersisted, "ambiguity is data, not a dropped record")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.StageResolving, result.Errors[0].Stage)
	assert.Equal(t, models.ErrAmbiguousMatch.Error(), result.Errors[0].Reason)

	require.Len(t, env.entities.created, 1)
	assert.True(t, env.entities.created[0].NeedsReview)
}

func TestStartRunAmbiguousInsertRaceFallsBackToUpsert(t *testing.T) {
	scraper := &fakeScraper{records: []models.RawRecord{
		{Kind: models.KindCompany, OwnerUserID: "user-1", Payload: map[string]any{
			"name": "Acme Corporation", "website": "acme.com",
		}},
	}}
	env := newTestEnv(scraper, nil, nil)
	env.matcher.ambiguous["Acme Corporation"] = true
	env.entities.createConflict = true

	result, err := env.orchestrator.StartRun(context.Background(), env.sources.source.ID)
	require.NoError(t, err, "a lost insert race must fold into the winning row")

	assert.Equal(t, 1, result.RecordsPersisted)
	assert.Equal(t, 1, env.entities.count(models.KindCompany))
}

func TestProcessOne(t *testing.T) {
	env := newTestEnv(&fakeScraper{}, nil, nil)

	recErr, err := env.orchestrator.ProcessOne(context.Background(), models.RawRecord{
		Kind: models.KindSkill, OwnerUserID: "user-1",
		Payload: map[string]any{"name": "Go"},
	})
	require.NoError(t, err)
	assert.Nil(t, recErr)
	assert.Equal(t, 1, env.entities.count(models.KindSkill))
}

func TestProcessOneMalformed(t *testing.T) {
	env := newTestEnv(&fakeScraper{}, nil, nil)

	recErr, err := env.orchestrator.ProcessOne(context.Background(), models.RawRecord{
		Kind: models.KindSkill, OwnerUserID: "user-1",
		Payload: map[string]any{},
	})
	require.NoError(t, err)
	require.NotNil(t, recErr)
	assert.Equal(t, models.StageNormalizing, recErr.Stage)
}
