package matching

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

type fakeEntityStore struct {
	byKey      map[string]*models.CanonicalEntity
	candidates []models.CanonicalEntity
}

func (f *fakeEntityStore) GetByNaturalKey(_ context.Context, kind models.EntityKind, key string) (*models.CanonicalEntity, error) {
	return f.byKey[string(kind)+":"+key], nil
}

func (f *fakeEntityStore) FuzzyCandidates(_ context.Context, _ models.EntityKind, _ string, _ int) ([]models.CanonicalEntity, error) {
	return f.candidates, nil
}

type fakeColleagueStore struct {
	byURL map[string]*models.Colleague
}

func (f *fakeColleagueStore) GetByProfileURL(_ context.Context, _, url string) (*models.Colleague, error) {
	return f.byURL[url], nil
}

type fakeJobStore struct {
	byURL map[string]*models.JobPosting
}

func (f *fakeJobStore) GetByPostingURL(_ context.Context, url string) (*models.JobPosting, error) {
	return f.byURL[url], nil
}

type fakeProfiles struct {
	urls map[string]string
}

func (f *fakeProfiles) OwnerProfileURL(_ context.Context, ownerUserID string) (string, error) {
	return f.urls[ownerUserID], nil
}

func newTestEngine(entities *fakeEntityStore, colleagues *fakeColleagueStore, jobs *fakeJobStore, profiles *fakeProfiles) *Engine {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	if entities == nil {
		entities = &fakeEntityStore{byKey: map[string]*models.CanonicalEntity{}}
	}
	if colleagues == nil {
		colleagues = &fakeColleagueStore{byURL: map[string]*models.Colleague{}}
	}
	if jobs == nil {
		jobs = &fakeJobStore{byURL: map[string]*models.JobPosting{}}
	}
	if profiles == nil {
		profiles = &fakeProfiles{urls: map[string]string{}}
	}
	return NewEngine(logger, entities, colleagues, jobs, profiles, DefaultConfig())
}

func TestMatchExactNaturalKey(t *testing.T) {
	existing := &models.CanonicalEntity{ID: uuid.New(), Kind: models.KindCompany, Name: "Acme"}
	entities := &fakeEntityStore{byKey: map[string]*models.CanonicalEntity{
		"company:acme.com": existing,
	}}
	engine := newTestEngine(entities, nil, nil, nil)

	decision, err := engine.Match(context.Background(), &models.NormalizedRecord{
		Kind:       models.KindCompany,
		NaturalKey: "acme.com",
		Name:       "Acme Corporation",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MatchExactKey, decision.Kind)
	require.NotNil(t, decision.EntityID)
	assert.Equal(t, existing.ID, *decision.EntityID)
}

func TestMatchSelf(t *testing.T) {
	profiles := &fakeProfiles{urls: map[string]string{
		"user-1": "https://linkedin.com/in/jane-doe",
	}}
	engine := newTestEngine(nil, nil, nil, profiles)

	decision, err := engine.Match(context.Background(), &models.NormalizedRecord{
		Kind:        models.KindPerson,
		OwnerUserID: "user-1",
		NaturalKey:  "https://linkedin.com/in/jane-doe",
		Name:        "Jane Doe",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MatchSelf, decision.Kind)
	assert.Nil(t, decision.EntityID)
}

func TestMatchPersonExistingColleague(t *testing.T) {
	colleague := &models.Colleague{ID: uuid.New(), LinkedinURL: "https://linkedin.com/in/bob"}
	colleagues := &fakeColleagueStore{byURL: map[string]*models.Colleague{
		colleague.LinkedinURL: colleague,
	}}
	engine := newTestEngine(nil, colleagues, nil, nil)

	decision, err := engine.Match(context.Background(), &models.NormalizedRecord{
		Kind:        models.KindPerson,
		OwnerUserID: "user-1",
		NaturalKey:  "https://linkedin.com/in/bob",
		Name:        "Bob",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MatchExactKey, decision.Kind)
	assert.Equal(t, colleague.ID, *decision.EntityID)
}

func TestMatchJobByPostingURL(t *testing.T) {
	job := &models.JobPosting{ID: uuid.New(), PostingURL: "https://jobs.acme.com/1"}
	jobs := &fakeJobStore{byURL: map[string]*models.JobPosting{job.PostingURL: job}}
	engine := newTestEngine(nil, nil, jobs, nil)

	decision, err := engine.Match(context.Background(), &models.NormalizedRecord{
		Kind:       models.KindJob,
		NaturalKey: "https://jobs.acme.com/1",
		Title:      "Engineer",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MatchExactKey, decision.Kind)
}

func TestMatchFuzzyProbable(t *testing.T) {
	candidate := models.CanonicalEntity{ID: uuid.New(), Kind: models.KindCompany, Name: "Acme Corporation"}
	entities := &fakeEntityStore{
		byKey:      map[string]*models.CanonicalEntity{},
		candidates: []models.CanonicalEntity{candidate},
	}
	engine := newTestEngine(entities, nil, nil, nil)

	decision, err := engine.Match(context.Background(), &models.NormalizedRecord{
		Kind: models.KindCompany,
		Name: "Acme Corporation Inc",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MatchProbable, decision.Kind)
	require.NotNil(t, decision.EntityID)
	assert.Equal(t, candidate.ID, *decision.EntityID)
	assert.GreaterOrEqual(t, decision.Score, 0.93)
}

func TestMatchFuzzyAmbiguousNeverMerges(t *testing.T) {
	candidate := models.CanonicalEntity{ID: uuid.New(), Kind: models.KindCompany, Name: "Globex Corporation"}
	entities := &fakeEntityStore{
		byKey:      map[string]*models.CanonicalEntity{},
		candidates: []models.CanonicalEntity{candidate},
	}
	engine := newTestEngine(entities, nil, nil, nil)

	decision, err := engine.Match(context.Background(), &models.NormalizedRecord{
		Kind: models.KindCompany,
		Name: "Globex Group",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MatchAmbiguous, decision.Kind)
	assert.Nil(t, decision.EntityID, "ambiguous matches must not fold into a candidate")
	assert.Contains(t, decision.CandidateIDs, candidate.ID)
}

func TestMatchFuzzyNew(t *testing.T) {
	entities := &fakeEntityStore{
		byKey: map[string]*models.CanonicalEntity{},
		candidates: []models.CanonicalEntity{
			{ID: uuid.New(), Kind: models.KindSkill, Name: "knitting"},
		},
	}
	engine := newTestEngine(entities, nil, nil, nil)

	decision, err := engine.Match(context.Background(), &models.NormalizedRecord{
		Kind: models.KindSkill,
		Name: "Distributed Systems",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MatchNew, decision.Kind)
	assert.Nil(t, decision.EntityID)
	assert.Empty(t, decision.CandidateIDs)
}

func TestScorerJaroWinkler(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.JaroWinkler("acme", "acme"))
	assert.Equal(t, 0.0, s.JaroWinkler("", "acme"))
	assert.Greater(t, s.JaroWinkler("acme corporation", "acme corp"), s.JaroWinkler("acme corporation", "globex"))
}

func TestScorerLevenshtein(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 0, s.LevenshteinDistance("same", "same"))
	assert.Equal(t, 1, s.LevenshteinDistance("acme", "acmes"))
	assert.Equal(t, 4, s.LevenshteinDistance("", "acme"))
	assert.Equal(t, 1.0, s.Levenshtein("", ""))
}
