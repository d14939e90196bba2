// Package matching decides how a normalized record relates to what the
// store already knows.
package matching

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/normalize"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

// EntityCandidateStore looks up canonical entities for matching.
type EntityCandidateStore interface {
	// GetByNaturalKey returns the active row for (kind, key), nil if none.
	GetByNaturalKey(ctx context.Context, kind models.EntityKind, key string) (*models.CanonicalEntity, error)

	// FuzzyCandidates returns coarse candidates for a name, prefiltered in
	// SQL. Final scoring happens in-process.
	FuzzyCandidates(ctx context.Context, kind models.EntityKind, name string, limit int) ([]models.CanonicalEntity, error)
}

// ColleagueStore looks up existing colleague rows for person records.
type ColleagueStore interface {
	GetByProfileURL(ctx context.Context, ownerUserID, linkedinURL string) (*models.Colleague, error)
}

// JobStore looks up existing job postings.
type JobStore interface {
	GetByPostingURL(ctx context.Context, postingURL string) (*models.JobPosting, error)
}

// ProfileDirectory resolves an owner's own profile URL so the engine can
// recognize self-matches.
type ProfileDirectory interface {
	OwnerProfileURL(ctx context.Context, ownerUserID string) (string, error)
}

// Config contains the matching thresholds.
type Config struct {
	// ProbableThreshold is the score at or above which a fuzzy candidate is
	// treated as the same entity.
	ProbableThreshold float64

	// AmbiguousThreshold is the floor of the review band. Scores between
	// the two thresholds are never auto-merged.
	AmbiguousThreshold float64

	// MaxCandidates bounds the coarse candidate fetch per record.
	MaxCandidates int
}

// DefaultConfig returns the default matching thresholds.
func DefaultConfig() Config {
	return Config{
		ProbableThreshold:  0.93,
		AmbiguousThreshold: 0.75,
		MaxCandidates:      50,
	}
}

// Engine implements entity matching logic.
type Engine struct {
	logger     ectologger.Logger
	entities   EntityCandidateStore
	colleagues ColleagueStore
	jobs       JobStore
	profiles   ProfileDirectory
	scorer     *Scorer
	config     Config
}

// NewEngine creates a new match engine.
func NewEngine(
	logger ectologger.Logger,
	entities EntityCandidateStore,
	colleagues ColleagueStore,
	jobs JobStore,
	profiles ProfileDirectory,
	config Config,
) *Engine {
	if config.ProbableThreshold <= 0 {
		config.ProbableThreshold = DefaultConfig().ProbableThreshold
	}
	if config.AmbiguousThreshold <= 0 {
		config.AmbiguousThreshold = DefaultConfig().AmbiguousThreshold
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = DefaultConfig().MaxCandidates
	}

	return &Engine{
		logger:     logger,
		entities:   entities,
		colleagues: colleagues,
		jobs:       jobs,
		profiles:   profiles,
		scorer:     NewScorer(),
		config:     config,
	}
}

// Match decides how the record relates to existing state. The exact
// natural-key lookup always runs first; the fuzzy tier only applies to
// company, skill and institution records.
func (e *Engine) Match(ctx context.Context, rec *models.NormalizedRecord) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Match")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":        rec.Kind,
		"natural_key": rec.NaturalKey,
		"owner":       rec.OwnerUserID,
	})

	switch rec.Kind {
	case models.KindPerson:
		return e.matchPerson(ctx, rec)
	case models.KindJob:
		return e.matchJob(ctx, rec)
	}

	if rec.NaturalKey != "" {
		existing, err := e.entities.GetByNaturalKey(ctx, rec.Kind, rec.NaturalKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.WithFields(map[string]any{"entity_id": existing.ID}).Debug("Exact natural key match")
			return &models.MatchDecision{Kind: models.MatchExactKey, EntityID: &existing.ID}, nil
		}
	}

	return e.matchFuzzy(ctx, rec)
}

func (e *Engine) matchPerson(ctx context.Context, rec *models.NormalizedRecord) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.matchPerson")
	defer span.End()

	ownerURL, err := e.profiles.OwnerProfileURL(ctx, rec.OwnerUserID)
	if err != nil {
		return nil, err
	}
	if ownerURL != "" && ownerURL == rec.NaturalKey {
		return &models.MatchDecision{Kind: models.MatchSelf, Score: 1.0}, nil
	}

	existing, err := e.colleagues.GetByProfileURL(ctx, rec.OwnerUserID, rec.NaturalKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &models.MatchDecision{Kind: models.MatchExactKey, EntityID: &existing.ID}, nil
	}

	return &models.MatchDecision{Kind: models.MatchNew}, nil
}

func (e *Engine) matchJob(ctx context.Context, rec *models.NormalizedRecord) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.matchJob")
	defer span.End()

	existing, err := e.jobs.GetByPostingURL(ctx, rec.NaturalKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &models.MatchDecision{Kind: models.MatchExactKey, EntityID: &existing.ID}, nil
	}

	return &models.MatchDecision{Kind: models.MatchNew}, nil
}

func (e *Engine) matchFuzzy(ctx context.Context, rec *models.NormalizedRecord) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.matchFuzzy")
	defer span.End()

	candidates, err := e.entities.FuzzyCandidates(ctx, rec.Kind, rec.Name, e.config.MaxCandidates)
	if err != nil {
		return nil, err
	}

	target := normalize.Label(rec.Name)

	decision := &models.MatchDecision{Kind: models.MatchNew}
	for i := range candidates {
		c := &candidates[i]
		score := e.scorer.JaroWinkler(target, normalize.Label(c.Name))

		if score >= e.config.AmbiguousThreshold {
			decision.CandidateIDs = append(decision.CandidateIDs, c.ID)
		}
		if score > decision.Score {
			decision.Score = score
			if score >= e.config.AmbiguousThreshold {
				decision.EntityID = &c.ID
			}
		}
	}

	switch {
	case decision.Score >= e.config.ProbableThreshold:
		decision.Kind = models.MatchProbable
		decision.CandidateIDs = nil
	case decision.Score >= e.config.AmbiguousThreshold:
		decision.Kind = models.MatchAmbiguous
		// Ambiguous records are never folded into a candidate.
		decision.EntityID = nil
	default:
		decision.Kind = models.MatchNew
		decision.EntityID = nil
		decision.CandidateIDs = nil
		decision.Score = 0
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":       rec.Kind,
		"name":       rec.Name,
		"decision":   decision.Kind,
		"best_score": decision.Score,
		"candidates": len(candidates),
	}).Debug("Fuzzy match decided")

	return decision, nil
}
