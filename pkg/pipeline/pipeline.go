// Package pipeline orchestrates the scrape-to-graph run lifecycle.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Londondannyboy/quest-sub003/pkg/classify"
	"github.com/Londondannyboy/quest-sub003/pkg/matching"
	"github.com/Londondannyboy/quest-sub003/pkg/metrics"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/normalize"
	"github.com/Londondannyboy/quest-sub003/pkg/projector"
	"github.com/Londondannyboy/quest-sub003/pkg/redis"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

// Scraper fetches raw records from a configured source.
type Scraper interface {
	Scrape(ctx context.Context, source *models.ScrapeSource) ([]models.RawRecord, error)
}

// EntityStore is the canonical entity surface the orchestrator writes to.
type EntityStore interface {
	UpsertByNaturalKey(ctx context.Context, req models.UpsertEntityRequest) (*models.CanonicalEntity, bool, error)
	Create(ctx context.Context, req models.UpsertEntityRequest, status models.EntityStatus, needsReview bool) (*models.CanonicalEntity, error)
	TouchScrape(ctx context.Context, id uuid.UUID, confidence float64, scrapedAt time.Time) error
}

// ColleagueStore is the colleague surface the orchestrator writes to.
type ColleagueStore interface {
	UpsertByProfileURL(ctx context.Context, req models.UpsertColleagueRequest) (*models.Colleague, bool, error)
	LinkQuestUser(ctx context.Context, colleagueID uuid.UUID, questUserID string) (bool, error)
}

// JobStore is the job posting surface the orchestrator writes to.
type JobStore interface {
	UpsertByPostingURL(ctx context.Context, req models.UpsertJobRequest) (*models.JobPosting, bool, error)
	SetClassification(ctx context.Context, id uuid.UUID, classified *models.ClassifiedJob) error
	MarkUnclassified(ctx context.Context, id uuid.UUID) error
}

// RunStore persists run rows.
type RunStore interface {
	Insert(ctx context.Context, sourceID uuid.UUID, windowStart time.Time) (*models.PipelineRun, error)
	UpdateStage(ctx context.Context, id uuid.UUID, stage models.RunStage) error
	Complete(ctx context.Context, id uuid.UUID, stage models.RunStage, counters models.RunResult, recordErrors models.RecordErrors) error
	Fail(ctx context.Context, id uuid.UUID, counters models.RunResult, recordErrors models.RecordErrors) error
}

// SourceStore reads and stamps scrape sources.
type SourceStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.ScrapeSource, error)
	MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Matcher decides how a record relates to existing state.
type Matcher interface {
	Match(ctx context.Context, rec *models.NormalizedRecord) (*models.MatchDecision, error)
}

// GraphProjector runs a projection pass.
type GraphProjector interface {
	Project(ctx context.Context) (projector.Stats, error)
}

// ProfileDirectory resolves platform users by their profile URLs. The
// forward lookup feeds self-match ordering; the reverse lookup links
// colleagues to platform accounts.
type ProfileDirectory interface {
	matching.ProfileDirectory
	QuestUserByProfileURL(ctx context.Context, profileURL string) (string, error)
}

// RunLocker guards run exclusivity.
type RunLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// EventEmitter publishes pipeline lifecycle events. Nil is allowed.
type EventEmitter interface {
	EntityCreated(ctx context.Context, entity *models.CanonicalEntity)
	RunCompleted(ctx context.Context, result *models.RunResult)
}

// Config contains orchestrator tuning.
type Config struct {
	// Window is the dedup window for runs. Two run requests for the same
	// source inside one window collapse to a single run.
	Window time.Duration

	// Workers bounds resolve/persist concurrency.
	Workers int

	// LockTTL bounds how long a crashed run can hold its lock.
	LockTTL time.Duration
}

// DefaultConfig returns the default orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		Window:  time.Hour,
		Workers: 8,
		LockTTL: 15 * time.Minute,
	}
}

// Orchestrator drives a pipeline run through its stages.
type Orchestrator struct {
	logger     ectologger.Logger
	scraper    Scraper
	entities   EntityStore
	colleagues ColleagueStore
	jobs       JobStore
	runs       RunStore
	sources    SourceStore
	matcher    Matcher
	classifier classify.Classifier
	projector  GraphProjector
	locker     RunLocker
	profiles   ProfileDirectory
	events     EventEmitter
	config     Config
}

// NewOrchestrator creates a new pipeline orchestrator.
func NewOrchestrator(
	logger ectologger.Logger,
	scraper Scraper,
	entities EntityStore,
	colleagues ColleagueStore,
	jobs JobStore,
	runs RunStore,
	sources SourceStore,
	matcher Matcher,
	classifier classify.Classifier,
	graphProjector GraphProjector,
	locker RunLocker,
	profiles ProfileDirectory,
	events EventEmitter,
	config Config,
) *Orchestrator {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultConfig().LockTTL
	}

	return &Orchestrator{
		logger:     logger,
		scraper:    scraper,
		entities:   entities,
		colleagues: colleagues,
		jobs:       jobs,
		runs:       runs,
		sources:    sources,
		matcher:    matcher,
		classifier: classifier,
		projector:  graphProjector,
		locker:     locker,
		profiles:   profiles,
		events:     events,
		config:     config,
	}
}

// StartRun executes one full pipeline run for the source. A Redis lock on
// the (source, window) pair is the fast path for exclusivity; the unique
// run row is the relational backstop. Either failing surfaces as
// ErrRunInFlight.
func (o *Orchestrator) StartRun(ctx context.Context, sourceID uuid.UUID) (*models.RunResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Orchestrator.StartRun")
	defer span.End()

	source, err := o.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("source %s not found", sourceID)
	}

	windowStart := time.Now().UTC().Truncate(o.config.Window)
	lockKey := fmt.Sprintf("pipeline:run:%s:%d", sourceID, windowStart.Unix())

	var result *models.RunResult
	err = o.locker.WithLock(ctx, lockKey, o.config.LockTTL, func() error {
		var runErr error
		result, runErr = o.executeRun(ctx, source, windowStart)
		return runErr
	})
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return nil, models.ErrRunInFlight
		}
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) executeRun(ctx context.Context, source *models.ScrapeSource, windowStart time.Time) (*models.RunResult, error) {
	started := time.Now()

	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":    source.ID,
		"window_start": windowStart,
	})

	run, err := o.runs.Insert(ctx, source.ID, windowStart)
	if err != nil {
		return nil, err
	}

	log = log.WithFields(map[string]any{"run_id": run.ID})
	log.Info("Pipeline run started")

	collector := newRunCollector()

	raws, err := o.scrapeStage(ctx, run, source)
	if err != nil {
		return nil, o.abortRun(ctx, run, models.StageScraping, collector, err)
	}
	collector.recordsIn = len(raws)

	records := o.normalizeStage(ctx, run, raws, collector)

	if err := o.resolveStage(ctx, run, records, collector); err != nil {
		return nil, o.abortRun(ctx, run, models.StageResolving, collector, err)
	}

	if err := o.runs.UpdateStage(ctx, run.ID, models.StageProjecting); err != nil {
		return nil, o.abortRun(ctx, run, models.StagePersisting, collector, err)
	}
	stats, err := o.projector.Project(ctx)
	if err != nil {
		return nil, o.abortRun(ctx, run, models.StageProjecting, collector, err)
	}
	collector.projected = stats.Total()
	for _, recErr := range stats.Failures {
		collector.addError(recErr)
	}

	result := collector.result(run.ID)
	if err := o.runs.Complete(ctx, run.ID, models.StageCompleted, *result, collector.errors); err != nil {
		return nil, err
	}
	if err := o.sources.MarkRun(ctx, source.ID, started); err != nil {
		return nil, err
	}

	metrics.PipelineRunsTotal.WithLabelValues("completed").Inc()
	metrics.PipelineRunDuration.Observe(time.Since(started).Seconds())

	if o.events != nil {
		o.events.RunCompleted(ctx, result)
	}

	log.WithFields(map[string]any{
		"records_in":        result.RecordsIn,
		"records_resolved":  result.RecordsResolved,
		"records_persisted": result.RecordsPersisted,
		"records_projected": result.RecordsProjected,
		"errors":            len(result.Errors),
	}).Info("Pipeline run completed")

	return result, nil
}

// abortRun marks a run that hit an infrastructure failure as failed. A
// failed row is reclaimable, so the scheduler's next attempt in the same
// window retries the full run instead of seeing ErrRunInFlight. The error
// wraps ErrInfrastructure.
func (o *Orchestrator) abortRun(ctx context.Context, run *models.PipelineRun, stage models.RunStage, collector *runCollector, cause error) error {
	o.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"run_id": run.ID,
		"stage":  stage,
	}).Error("Pipeline run aborted")

	result := collector.result(run.ID)
	if err := o.runs.Fail(ctx, run.ID, *result, collector.errors); err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to finalize aborted run")
	}

	metrics.PipelineRunsTotal.WithLabelValues("aborted").Inc()

	if errors.Is(cause, models.ErrInfrastructure) {
		return cause
	}
	return fmt.Errorf("%w: %v", models.ErrInfrastructure, cause)
}

func (o *Orchestrator) scrapeStage(ctx context.Context, run *models.PipelineRun, source *models.ScrapeSource) ([]models.RawRecord, error) {
	if err := o.runs.UpdateStage(ctx, run.ID, models.StageScraping); err != nil {
		return nil, err
	}
	return o.scraper.Scrape(ctx, source)
}

func (o *Orchestrator) normalizeStage(ctx context.Context, run *models.PipelineRun, raws []models.RawRecord, collector *runCollector) []*models.NormalizedRecord {
	if err := o.runs.UpdateStage(ctx, run.ID, models.StageNormalizing); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warn("Failed to update run stage")
	}

	records := make([]*models.NormalizedRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := normalize.Normalize(raw.Kind, raw.SourceID, raw.OwnerUserID, raw.Payload)
		if err != nil {
			collector.addError(models.RecordError{
				Kind:   raw.Kind,
				Stage:  models.StageNormalizing,
				Reason: err.Error(),
			})
			metrics.RecordsProcessedTotal.WithLabelValues(string(models.StageNormalizing), "error").Inc()
			continue
		}
		if !raw.ScrapedAt.IsZero() && rec.ScrapedAt.IsZero() {
			rec.ScrapedAt = raw.ScrapedAt
		}
		metrics.RecordsProcessedTotal.WithLabelValues(string(models.StageNormalizing), "ok").Inc()
		records = append(records, rec)
	}
	return records
}

// resolveStage matches and persists records. Independent records run on a
// bounded worker pool; an owner's person records form one sequential unit
// ordered self-first, so the owner's own profile can never race its
// colleagues into a colleague row.
func (o *Orchestrator) resolveStage(ctx context.Context, run *models.PipelineRun, records []*models.NormalizedRecord, collector *runCollector) error {
	if err := o.runs.UpdateStage(ctx, run.ID, models.StageResolving); err != nil {
		return err
	}

	var units [][]*models.NormalizedRecord
	persons := map[string][]*models.NormalizedRecord{}
	for _, rec := range records {
		if rec.Kind == models.KindPerson {
			persons[rec.OwnerUserID] = append(persons[rec.OwnerUserID], rec)
			continue
		}
		units = append(units, []*models.NormalizedRecord{rec})
	}
	for owner, group := range persons {
		o.orderSelfFirst(ctx, owner, group)
		units = append(units, group)
	}

	if err := o.runs.UpdateStage(ctx, run.ID, models.StagePersisting); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Workers)

	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			for _, rec := range unit {
				if err := o.processRecord(groupCtx, rec, collector); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func (o *Orchestrator) orderSelfFirst(ctx context.Context, ownerUserID string, group []*models.NormalizedRecord) {
	ownerURL, err := o.profiles.OwnerProfileURL(ctx, ownerUserID)
	if err != nil || ownerURL == "" {
		return
	}
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].NaturalKey == ownerURL && group[j].NaturalKey != ownerURL
	})
}

// processRecord resolves and persists one record. Record-level failures
// are accumulated as data; only infrastructure errors propagate and abort
// the run.
func (o *Orchestrator) processRecord(ctx context.Context, rec *models.NormalizedRecord, collector *runCollector) error {
	decision, err := o.matcher.Match(ctx, rec)
	if err != nil {
		return err
	}
	metrics.MatchDecisionsTotal.WithLabelValues(string(decision.Kind)).Inc()
	collector.addResolved()

	switch rec.Kind {
	case models.KindPerson:
		return o.persistPerson(ctx, rec, decision, collector)
	case models.KindJob:
		return o.persistJob(ctx, rec, collector)
	default:
		return o.persistEntity(ctx, rec, decision, collector)
	}
}

func (o *Orchestrator) persistEntity(ctx context.Context, rec *models.NormalizedRecord, decision *models.MatchDecision, collector *runCollector) error {
	req := models.UpsertEntityRequest{
		Kind:       rec.Kind,
		Name:       rec.Name,
		NaturalKey: rec.NaturalKey,
		Confidence: 0.6,
		Attributes: marshalAttributes(rec.Attributes),
		ScrapedAt:  rec.ScrapedAt,
	}

	switch decision.Kind {
	case models.MatchExactKey, models.MatchNew:
		if rec.NaturalKey != "" {
			entity, inserted, err := o.entities.UpsertByNaturalKey(ctx, req)
			if err != nil {
				return err
			}
			if inserted && o.events != nil {
				o.events.EntityCreated(ctx, entity)
			}
		} else {
			entity, err := o.entities.Create(ctx, req, models.EntityStatusProvisional, false)
			if err != nil {
				return err
			}
			if o.events != nil {
				o.events.EntityCreated(ctx, entity)
			}
		}
	case models.MatchProbable:
		if err := o.entities.TouchScrape(ctx, *decision.EntityID, decision.Score, rec.ScrapedAt); err != nil {
			return err
		}
	case models.MatchAmbiguous:
		entity, err := o.entities.Create(ctx, req, models.EntityStatusProvisional, true)
		switch {
		case errors.Is(err, models.ErrStoreConflict):
			// Lost the insert race to a concurrent worker; the key exists
			// now, so the record folds into the row that won.
			if _, _, err := o.entities.UpsertByNaturalKey(ctx, req); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if o.events != nil {
				o.events.EntityCreated(ctx, entity)
			}
		}

		collector.addError(models.RecordError{
			Kind:       rec.Kind,
			NaturalKey: rec.NaturalKey,
			Stage:      models.StageResolving,
			Reason:     models.ErrAmbiguousMatch.Error(),
		})
	}

	collector.addPersisted()
	metrics.RecordsProcessedTotal.WithLabelValues(string(models.StagePersisting), "ok").Inc()
	return nil
}

func (o *Orchestrator) persistPerson(ctx context.Context, rec *models.NormalizedRecord, decision *models.MatchDecision, collector *runCollector) error {
	// The owner's own profile never becomes a colleague of itself.
	if decision.Kind == models.MatchSelf {
		metrics.RecordsProcessedTotal.WithLabelValues(string(models.StagePersisting), "self").Inc()
		return nil
	}

	companyID, err := o.resolveCompany(ctx, rec)
	if err != nil {
		return err
	}

	var title *string
	if rec.Title != "" {
		title = &rec.Title
	}

	colleague, _, err := o.colleagues.UpsertByProfileURL(ctx, models.UpsertColleagueRequest{
		OwnerUserID: rec.OwnerUserID,
		LinkedinURL: rec.NaturalKey,
		Name:        rec.Name,
		Title:       title,
		CompanyID:   companyID,
	})
	if err != nil {
		return err
	}

	// A colleague whose profile URL belongs to a platform account gets
	// linked the moment it is seen. The store guard keeps the link set-once.
	if colleague.QuestUserID == nil {
		questUserID, err := o.profiles.QuestUserByProfileURL(ctx, rec.NaturalKey)
		if err != nil {
			return err
		}
		if questUserID != "" {
			if _, err := o.colleagues.LinkQuestUser(ctx, colleague.ID, questUserID); err != nil {
				return err
			}
		}
	}

	collector.addPersisted()
	metrics.RecordsProcessedTotal.WithLabelValues(string(models.StagePersisting), "ok").Inc()
	return nil
}

func (o *Orchestrator) persistJob(ctx context.Context, rec *models.NormalizedRecord, collector *runCollector) error {
	companyID, err := o.resolveCompany(ctx, rec)
	if err != nil {
		return err
	}

	var description *string
	if rec.Description != "" {
		description = &rec.Description
	}

	posting, _, err := o.jobs.UpsertByPostingURL(ctx, models.UpsertJobRequest{
		PostingURL:  rec.NaturalKey,
		CompanyID:   companyID,
		Title:       rec.Title,
		Description: description,
		SourceID:    rec.SourceID,
		ScrapedAt:   rec.ScrapedAt,
	})
	if err != nil {
		return err
	}

	collector.addPersisted()
	metrics.RecordsProcessedTotal.WithLabelValues(string(models.StagePersisting), "ok").Inc()

	classified, err := o.classifier.Classify(ctx, posting)
	if err != nil {
		if markErr := o.jobs.MarkUnclassified(ctx, posting.ID); markErr != nil {
			return markErr
		}
		collector.addError(models.RecordError{
			Kind:       models.KindJob,
			NaturalKey: rec.NaturalKey,
			Stage:      models.StagePersisting,
			Reason:     err.Error(),
		})
		return nil
	}

	if err := o.jobs.SetClassification(ctx, posting.ID, classified); err != nil {
		return err
	}

	// Classified skills become canonical skill entities so the projector
	// can draw REQUIRES_SKILL edges.
	for _, skill := range classified.Skills {
		_, _, err := o.entities.UpsertByNaturalKey(ctx, models.UpsertEntityRequest{
			Kind:       models.KindSkill,
			Name:       skill,
			NaturalKey: normalize.Label(skill),
			Confidence: 0.6,
			ScrapedAt:  rec.ScrapedAt,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// resolveCompany upserts the company referenced by a person or job record
// and returns its id. Records without company linkage resolve to nil.
func (o *Orchestrator) resolveCompany(ctx context.Context, rec *models.NormalizedRecord) (*uuid.UUID, error) {
	if rec.CompanyKey == "" && rec.CompanyName == "" {
		return nil, nil
	}

	name := rec.CompanyName
	if name == "" {
		name = rec.CompanyKey
	}

	entity, _, err := o.entities.UpsertByNaturalKey(ctx, models.UpsertEntityRequest{
		Kind:       models.KindCompany,
		Name:       name,
		NaturalKey: rec.CompanyKey,
		Confidence: 0.6,
		ScrapedAt:  rec.ScrapedAt,
	})
	if err != nil {
		return nil, err
	}
	return &entity.ID, nil
}

// ProcessOne resolves and persists a single record outside a run. Used by
// the streaming intake path.
func (o *Orchestrator) ProcessOne(ctx context.Context, raw models.RawRecord) (*models.RecordError, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Orchestrator.ProcessOne")
	defer span.End()

	rec, err := normalize.Normalize(raw.Kind, raw.SourceID, raw.OwnerUserID, raw.Payload)
	if err != nil {
		return &models.RecordError{
			Kind:   raw.Kind,
			Stage:  models.StageNormalizing,
			Reason: err.Error(),
		}, nil
	}

	collector := newRunCollector()
	if err := o.processRecord(ctx, rec, collector); err != nil {
		return nil, err
	}

	// Same lifecycle as a run: the record is not done until the graph has
	// caught up with it.
	stats, err := o.projector.Project(ctx)
	if err != nil {
		return nil, err
	}
	for _, recErr := range stats.Failures {
		collector.addError(recErr)
	}

	if len(collector.errors) > 0 {
		return &collector.errors[0], nil
	}
	return nil, nil
}

// runCollector accumulates counters and record errors across the worker
// pool.
type runCollector struct {
	mu        sync.Mutex
	recordsIn int
	resolved  int
	persisted int
	projected int
	errors    models.RecordErrors
}

func newRunCollector() *runCollector {
	return &runCollector{}
}

func (c *runCollector) addResolved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved++
}

func (c *runCollector) addPersisted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisted++
}

func (c *runCollector) addError(recErr models.RecordError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, recErr)
}

func (c *runCollector) result(runID uuid.UUID) *models.RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &models.RunResult{
		RunID:            runID,
		RecordsIn:        c.recordsIn,
		RecordsResolved:  c.resolved,
		RecordsPersisted: c.persisted,
		RecordsProjected: c.projected,
		Errors:           append([]models.RecordError{}, c.errors...),
	}
}

func marshalAttributes(attrs map[string]any) json.RawMessage {
	if len(attrs) == 0 {
		return nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil
	}
	return raw
}
