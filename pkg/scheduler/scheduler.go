// Package scheduler polls for due scrape sources and starts pipeline runs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Londondannyboy/quest-sub003/pkg/metrics"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

var (
	// ErrSchedulerStopped is returned when the scheduler is stopped
	ErrSchedulerStopped = errors.New("scheduler stopped")

	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultPollInterval is the default interval between scheduling cycles
	DefaultPollInterval = 30 * time.Second
)

// SourceLister returns the sources due for a run.
type SourceLister interface {
	ListDue(ctx context.Context, now time.Time) ([]models.ScrapeSource, error)
}

// RunStarter starts a pipeline run for a source.
type RunStarter interface {
	StartRun(ctx context.Context, sourceID uuid.UUID) (*models.RunResult, error)
}

// Config holds configuration for the scheduler
type Config struct {
	// PollInterval is how often to check for due sources
	PollInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
	}
}

// Scheduler polls for due sources and starts runs. Run exclusivity lives
// in the orchestrator, so a cycle that races another instance simply sees
// ErrRunInFlight and moves on.
type Scheduler struct {
	sources SourceLister
	starter RunStarter
	config  Config
	logger  ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(sources SourceLister, starter RunStarter, config Config, logger ectologger.Logger) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	return &Scheduler{
		sources:  sources,
		starter:  starter,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s", s.config.PollInterval)

	go s.pollLoop(ctx)

	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.runCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler poll loop stopping")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.runCycle")
	defer span.End()

	start := time.Now()

	due, err := s.sources.ListDue(ctx, start.UTC())
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list due sources")
		return
	}

	if len(due) == 0 {
		s.logger.WithContext(ctx).Debug("No sources due")
		return
	}

	started := 0
	skipped := 0
	for _, src := range due {
		if _, err := s.starter.StartRun(ctx, src.ID); err != nil {
			if errors.Is(err, models.ErrRunInFlight) {
				skipped++
				continue
			}
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to start run for source %s", src.ID)
			continue
		}
		metrics.SchedulerRunsScheduled.Inc()
		started++
	}

	s.logger.WithContext(ctx).Infof("Scheduling cycle completed: started=%d skipped=%d duration=%s",
		started, skipped, time.Since(start))
}
