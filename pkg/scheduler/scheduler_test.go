package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

type fakeLister struct {
	sources []models.ScrapeSource
}

func (f *fakeLister) ListDue(_ context.Context, _ time.Time) ([]models.ScrapeSource, error) {
	return f.sources, nil
}

type fakeStarter struct {
	mu      sync.Mutex
	started []uuid.UUID
	errs    map[uuid.UUID]error
}

func (f *fakeStarter) StartRun(_ context.Context, sourceID uuid.UUID) (*models.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[sourceID]; ok {
		return nil, err
	}
	f.started = append(f.started, sourceID)
	return &models.RunResult{}, nil
}

func (f *fakeStarter) startedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func newTestScheduler(lister *fakeLister, starter *fakeStarter) *Scheduler {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewScheduler(lister, starter, Config{PollInterval: 10 * time.Millisecond}, logger)
}

func TestSchedulerStartsDueSources(t *testing.T) {
	src := models.ScrapeSource{ID: uuid.New(), Enabled: true}
	lister := &fakeLister{sources: []models.ScrapeSource{src}}
	starter := &fakeStarter{}
	s := newTestScheduler(lister, starter)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return starter.startedCount() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerSkipsInFlightRuns(t *testing.T) {
	src := models.ScrapeSource{ID: uuid.New(), Enabled: true}
	lister := &fakeLister{sources: []models.ScrapeSource{src}}
	starter := &fakeStarter{errs: map[uuid.UUID]error{src.ID: models.ErrRunInFlight}}
	s := newTestScheduler(lister, starter)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	assert.Zero(t, starter.startedCount())
}

func TestSchedulerDoubleStart(t *testing.T) {
	s := newTestScheduler(&fakeLister{}, &fakeStarter{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())
}

func TestSchedulerStopIdempotent(t *testing.T) {
	s := newTestScheduler(&fakeLister{}, &fakeStarter{})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
}
