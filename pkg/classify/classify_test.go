package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

type stubGenerator struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (s *stubGenerator) GenerateContent(_ context.Context, model, _ string) (string, error) {
	s.calls = append(s.calls, model)
	if err, ok := s.errs[model]; ok {
		return "", err
	}
	return s.responses[model], nil
}

type hangingGenerator struct{}

func (h *hangingGenerator) GenerateContent(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func newTestService(gen TextGenerator, cfg Config) *Service {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewService(logger, gen, cfg)
}

func testPosting() *models.JobPosting {
	desc := "Build and run Go services."
	return &models.JobPosting{
		ID:          uuid.New(),
		PostingURL:  "https://jobs.acme.com/1",
		Title:       "Senior Go Engineer",
		Description: &desc,
	}
}

const validOutput = `{
	"seniority": "senior",
	"employment_type": "full_time",
	"remote_policy": "hybrid",
	"skills": ["Go", "PostgreSQL"]
}`

func TestClassifyPrimaryModel(t *testing.T) {
	gen := &stubGenerator{responses: map[string]string{"gemini-2.5-flash": validOutput}}
	svc := newTestService(gen, DefaultConfig())

	classified, err := svc.Classify(context.Background(), testPosting())
	require.NoError(t, err)

	assert.Equal(t, "senior", classified.Seniority)
	assert.Equal(t, []string{"Go", "PostgreSQL"}, classified.Skills)
	assert.Equal(t, []string{"gemini-2.5-flash"}, gen.calls)
}

func TestClassifyFallsBackToSecondTier(t *testing.T) {
	gen := &stubGenerator{
		responses: map[string]string{"gemini-2.5-flash-lite": validOutput},
		errs:      map[string]error{"gemini-2.5-flash": errors.New("rate limited")},
	}
	cfg := DefaultConfig()
	cfg.AttemptsPerModel = 1
	cfg.Backoff = time.Millisecond
	svc := newTestService(gen, cfg)

	classified, err := svc.Classify(context.Background(), testPosting())
	require.NoError(t, err)

	assert.Equal(t, "hybrid", classified.RemotePolicy)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}, gen.calls)
}

func TestClassifyStripsMarkdownFences(t *testing.T) {
	gen := &stubGenerator{responses: map[string]string{
		"gemini-2.5-flash": "```json\n" + validOutput + "\n```",
	}}
	svc := newTestService(gen, DefaultConfig())

	classified, err := svc.Classify(context.Background(), testPosting())
	require.NoError(t, err)
	assert.Equal(t, "full_time", classified.EmploymentType)
}

func TestClassifyInvalidOutputDiscardedWholesale(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"not json", "the candidate should be senior"},
		{"bad enum", `{"seniority": "ninja", "employment_type": "full_time", "remote_policy": "remote", "skills": ["Go"]}`},
		{"empty skills", `{"seniority": "mid", "employment_type": "contract", "remote_policy": "onsite", "skills": []}`},
		{"salary max below min", `{"seniority": "mid", "employment_type": "full_time", "remote_policy": "remote", "skills": ["Go"], "salary_min": 100000, "salary_max": 50000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{responses: map[string]string{
				"gemini-2.5-flash":      tt.output,
				"gemini-2.5-flash-lite": tt.output,
			}}
			cfg := DefaultConfig()
			cfg.Backoff = time.Millisecond
			svc := newTestService(gen, cfg)

			classified, err := svc.Classify(context.Background(), testPosting())
			require.Error(t, err)
			assert.Nil(t, classified)
			assert.True(t, errors.Is(err, models.ErrClassificationInvalid))
		})
	}
}

func TestClassifyTimeout(t *testing.T) {
	cfg := Config{
		Models:           []string{"gemini-2.5-flash"},
		CallTimeout:      10 * time.Millisecond,
		AttemptsPerModel: 1,
		Backoff:          time.Millisecond,
	}
	svc := newTestService(&hangingGenerator{}, cfg)

	classified, err := svc.Classify(context.Background(), testPosting())
	require.Error(t, err)
	assert.Nil(t, classified)
	assert.True(t, errors.Is(err, models.ErrClassificationTimeout))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
