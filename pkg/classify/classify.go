// Package classify turns raw job postings into structured extractions via
// tiered Gemini models.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Londondannyboy/quest-sub003/pkg/metrics"
	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

// Classifier extracts structured fields from a job posting.
type Classifier interface {
	Classify(ctx context.Context, posting *models.JobPosting) (*models.ClassifiedJob, error)
}

// Config contains the classification tiers and retry policy.
type Config struct {
	// Models are tried in order. The first tier is the primary model, the
	// rest are cheaper fallbacks.
	Models []string

	// CallTimeout bounds a single model call.
	CallTimeout time.Duration

	// AttemptsPerModel is how many times a tier is retried on transient
	// failure before falling to the next one.
	AttemptsPerModel int

	// Backoff is the base wait between attempts within a tier. It doubles
	// per attempt.
	Backoff time.Duration
}

// DefaultConfig returns the default tiering.
func DefaultConfig() Config {
	return Config{
		Models:           []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"},
		CallTimeout:      30 * time.Second,
		AttemptsPerModel: 2,
		Backoff:          500 * time.Millisecond,
	}
}

// Service is the Gemini-backed Classifier.
type Service struct {
	logger   ectologger.Logger
	gen      TextGenerator
	validate *validator.Validate
	config   Config
}

// NewService creates a new classification service.
func NewService(logger ectologger.Logger, gen TextGenerator, config Config) *Service {
	if len(config.Models) == 0 {
		config.Models = DefaultConfig().Models
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultConfig().CallTimeout
	}
	if config.AttemptsPerModel <= 0 {
		config.AttemptsPerModel = DefaultConfig().AttemptsPerModel
	}
	if config.Backoff <= 0 {
		config.Backoff = DefaultConfig().Backoff
	}

	return &Service{
		logger:   logger,
		gen:      gen,
		validate: validator.New(),
		config:   config,
	}
}

// Classify walks the model tiers until one produces output that passes the
// acceptance schema. Output failing validation is discarded wholesale; a
// partially valid extraction never reaches the store. The returned error
// wraps ErrClassificationTimeout when every tier timed out, and
// ErrClassificationInvalid otherwise.
func (s *Service) Classify(ctx context.Context, posting *models.JobPosting) (*models.ClassifiedJob, error) {
	ctx, span := tracing.StartSpan(ctx, "classify.Service.Classify")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"posting_id":  posting.ID,
		"posting_url": posting.PostingURL,
	})

	prompt := BuildPrompt(posting)

	var lastErr error
	timedOut := false

	for _, model := range s.config.Models {
		for attempt := 0; attempt < s.config.AttemptsPerModel; attempt++ {
			if attempt > 0 {
				wait := s.config.Backoff << (attempt - 1)
				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %v", models.ErrClassificationTimeout, ctx.Err())
				case <-time.After(wait):
				}
			}

			classified, err := s.callModel(ctx, model, prompt)
			if err == nil {
				metrics.ClassificationAttemptsTotal.WithLabelValues(model, "ok").Inc()
				log.WithFields(map[string]any{"model": model, "attempt": attempt + 1}).Info("Classified job posting")
				return classified, nil
			}

			lastErr = err
			if errors.Is(err, context.DeadlineExceeded) {
				timedOut = true
				metrics.ClassificationAttemptsTotal.WithLabelValues(model, "timeout").Inc()
				log.WithError(err).WithFields(map[string]any{"model": model}).Warn("Classification call timed out")
				break // next tier, retrying the same deadline rarely helps
			}
			if errors.Is(err, models.ErrClassificationInvalid) {
				metrics.ClassificationAttemptsTotal.WithLabelValues(model, "invalid").Inc()
				log.WithError(err).WithFields(map[string]any{"model": model}).Warn("Classification output rejected by schema")
				break
			}
			metrics.ClassificationAttemptsTotal.WithLabelValues(model, "error").Inc()
			log.WithError(err).WithFields(map[string]any{"model": model, "attempt": attempt + 1}).Warn("Classification call failed")
		}
	}

	if errors.Is(lastErr, models.ErrClassificationInvalid) {
		return nil, lastErr
	}
	if timedOut {
		return nil, fmt.Errorf("%w: %v", models.ErrClassificationTimeout, lastErr)
	}
	return nil, fmt.Errorf("%w: %v", models.ErrClassificationInvalid, lastErr)
}

func (s *Service) callModel(ctx context.Context, model, prompt string) (*models.ClassifiedJob, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()

	raw, err := s.gen.GenerateContent(callCtx, model, prompt)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}

	var classified models.ClassifiedJob
	if err := json.Unmarshal([]byte(stripFences(raw)), &classified); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", models.ErrClassificationInvalid, err)
	}
	if err := s.validate.Struct(&classified); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrClassificationInvalid, err)
	}

	return &classified, nil
}

// stripFences removes a markdown code fence wrapper, which the models
// sometimes emit despite the JSON response instruction.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}
