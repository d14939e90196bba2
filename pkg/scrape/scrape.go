// Package scrape fetches raw records from configured source endpoints.
package scrape

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
	"github.com/Londondannyboy/quest-sub003/pkg/tracing"
)

// envelope is the wire shape a scrape endpoint returns, one per record.
type envelope struct {
	Kind      models.EntityKind `json:"kind"`
	Payload   map[string]any    `json:"payload"`
	ScrapedAt time.Time         `json:"scraped_at"`
}

// Fetcher pulls record batches from HTTP scrape endpoints.
type Fetcher struct {
	client *http.Client
	logger ectologger.Logger
}

// NewFetcher creates a new Fetcher
func NewFetcher(timeout time.Duration, logger ectologger.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Scrape fetches the source endpoint and returns its records stamped with
// the source identity. Endpoint failures are infrastructure errors; the
// records themselves are validated later by the normalizer.
func (f *Fetcher) Scrape(ctx context.Context, source *models.ScrapeSource) ([]models.RawRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "scrape.Fetcher.Scrape")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInfrastructure, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInfrastructure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: source returned status %d", models.ErrInfrastructure, resp.StatusCode)
	}

	var envelopes []envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", models.ErrInfrastructure, err)
	}

	records := make([]models.RawRecord, 0, len(envelopes))
	for _, env := range envelopes {
		kind := env.Kind
		if kind == "" {
			kind = defaultKind(source.Kind)
		}
		records = append(records, models.RawRecord{
			Kind:        kind,
			SourceID:    source.ID,
			OwnerUserID: source.OwnerUserID,
			Payload:     env.Payload,
			ScrapedAt:   env.ScrapedAt,
		})
	}

	f.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id": source.ID,
		"records":   len(records),
	}).Info("Fetched scrape batch")

	return records, nil
}

func defaultKind(kind models.SourceKind) models.EntityKind {
	switch kind {
	case models.SourceKindJobBoard:
		return models.KindJob
	case models.SourceKindNetwork, models.SourceKindProfile:
		return models.KindPerson
	}
	return ""
}
