package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

func newTestFetcher() *Fetcher {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewFetcher(5*time.Second, logger)
}

func TestScrapeStampsSourceIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"kind": "job", "payload": {"title": "Engineer", "posting_url": "https://jobs.acme.com/1"}},
			{"payload": {"title": "Analyst", "posting_url": "https://jobs.acme.com/2"}}
		]`))
	}))
	defer server.Close()

	source := &models.ScrapeSource{
		ID:          uuid.New(),
		Kind:        models.SourceKindJobBoard,
		OwnerUserID: "user-1",
		Endpoint:    server.URL,
	}

	records, err := newTestFetcher().Scrape(context.Background(), source)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, models.KindJob, records[0].Kind)
	assert.Equal(t, source.ID, records[0].SourceID)
	assert.Equal(t, "user-1", records[0].OwnerUserID)

	// Missing kind falls back to the source's default.
	assert.Equal(t, models.KindJob, records[1].Kind)
}

func TestScrapeEndpointFailureIsInfrastructure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source := &models.ScrapeSource{ID: uuid.New(), Endpoint: server.URL}

	_, err := newTestFetcher().Scrape(context.Background(), source)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInfrastructure))
}
