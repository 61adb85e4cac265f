package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-router/internal/batch"
	"content-router/internal/common/cache"
	"content-router/internal/common/logging"
	"content-router/internal/common/pagination"
	"content-router/internal/config"
	"content-router/internal/llm"
	"content-router/internal/routing"
	"content-router/internal/storage"
	"content-router/internal/storage/sqlite"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	store, err := sqlite.NewAdapter(&sqlite.Config{
		DatabasePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logging.NewNopLogger()
	a := &App{
		Config:     &config.Config{},
		Logger:     logger,
		Store:      store,
		ToolCache:  cache.NewLocalCache(time.Minute, time.Minute),
		HTTPClient: http.DefaultClient,
	}
	a.Recorder = llm.NewUsageRecorder(store, 10, logger)
	t.Cleanup(a.Recorder.Close)
	a.Batch = batch.NewController(store, a, 10, time.Second, logger)
	return a
}

func seedItem(t *testing.T, store storage.Storage, id string) {
	t.Helper()
	require.NoError(t, store.CreateItem(&storage.Item{
		ID:              id,
		UserID:          "user-1",
		OriginalContent: "remember to water the plants",
		ContentType:     "note",
		Category:        "home",
	}))
}

func TestDistributeEndpoint(t *testing.T) {
	a := newTestApp(t)
	seedItem(t, a.Store, "item-1")

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "evt-1"}`))
	}))
	defer endpoint.Close()

	require.NoError(t, a.Store.CreateDistributionConfig(&storage.DistributionConfig{
		ID:          "rule-1",
		UserID:      "user-1",
		Name:        "forward home notes",
		AdapterType: "webhook",
		Enabled:     true,
		Priority:    1,
		Config:      map[string]interface{}{"url": endpoint.URL},
	}))

	req := httptest.NewRequest("POST", "/api/items/item-1/distribute", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary routing.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, storage.RoutingCompleted, summary.Status)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "evt-1", summary.Results[0].ExternalID)
}

func TestDistributeEndpointRequiresIdentity(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest("POST", "/api/items/item-1/distribute", nil)
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDistributeEndpointMissingItem(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest("POST", "/api/items/nope/distribute", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedistributeEndpoint(t *testing.T) {
	a := newTestApp(t)
	seedItem(t, a.Store, "item-1")
	seedItem(t, a.Store, "item-2")

	req := httptest.NewRequest("POST", "/api/redistribute", strings.NewReader(`{"limit": 10}`))
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job struct {
		ID      string `json:"id"`
		Total   int    `json:"total"`
		Batches int    `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 2, job.Total)
	assert.Equal(t, 1, job.Batches)
}

func TestRedistributeEndpointRejectsBadDates(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest("POST", "/api/redistribute", strings.NewReader(`{"created_after": "yesterday"}`))
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDistributionsEndpoint(t *testing.T) {
	a := newTestApp(t)
	seedItem(t, a.Store, "item-1")
	require.NoError(t, a.Store.CreateDistributionResult(&storage.DistributionResult{
		ID:          "res-1",
		ItemID:      "item-1",
		UserID:      "user-1",
		TargetID:    "rule-1",
		AdapterType: "webhook",
		Status:      storage.DistributionSuccess,
		Timestamp:   time.Now().UTC(),
	}))

	req := httptest.NewRequest("GET", "/api/distributions", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var page pagination.Page[*storage.DistributionResult]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.TotalResults)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "res-1", page.Results[0].ID)

	// Another user sees nothing
	req = httptest.NewRequest("GET", "/api/distributions", nil)
	req.Header.Set("X-User-ID", "user-2")
	rec = httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	page = pagination.Page[*storage.DistributionResult]{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 0, page.TotalResults)
	assert.Empty(t, page.Results)
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	a.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
