package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclab/arcq/internal/backends"
	"github.com/arclab/arcq/internal/backends/simulator"
	appconfig "github.com/arclab/arcq/internal/config"
	"github.com/arclab/arcq/internal/events"
	"github.com/arclab/arcq/internal/modules/drift"
	"github.com/arclab/arcq/internal/modules/experiments"
	"github.com/arclab/arcq/internal/modules/settings"
	"github.com/arclab/arcq/internal/scheduler"
	apptesting "github.com/arclab/arcq/internal/testing"
)

type noopJob struct{ runs int }

func (j *noopJob) Name() string { return "noop" }
func (j *noopJob) Run() error   { j.runs++; return nil }

func newTestServer(t *testing.T) (*Server, *noopJob) {
	t.Helper()

	resultsDB, cleanupResults := apptesting.NewTestDB(t, "results")
	t.Cleanup(cleanupResults)
	configDB, cleanupConfig := apptesting.NewTestDB(t, "config")
	t.Cleanup(cleanupConfig)
	cacheDB, cleanupCache := apptesting.NewTestDB(t, "cache")
	t.Cleanup(cleanupCache)

	log := zerolog.Nop()
	bus := events.NewBus()

	registry := backends.NewRegistry()
	registry.Register(simulator.New(1, nil, log))

	simFactory := func(seed int64) backends.Backend {
		return simulator.New(seed, nil, log)
	}

	expRepo := experiments.NewRepository(resultsDB.Conn(), log)
	expService := experiments.NewService(
		context.Background(), expRepo, registry, simFactory, bus,
		experiments.ServiceConfig{DefaultShots: 100, HardwareShots: 52}, log,
	)

	driftRepo := drift.NewRepository(cacheDB.Conn(), log)
	monitor := drift.NewMonitor(driftRepo, bus, drift.Config{}, log)

	settingsRepo := settings.NewRepository(configDB.Conn(), log)
	settingsService := settings.NewService(settingsRepo, log)

	history := scheduler.NewHistoryRepository(cacheDB.Conn(), log)
	sched := scheduler.New(history, bus, log)
	job := &noopJob{}
	require.NoError(t, sched.AddJob("@every 1h", job))

	srv := New(Config{
		Log:       log,
		ResultsDB: resultsDB,
		ConfigDB:  configDB,
		CacheDB:   cacheDB,
		Config:    &appconfig.Config{DataDir: t.TempDir()},
		Port:      0,
		DevMode:   true,

		Bus:         bus,
		Registry:    registry,
		StatusCache: backends.NewStatusCache(cacheDB.Conn(), log),
		Experiments: expService,
		Drift:       monitor,
		Settings:    settingsService,
		Scheduler:   sched,
		History:     history,
	})
	return srv, job
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestListBackends(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/backends", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var statuses []backends.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "simulator", statuses[0].Backend)
	assert.True(t, statuses[0].Available)
}

func TestBackendStatus_Unknown(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/backends/nope/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type downBackend struct {
	backends.Backend
}

func (b *downBackend) Name() string { return "ionq" }
func (b *downBackend) Status(context.Context) (backends.Status, error) {
	return backends.Status{}, errors.New("gateway timeout")
}

func TestBackendStatus_StaleFallback(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.Registry.Register(&downBackend{})

	// No snapshot yet: the live failure surfaces.
	rec := doRequest(t, srv, http.MethodGet, "/api/backends/ionq/status", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	require.NoError(t, srv.cfg.StatusCache.Put(backends.Status{
		Backend:   "ionq",
		Target:    "qpu.aria-1",
		Available: true,
	}))

	rec = doRequest(t, srv, http.MethodGet, "/api/backends/ionq/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stale  bool            `json:"stale"`
		Status backends.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Stale)
	assert.Equal(t, "qpu.aria-1", body.Status.Target)
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPut, "/api/settings/default_shots", `{"value": 512}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var all map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, "512", all["default_shots"])
}

func TestSettingsTargetEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/settings/target", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var current settings.TargetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, "simulator", current.Target)

	rec = doRequest(t, srv, http.MethodPost, "/api/settings/target", `{"target": "qpu.aria-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated settings.TargetUpdateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "qpu.aria-1", updated.Target)
	assert.Equal(t, "simulator", updated.PreviousTarget)

	rec = doRequest(t, srv, http.MethodPost, "/api/settings/target", `{"target": "abacus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRejectsInvalidValue(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPut, "/api/settings/default_shots", `{"value": -5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShutdown_StopsListener(t *testing.T) {
	srv, _ := newTestServer(t)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	assert.ErrorIs(t, <-errCh, http.ErrServerClosed)
}

func TestJobsEndpoints(t *testing.T) {
	srv, job := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/jobs/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Contains(t, list["jobs"], "noop")

	rec = doRequest(t, srv, http.MethodPost, "/api/jobs/noop/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, job.runs)

	rec = doRequest(t, srv, http.MethodGet, "/api/jobs/noop/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []scheduler.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "completed", entries[0].Status)
}

func TestRunJob_Unknown(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/jobs/missing/run", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDatabaseStats(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/system/database/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	for _, name := range []string{"results", "config", "cache"} {
		require.Contains(t, stats, name)
		assert.NotContains(t, stats[name], "error")
	}
}

func TestSystemStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Contains(t, status, "uptime_seconds")
	assert.Contains(t, status, "goroutines")

	health, ok := status["databases"].(map[string]interface{})
	require.True(t, ok)
	for _, name := range []string{"results", "config", "cache"} {
		assert.Equal(t, "ok", health[name])
	}
}

func TestStartRun_Rejected(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/experiments/bogus/run", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRun_Accepted(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/experiments/semicircle/run", `{"shots": 50}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var run experiments.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, experiments.StatusRunning, run.Status)
}

func TestDriftEndpoint_NoData(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/drift/simulator", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
