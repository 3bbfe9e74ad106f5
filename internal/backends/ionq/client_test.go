package ionq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclab/arcq/internal/quantum"
)

// shrinkPolling makes the poll loop fast enough for tests.
func shrinkPolling(c *Client) {
	c.pollWait = time.Millisecond
	c.maxPollWait = 5 * time.Millisecond
	c.retryWait = time.Millisecond
}

// newTestClient wires a client against a test server with fast polling.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-key", "qpu.aria-1", zerolog.Nop())
	return c, srv
}

func TestRun_HappyPath(t *testing.T) {
	var polls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "apiKey test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qpu.aria-1", req["target"])
		assert.EqualValues(t, 52, req["shots"])

		input := req["input"].(map[string]interface{})
		assert.Equal(t, "openqasm", input["format"])
		assert.True(t, strings.Contains(input["data"].(string), "OPENQASM 2.0;"))

		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "submitted"})
	})
	mux.HandleFunc("/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		// First poll: still running; afterwards: completed.
		status := "running"
		if atomic.AddInt32(&polls, 1) > 1 {
			status = "completed"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": status})
	})
	mux.HandleFunc("/jobs/job-1/results", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]float64{"0": 0.5, "1": 0.5})
	})

	c, _ := newTestClient(t, mux)
	// Shrink the poll wait so the test completes quickly.
	shrinkPolling(c)

	counts, err := c.Run(context.Background(), quantum.Preparation(0.5), 52)
	require.NoError(t, err)

	assert.Equal(t, "job-1", counts.ProviderJobID)
	assert.Equal(t, 26, counts.Ones)
	assert.Equal(t, 26, counts.Zeros)
	assert.Equal(t, 52, counts.Shots())
}

func TestRun_JobFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-2", "status": "submitted"})
	})
	mux.HandleFunc("/jobs/job-2", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "job-2",
			"status":  "failed",
			"failure": map[string]string{"error": "calibration in progress"},
		})
	})

	c, _ := newTestClient(t, mux)
	shrinkPolling(c)

	_, err := c.Run(context.Background(), quantum.Preparation(0.5), 52)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calibration in progress")
}

func TestRun_SubmitRetriesTransientErrors(t *testing.T) {
	var attempts int32

	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-3", "status": "submitted"})
	})
	mux.HandleFunc("/jobs/job-3", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-3", "status": "completed"})
	})
	mux.HandleFunc("/jobs/job-3/results", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]float64{"1": 1.0})
	})

	c, _ := newTestClient(t, mux)
	shrinkPolling(c)

	counts, err := c.Run(context.Background(), quantum.Preparation(1), 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	assert.Equal(t, 10, counts.Ones)
}

func TestRun_SubmitRejectedNotRetried(t *testing.T) {
	var attempts int32

	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c, _ := newTestClient(t, mux)

	_, err := c.Run(context.Background(), quantum.Preparation(0.5), 10)
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestRun_ContextCancelDuringPoll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-4", "status": "submitted"})
	})
	mux.HandleFunc("/jobs/job-4", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-4", "status": "running"})
	})

	c, _ := newTestClient(t, mux)
	shrinkPolling(c)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Run(ctx, quantum.Preparation(0.5), 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/backends/qpu.aria-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "available"})
	})

	c, _ := newTestClient(t, mux)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.Equal(t, "qpu.aria-1", status.Target)
}

func TestStatus_NoAPIKey(t *testing.T) {
	c := New("http://unused", "", "qpu.aria-1", zerolog.Nop())

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Available)
	assert.Contains(t, status.Detail, "no API key")
}
