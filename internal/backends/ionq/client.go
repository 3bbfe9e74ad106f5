// Package ionq provides the remote hardware backend. It talks to an
// IonQ-style REST gateway: submit a QASM job, poll until it leaves the
// queue, fetch the outcome histogram. Hardware queues routinely hold jobs
// for 30+ minutes, so polling has no overall deadline; cancellation goes
// through the caller's context.
package ionq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/backends"
	"github.com/arclab/arcq/internal/quantum"
)

const (
	submitRetries   = 3
	initialPollWait = 5 * time.Second
	maxPollWait     = 60 * time.Second
	requestTimeout  = 30 * time.Second
)

// Client is the remote backend implementation.
type Client struct {
	baseURL     string
	apiKey      string
	target      string
	client      *http.Client
	log         zerolog.Logger
	pollWait    time.Duration // initial poll interval (shrunk in tests)
	maxPollWait time.Duration
	retryWait   time.Duration // base backoff between submit attempts
}

// New creates a new remote backend client.
func New(baseURL, apiKey, target string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		target:      target,
		client:      &http.Client{Timeout: requestTimeout},
		log:         log.With().Str("backend", "ionq").Str("target", target).Logger(),
		pollWait:    initialPollWait,
		maxPollWait: maxPollWait,
		retryWait:   2 * time.Second,
	}
}

// Name identifies the backend.
func (c *Client) Name() string {
	return "ionq"
}

// Target returns the configured hardware target.
func (c *Client) Target() string {
	return c.target
}

// submitRequest is the job submission payload.
type submitRequest struct {
	Name   string      `json:"name"`
	Target string      `json:"target"`
	Shots  int         `json:"shots"`
	Input  submitInput `json:"input"`
}

type submitInput struct {
	Format string `json:"format"`
	Data   string `json:"data"`
}

// jobResponse is the job creation / status payload.
type jobResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // submitted | ready | running | completed | failed | canceled
	Failure *struct {
		Error string `json:"error"`
	} `json:"failure,omitempty"`
}

// Run submits the circuit as a QASM job and blocks until results arrive.
func (c *Client) Run(ctx context.Context, circuit *quantum.Circuit, shots int) (backends.Counts, error) {
	if shots <= 0 {
		return backends.Counts{}, fmt.Errorf("shots must be positive, got %d", shots)
	}

	qasm, err := circuit.ToQASM()
	if err != nil {
		return backends.Counts{}, fmt.Errorf("failed to serialize circuit: %w", err)
	}

	jobID, err := c.submit(ctx, qasm, shots)
	if err != nil {
		return backends.Counts{}, err
	}

	c.log.Info().Str("job_id", jobID).Int("shots", shots).Msg("Job submitted, waiting for completion")

	if err := c.waitForCompletion(ctx, jobID); err != nil {
		return backends.Counts{}, err
	}

	counts, err := c.fetchCounts(ctx, jobID, shots)
	if err != nil {
		return backends.Counts{}, err
	}
	counts.ProviderJobID = jobID

	c.log.Info().
		Str("job_id", jobID).
		Int("ones", counts.Ones).
		Int("zeros", counts.Zeros).
		Msg("Job completed")

	return counts, nil
}

// submit creates the job, retrying transient (5xx / network) failures.
func (c *Client) submit(ctx context.Context, qasm string, shots int) (string, error) {
	payload := submitRequest{
		Name:   "arcq-sweep-point",
		Target: c.target,
		Shots:  shots,
		Input:  submitInput{Format: "openqasm", Data: qasm},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= submitRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryWait):
			}
		}

		var job jobResponse
		status, err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body), &job)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("Job submission failed, retrying")
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("gateway returned status %d", status)
			c.log.Warn().Int("status", status).Int("attempt", attempt).Msg("Job submission failed, retrying")
			continue
		}
		if status != http.StatusOK && status != http.StatusCreated {
			// Client errors are not retryable: report and stop.
			return "", fmt.Errorf("job submission rejected with status %d", status)
		}
		if job.ID == "" {
			return "", fmt.Errorf("gateway returned no job id")
		}
		return job.ID, nil
	}

	return "", fmt.Errorf("job submission failed after %d attempts: %w", submitRetries, lastErr)
}

// waitForCompletion polls job status with capped exponential backoff.
func (c *Client) waitForCompletion(ctx context.Context, jobID string) error {
	wait := c.pollWait

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		var job jobResponse
		status, err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil, &job)
		if err != nil {
			// Transient poll failure: the job is still queued server-side,
			// keep polling.
			c.log.Warn().Err(err).Str("job_id", jobID).Msg("Status poll failed")
		} else if status != http.StatusOK {
			c.log.Warn().Int("status", status).Str("job_id", jobID).Msg("Status poll returned non-OK")
		} else {
			switch job.Status {
			case "completed":
				return nil
			case "failed", "canceled":
				detail := job.Status
				if job.Failure != nil && job.Failure.Error != "" {
					detail = job.Failure.Error
				}
				return fmt.Errorf("job %s %s: %s", jobID, job.Status, detail)
			default:
				c.log.Debug().Str("job_id", jobID).Str("status", job.Status).Msg("Job still pending")
			}
		}

		wait = time.Duration(math.Min(float64(wait)*1.5, float64(c.maxPollWait)))
	}
}

// fetchCounts retrieves the outcome histogram and converts the gateway's
// per-outcome probabilities back into integer tallies.
func (c *Client) fetchCounts(ctx context.Context, jobID string, shots int) (backends.Counts, error) {
	var histogram map[string]float64
	status, err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID+"/results", nil, &histogram)
	if err != nil {
		return backends.Counts{}, fmt.Errorf("failed to fetch results for job %s: %w", jobID, err)
	}
	if status != http.StatusOK {
		return backends.Counts{}, fmt.Errorf("results fetch for job %s returned status %d", jobID, status)
	}

	ones := int(math.Round(histogram["1"] * float64(shots)))
	if ones < 0 {
		ones = 0
	}
	if ones > shots {
		ones = shots
	}

	return backends.Counts{Ones: ones, Zeros: shots - ones}, nil
}

// Status checks gateway reachability and target availability.
func (c *Client) Status(ctx context.Context) (backends.Status, error) {
	if c.apiKey == "" {
		return backends.Status{
			Backend:   c.Name(),
			Target:    c.target,
			Available: false,
			Detail:    "no API key configured",
		}, nil
	}

	var info struct {
		Status string `json:"status"`
	}
	httpStatus, err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/backends/"+c.target, nil, &info)
	if err != nil {
		return backends.Status{Backend: c.Name(), Target: c.target, Available: false, Detail: err.Error()}, nil
	}
	if httpStatus != http.StatusOK {
		return backends.Status{
			Backend:   c.Name(),
			Target:    c.target,
			Available: false,
			Detail:    fmt.Sprintf("gateway returned status %d", httpStatus),
		}, nil
	}

	return backends.Status{
		Backend:   c.Name(),
		Target:    c.target,
		Available: info.Status == "available",
		Detail:    info.Status,
	}, nil
}

// doJSON performs an authenticated request and decodes a JSON response.
// Returns the HTTP status; the response body is decoded only for 2xx.
func (c *Client) doJSON(ctx context.Context, method, url string, body io.Reader, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "apiKey "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
