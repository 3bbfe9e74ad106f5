package experiments

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclab/arcq/internal/backends"
	"github.com/arclab/arcq/internal/backends/simulator"
	"github.com/arclab/arcq/internal/events"
	"github.com/arclab/arcq/internal/quantum"
	apptesting "github.com/arclab/arcq/internal/testing"
)

func newService(t *testing.T) (*Service, *events.Bus) {
	t.Helper()

	db, cleanup := apptesting.NewTestDB(t, "results")
	t.Cleanup(cleanup)

	repo := NewRepository(db.Conn(), zerolog.Nop())
	bus := events.NewBus()

	registry := backends.NewRegistry()
	registry.Register(simulator.New(1, nil, zerolog.Nop()))

	factory := func(seed int64) backends.Backend {
		return simulator.New(seed, nil, zerolog.Nop())
	}

	svc := NewService(context.Background(), repo, registry, factory, bus,
		ServiceConfig{DefaultShots: 200, HardwareShots: 52}, zerolog.Nop())
	return svc, bus
}

// waitForRun blocks until the run reaches a terminal event.
func waitForRun(t *testing.T, bus *events.Bus, runID string) *events.Event {
	t.Helper()
	done := make(chan *events.Event, 2)
	match := func(e *events.Event) {
		if e.Data["run_id"] == runID {
			done <- e
		}
	}
	bus.Subscribe(events.RunCompleted, match)
	bus.Subscribe(events.RunFailed, match)

	select {
	case e := <-done:
		return e
	case <-time.After(60 * time.Second):
		t.Fatalf("run %s did not finish", runID)
		return nil
	}
}

func TestStartRun_OptimalPointEndToEnd(t *testing.T) {
	svc, bus := newService(t)

	seed := int64(9)
	run, err := svc.StartRun(TypeOptimalPoint, RunRequest{Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, "simulator", run.Backend)
	assert.Equal(t, 200, run.Shots)

	event := waitForRun(t, bus, run.ID)
	assert.Equal(t, events.RunCompleted, event.Type)

	stored, err := svc.Repo().GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.Passed)
	assert.True(t, *stored.Passed)
	assert.Contains(t, stored.SummaryJSON, `"experiment":"optimal_point"`)
	assert.Contains(t, stored.SummaryJSON, `"stats"`)

	ms, err := svc.Repo().GetMeasurements(run.ID)
	require.NoError(t, err)
	assert.Len(t, ms, 17)
}

func TestStartRun_SameSeedIsReproducible(t *testing.T) {
	svc, bus := newService(t)

	seed := int64(1234)
	runA, err := svc.StartRun(TypeOptimalPoint, RunRequest{Seed: &seed})
	require.NoError(t, err)
	waitForRun(t, bus, runA.ID)

	runB, err := svc.StartRun(TypeOptimalPoint, RunRequest{Seed: &seed})
	require.NoError(t, err)
	waitForRun(t, bus, runB.ID)

	msA, err := svc.Repo().GetMeasurements(runA.ID)
	require.NoError(t, err)
	msB, err := svc.Repo().GetMeasurements(runB.ID)
	require.NoError(t, err)

	require.Equal(t, len(msA), len(msB))
	for i := range msA {
		assert.Equal(t, msA[i].Ones, msB[i].Ones, "point %d", i)
	}
}

func TestStartRun_UnknownExperiment(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.StartRun("teleportation", RunRequest{})
	assert.Error(t, err)
}

func TestStartRun_UnknownBackend(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.StartRun(TypeSemicircle, RunRequest{Backend: "rigetti"})
	assert.Error(t, err)
}

func TestEstimate(t *testing.T) {
	svc, _ := newService(t)

	est, err := svc.Estimate(TypeSemicircle, RunRequest{})
	require.NoError(t, err)
	assert.True(t, est.Free)
	assert.Equal(t, 153, est.Jobs)
	assert.Equal(t, 200, est.ShotsPerJob)

	_, err = svc.Estimate("bogus", RunRequest{})
	assert.Error(t, err)
}

// fakeHardware pretends to be a paid trapped-ion target.
type fakeHardware struct{ backends.Backend }

func (f *fakeHardware) Name() string   { return "ionq" }
func (f *fakeHardware) Target() string { return "qpu.aria-1" }

func TestStartRun_HardwareRequiresConfirmation(t *testing.T) {
	svc, bus := newService(t)
	svc.registry.Register(&fakeHardware{Backend: simulator.New(3, nil, zerolog.Nop())})

	_, err := svc.StartRun(TypeSemicircle, RunRequest{Backend: "ionq"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirm")

	est, err := svc.Estimate(TypeSemicircle, RunRequest{Backend: "ionq"})
	require.NoError(t, err)
	assert.Equal(t, 15, est.Jobs)
	assert.Equal(t, 52, est.ShotsPerJob)
	assert.InDelta(t, 15*12.50, est.TotalMinimum, 1e-9)

	run, err := svc.StartRun(TypeSemicircle, RunRequest{Backend: "ionq", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, "qpu.aria-1", run.Target)
	assert.Nil(t, run.Seed, "hardware runs carry no seed")

	event := waitForRun(t, bus, run.ID)
	assert.Equal(t, events.RunCompleted, event.Type)

	ms, err := svc.Repo().GetMeasurements(run.ID)
	require.NoError(t, err)
	assert.Len(t, ms, 15)
}

// fakeGateway fronts the provider's free cloud simulator and counts the
// jobs submitted through it.
type fakeGateway struct {
	backends.Backend
	jobs int
}

func (f *fakeGateway) Name() string   { return "ionq" }
func (f *fakeGateway) Target() string { return "simulator" }
func (f *fakeGateway) Run(ctx context.Context, c *quantum.Circuit, shots int) (backends.Counts, error) {
	f.jobs++
	return f.Backend.Run(ctx, c, shots)
}

func TestStartRun_RemoteSimulatorStaysOnGateway(t *testing.T) {
	svc, bus := newService(t)
	gateway := &fakeGateway{Backend: simulator.New(4, nil, zerolog.Nop())}
	svc.registry.Register(gateway)

	run, err := svc.StartRun(TypeOptimalPoint, RunRequest{Backend: "ionq"})
	require.NoError(t, err, "free cloud simulator needs no confirmation")
	assert.Equal(t, "ionq", run.Backend)
	assert.Equal(t, "simulator", run.Target)
	assert.Nil(t, run.Seed, "remote runs are not seed-reproducible")

	event := waitForRun(t, bus, run.ID)
	assert.Equal(t, events.RunCompleted, event.Type)
	assert.Equal(t, 17, gateway.jobs, "every point goes through the gateway")
}

func TestExpectedJobs_GridOverride(t *testing.T) {
	grid := []float64{0.1, 0.3, 0.5, 0.7, 0.9}

	// The simulator semicircle protocol keeps its random-state and edge
	// phases when the uniform sweep is overridden.
	assert.Equal(t, 50+100+3, expectedJobs(TypeSemicircle, nil, false))
	assert.Equal(t, 5+100+3, expectedJobs(TypeSemicircle, grid, false))
	assert.Equal(t, 5, expectedJobs(TypeSemicircle, grid, true))

	assert.Equal(t, 17, expectedJobs(TypeOptimalPoint, nil, false))
	assert.Equal(t, 5, expectedJobs(TypeOptimalPoint, grid, false))

	assert.Equal(t, 9, expectedJobs(TypeBarrenPlateau, nil, false))
	assert.Equal(t, 5, expectedJobs(TypeBarrenPlateau, grid, false))
}

func TestStartRun_GridOverrideAnnouncesFullCount(t *testing.T) {
	svc, bus := newService(t)

	var announced int
	bus.Subscribe(events.RunStarted, func(e *events.Event) {
		if points, ok := e.Data["points"].(float64); ok {
			announced = int(points)
		}
	})
	var recorded int
	bus.Subscribe(events.MeasurementRecorded, func(e *events.Event) { recorded++ })

	seed := int64(11)
	run, err := svc.StartRun(TypeSemicircle, RunRequest{Seed: &seed, Grid: []float64{0.25, 0.5, 0.75}})
	require.NoError(t, err)
	waitForRun(t, bus, run.ID)

	assert.Equal(t, 3+100+3, recorded)
	assert.Equal(t, recorded, announced)
}

func TestRunProgressEventsEmitted(t *testing.T) {
	svc, bus := newService(t)

	var progress int
	bus.Subscribe(events.RunProgress, func(e *events.Event) { progress++ })
	var recorded int
	bus.Subscribe(events.MeasurementRecorded, func(e *events.Event) { recorded++ })

	seed := int64(2)
	run, err := svc.StartRun(TypeOptimalPoint, RunRequest{Seed: &seed})
	require.NoError(t, err)
	waitForRun(t, bus, run.ID)

	assert.Equal(t, 17, recorded)
	assert.GreaterOrEqual(t, progress, 17)
}
