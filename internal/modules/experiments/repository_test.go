package experiments

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apptesting "github.com/arclab/arcq/internal/testing"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := apptesting.NewTestDB(t, "results")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func newRun(experiment string) *Run {
	seed := int64(42)
	return &Run{
		ID:         uuid.New().String(),
		Experiment: experiment,
		Backend:    "simulator",
		Target:     "simulator",
		Shots:      1000,
		Seed:       &seed,
		Status:     StatusRunning,
		StartedAt:  time.Now(),
	}
}

func TestRunLifecycle(t *testing.T) {
	repo := newRepo(t)
	run := newRun(TypeSemicircle)

	require.NoError(t, repo.CreateRun(run))

	got, err := repo.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.Passed)
	require.NotNil(t, got.Seed)
	assert.EqualValues(t, 42, *got.Seed)

	require.NoError(t, repo.CompleteRun(run.ID, true, `{"passed":true}`))

	got, err = repo.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Passed)
	assert.True(t, *got.Passed)
	assert.Equal(t, `{"passed":true}`, got.SummaryJSON)
	require.NotNil(t, got.FinishedAt)
}

func TestCompleteRunOnlyTransitionsFromRunning(t *testing.T) {
	repo := newRepo(t)
	run := newRun(TypeSemicircle)
	require.NoError(t, repo.CreateRun(run))
	require.NoError(t, repo.FailRun(run.ID, "gateway unreachable"))

	// A failed run cannot be flipped to completed.
	require.NoError(t, repo.CompleteRun(run.ID, true, "{}"))

	got, err := repo.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "gateway unreachable", got.Error)
}

func TestGetRunNotFound(t *testing.T) {
	repo := newRepo(t)
	got, err := repo.GetRun("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListRunsFiltersAndOrders(t *testing.T) {
	repo := newRepo(t)

	a := newRun(TypeSemicircle)
	a.StartedAt = time.Now().Add(-2 * time.Hour)
	b := newRun(TypeOptimalPoint)
	b.StartedAt = time.Now().Add(-1 * time.Hour)
	c := newRun(TypeSemicircle)
	c.StartedAt = time.Now()

	for _, run := range []*Run{a, b, c} {
		require.NoError(t, repo.CreateRun(run))
	}

	all, err := repo.ListRuns("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, c.ID, all[0].ID, "newest first")

	semis, err := repo.ListRuns(TypeSemicircle, 10)
	require.NoError(t, err)
	assert.Len(t, semis, 2)

	limited, err := repo.ListRuns("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMeasurements(t *testing.T) {
	repo := newRepo(t)
	run := newRun(TypeSemicircle)
	require.NoError(t, repo.CreateRun(run))

	for i, q := range []float64{0.2, 0.5, 0.8} {
		m := &Measurement{
			RunID:       run.ID,
			Idx:         i,
			QTarget:     q,
			QMeasured:   q + 0.01,
			CqcMeasured: 0.4,
			CqcTheory:   0.4,
			Residual:    0,
			Ones:        int(q * 1000),
			Zeros:       1000 - int(q*1000),
		}
		require.NoError(t, repo.InsertMeasurement(m))
		assert.Positive(t, m.ID)
	}

	ms, err := repo.GetMeasurements(run.ID)
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, 0, ms[0].Idx)
	assert.InDelta(t, 0.2, ms[0].QTarget, 1e-9)

	mean, err := repo.MeanQError(run.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, mean, 1e-9)

	count, err := repo.CountRuns()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMeanQErrorEmptyRun(t *testing.T) {
	repo := newRepo(t)
	mean, err := repo.MeanQError("no-such-run")
	require.NoError(t, err)
	assert.Zero(t, mean)
}
