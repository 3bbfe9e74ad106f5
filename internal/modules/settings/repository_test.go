package settings

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apptesting "github.com/arclab/arcq/internal/testing"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := apptesting.NewTestDB(t, "config")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestGetSetRoundTrip(t *testing.T) {
	repo := newRepo(t)

	value, err := repo.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, repo.Set(KeyIonQTarget, "qpu.aria-1", nil))
	value, err = repo.Get(KeyIonQTarget)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "qpu.aria-1", *value)

	// Upsert replaces.
	require.NoError(t, repo.Set(KeyIonQTarget, "simulator", nil))
	value, err = repo.Get(KeyIonQTarget)
	require.NoError(t, err)
	assert.Equal(t, "simulator", *value)
}

func TestTypedGetters(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.SetInt(KeyHardwareShots, 52))
	n, err := repo.GetInt(KeyHardwareShots, 1000)
	require.NoError(t, err)
	assert.Equal(t, 52, n)

	require.NoError(t, repo.SetFloat(KeyDriftThreshold, 0.02))
	f, err := repo.GetFloat(KeyDriftThreshold, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, f, 1e-9)

	require.NoError(t, repo.SetBool("some_flag", true))
	b, err := repo.GetBool("some_flag", false)
	require.NoError(t, err)
	assert.True(t, b)

	// Missing keys fall back to defaults.
	n, err = repo.GetInt("missing_int", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestGetIntParsesFloatStrings(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Set(KeyDefaultShots, "1000.0", nil))

	n, err := repo.GetInt(KeyDefaultShots, 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
}

func TestDeleteIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Set("k", "v", nil))
	require.NoError(t, repo.Delete("k"))
	require.NoError(t, repo.Delete("k"))

	value, err := repo.Get("k")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestServiceValidation(t *testing.T) {
	repo := newRepo(t)
	svc := NewService(repo, zerolog.Nop())

	_, err := svc.Set(KeyIonQTarget, "qpu.nonexistent")
	assert.Error(t, err)

	_, err = svc.Set(KeyHardwareShots, float64(-5))
	assert.Error(t, err)

	_, err = svc.Set(KeyReadoutFlip01, float64(1.5))
	assert.Error(t, err)

	_, err = svc.Set(KeyHardwareShots, float64(52))
	require.NoError(t, err)
	n, err := svc.HardwareShots(0)
	require.NoError(t, err)
	assert.Equal(t, 52, n)
}

func TestServiceFirstCredential(t *testing.T) {
	repo := newRepo(t)
	svc := NewService(repo, zerolog.Nop())

	first, err := svc.Set(KeyIonQAPIKey, "secret-1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = svc.Set(KeyIonQAPIKey, "secret-2")
	require.NoError(t, err)
	assert.False(t, first)
}

func TestServiceTargetDefaultsToSimulator(t *testing.T) {
	repo := newRepo(t)
	svc := NewService(repo, zerolog.Nop())

	target, err := svc.Target()
	require.NoError(t, err)
	assert.Equal(t, "simulator", target)

	previous, err := svc.SetTarget("qpu.forte-1")
	require.NoError(t, err)
	assert.Equal(t, "simulator", previous)

	target, err = svc.Target()
	require.NoError(t, err)
	assert.Equal(t, "qpu.forte-1", target)
}
