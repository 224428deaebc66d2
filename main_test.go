package main

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b0tShaman/neuro-digits/ml"
	"github.com/b0tShaman/neuro-digits/store"
)

var quiet = log.New(io.Discard, "", 0)

func newEngine(seed uint64) *ml.ConcurrentEngine {
	return ml.NewConcurrentEngine(ml.NewEngine(ml.WithSeed(seed)), ml.WithInline(), ml.WithLogger(quiet))
}

// savedModel writes a model trained on one sample and returns its file.
func savedModel(t *testing.T) (*store.File, ml.ModelState) {
	t.Helper()
	e := ml.NewEngine(ml.WithSeed(1))
	pixels := make([]byte, ml.InputSize)
	for i := range pixels {
		pixels[i] = 255
	}
	for range 20 {
		_, err := e.Train(7, pixels)
		require.NoError(t, err)
	}
	repo := store.NewFile(filepath.Join(t.TempDir(), "default.bin"))
	require.NoError(t, repo.Save(context.Background(), e.ExportState()))
	return repo, e.ExportState()
}

func TestOpenService_NoTrainingUsesSavedModel(t *testing.T) {
	ctx := context.Background()
	repo, saved := savedModel(t)

	for _, seed := range []uint64{2, 3} {
		svc, err := openService(ctx, newEngine(seed), repo, false, 0, quiet)
		require.NoError(t, err)
		assert.True(t, svc.Stats().Loaded)

		got, err := svc.ExportState(ctx)
		require.NoError(t, err)
		assert.Equal(t, saved, got, "seed %d", seed)
	}
}

func TestOpenService_Resume(t *testing.T) {
	ctx := context.Background()
	repo, saved := savedModel(t)

	svc, err := openService(ctx, newEngine(2), repo, true, 3, quiet)
	require.NoError(t, err)
	got, err := svc.ExportState(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, got)
}

func TestOpenService_FreshTrainingIgnoresFile(t *testing.T) {
	ctx := context.Background()
	repo, saved := savedModel(t)

	svc, err := openService(ctx, newEngine(2), repo, false, 3, quiet)
	require.NoError(t, err)
	assert.False(t, svc.Stats().Loaded)

	got, err := svc.ExportState(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, saved, got)
}

func TestOpenService_MissingModel(t *testing.T) {
	ctx := context.Background()
	repo := store.NewFile(filepath.Join(t.TempDir(), "none.bin"))

	_, err := openService(ctx, newEngine(2), repo, false, 0, quiet)
	assert.ErrorIs(t, err, ml.ErrPersistence)
	assert.Contains(t, err.Error(), repo.Path())
	_, err = openService(ctx, newEngine(2), repo, true, 3, quiet)
	assert.ErrorIs(t, err, ml.ErrPersistence)
}
