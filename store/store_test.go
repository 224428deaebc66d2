package store

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b0tShaman/neuro-digits/ml"
)

func testState() ml.ModelState {
	fill := func(n int, v float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	return ml.ModelState{
		W1: fill(ml.HiddenSize*ml.InputSize, 0.1),
		B1: fill(ml.HiddenSize, 0.2),
		W2: fill(ml.OutputSize*ml.HiddenSize, 0.3),
		B2: fill(ml.OutputSize, 0.4),
	}
}

func TestEncode_Layout(t *testing.T) {
	s := ml.ModelState{
		W1: []float32{1.5, -2},
		B1: []float32{},
		W2: []float32{0.25},
		B2: nil,
	}
	b := Encode(s)
	require.Len(t, b, 4*8+3*4)

	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(b[0:]))
	assert.Equal(t, float32(1.5), math.Float32frombits(binary.LittleEndian.Uint32(b[8:])))
	assert.Equal(t, float32(-2), math.Float32frombits(binary.LittleEndian.Uint32(b[12:])))
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(b[16:]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(b[24:]))
	assert.Equal(t, float32(0.25), math.Float32frombits(binary.LittleEndian.Uint32(b[32:])))
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(b[36:]))

	assert.Equal(t, b, Encode(s), "encoding is deterministic")
}

func TestDecode_RoundTrip(t *testing.T) {
	s := testState()
	got, err := Decode(Encode(s))
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestDecode_Rejects(t *testing.T) {
	good := Encode(testState())

	huge := binary.LittleEndian.AppendUint64(nil, math.MaxUint64)

	cases := map[string][]byte{
		"empty":          {},
		"short header":   good[:5],
		"truncated body": good[:len(good)-3],
		"trailing bytes": append(append([]byte{}, good...), 0),
		"huge count":     huge,
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(b)
			assert.ErrorIs(t, err, ml.ErrPersistence)
		})
	}
}

func TestFile_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "model.bin")
	repo := NewFile(path)

	s := testState()
	require.NoError(t, repo.Save(ctx, s))
	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	// A second save fully replaces the first.
	s.B2[0] = 9
	require.NoError(t, repo.Save(ctx, s))
	got, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(9), got.B2[0])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFile_LoadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.bin")
	_, err := NewFile(path).Load(context.Background())
	assert.ErrorIs(t, err, ml.ErrPersistence)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "load must not create the file")
}

func TestFile_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o644))
	_, err := NewFile(path).Load(context.Background())
	assert.ErrorIs(t, err, ml.ErrPersistence)
}

func TestFile_SaveIntoMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no", "such", "dir", "model.bin")
	err := NewFile(path).Save(context.Background(), testState())
	assert.ErrorIs(t, err, ml.ErrPersistence)
}

func TestFile_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewFile(filepath.Join(t.TempDir(), "model.bin"))
	assert.ErrorIs(t, repo.Save(ctx, testState()), ml.ErrPersistence)
	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, ml.ErrPersistence)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Load(ctx)
	assert.ErrorIs(t, err, ml.ErrPersistence)

	s := testState()
	require.NoError(t, m.Save(ctx, s))
	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestFile_FeedsEngine(t *testing.T) {
	ctx := context.Background()
	src := ml.NewEngine(ml.WithSeed(4))
	repo := NewFile(filepath.Join(t.TempDir(), "model.bin"))
	require.NoError(t, repo.Save(ctx, src.ExportState()))

	s, err := repo.Load(ctx)
	require.NoError(t, err)
	dst := ml.NewEngine(ml.WithSeed(5))
	require.NoError(t, dst.ImportState(s))
	assert.Equal(t, src.ExportState(), dst.ExportState())
}
