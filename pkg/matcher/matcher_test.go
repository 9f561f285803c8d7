package matcher

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/MrCodeEU/facescan/pkg/recognition"
	"github.com/MrCodeEU/facescan/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, records ...storage.PersonRecord) *storage.FileStorage {
	t.Helper()
	fs, err := storage.NewFileStorage(t.TempDir(), false)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, fs.SavePerson(r))
	}
	return fs
}

func unit(dim, axis int) recognition.Embedding {
	emb := make(recognition.Embedding, dim)
	emb[axis] = 1
	return emb
}

func TestMatch_EmptyDatabase(t *testing.T) {
	probe := unit(512, 0)

	t.Run("absent directory", func(t *testing.T) {
		fs, err := storage.NewFileStorage(filepath.Join(t.TempDir(), "missing"), false)
		require.NoError(t, err)

		result, err := New(fs, DefaultThreshold).Match(probe)
		require.NoError(t, err)
		assert.Equal(t, Result{Identifier: Unknown, Score: NoScore}, result)
		assert.False(t, result.Matched())
	})

	t.Run("empty directory", func(t *testing.T) {
		result, err := New(newStore(t), DefaultThreshold).Match(probe)
		require.NoError(t, err)
		assert.Equal(t, Result{Identifier: Unknown, Score: NoScore}, result)
	})
}

func TestMatch_IdenticalProbe(t *testing.T) {
	alice := recognition.Normalize(recognition.Embedding{0.2, 0.5, -0.1, 0.8})
	fs := newStore(t,
		storage.PersonRecord{Identifier: "alice", Vector: alice},
		storage.PersonRecord{Identifier: "bob", Vector: recognition.Embedding{-0.2, -0.5, 0.1, -0.8}},
	)

	result, err := New(fs, 0.5).Match(alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Identifier)
	assert.InDelta(t, 1.0, result.Score, 1e-6)
	assert.True(t, result.Matched())
}

func TestMatch_BelowThresholdReportsBestScore(t *testing.T) {
	// cos(probe, alice) = 0.4
	probe := recognition.Embedding{0.4, 0.9165151}
	fs := newStore(t,
		storage.PersonRecord{Identifier: "alice", Vector: recognition.Embedding{1, 0}},
		storage.PersonRecord{Identifier: "bob", Vector: recognition.Embedding{-1, 0}},
	)

	result, err := New(fs, 0.5).Match(probe)
	require.NoError(t, err)
	assert.Equal(t, Unknown, result.Identifier)
	assert.InDelta(t, 0.4, result.Score, 1e-5)
}

func TestMatch_ThresholdIsInclusive(t *testing.T) {
	fs := newStore(t, storage.PersonRecord{Identifier: "alice", Vector: recognition.Embedding{1, 0}})

	result, err := New(fs, 1.0).Match(recognition.Embedding{2, 0})
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Identifier)
}

func TestMatch_PicksMaximum(t *testing.T) {
	fs := newStore(t,
		storage.PersonRecord{Identifier: "alice", Vector: recognition.Embedding{1, 0, 0}},
		storage.PersonRecord{Identifier: "bob", Vector: recognition.Embedding{0.8, 0.6, 0}},
		storage.PersonRecord{Identifier: "carol", Vector: recognition.Embedding{0, 0, 1}},
	)

	result, err := New(fs, 0.6).Match(recognition.Embedding{0.7, 0.7, 0})
	require.NoError(t, err)
	assert.Equal(t, "bob", result.Identifier)
	assert.InDelta(t, 0.98995, result.Score, 1e-4)
}

func TestMatch_TieBreakIsSortedOrder(t *testing.T) {
	same := recognition.Embedding{1, 0}
	fs := newStore(t,
		storage.PersonRecord{Identifier: "zoe", Vector: same},
		storage.PersonRecord{Identifier: "adam", Vector: same},
		storage.PersonRecord{Identifier: "mia", Vector: same},
	)

	for i := 0; i < 5; i++ {
		result, err := New(fs, 0.5).Match(same)
		require.NoError(t, err)
		assert.Equal(t, "adam", result.Identifier)
	}
}

func TestMatch_SkipsMismatchedDimensions(t *testing.T) {
	fs := newStore(t,
		storage.PersonRecord{Identifier: "alice", Vector: unit(128, 0)},
		storage.PersonRecord{Identifier: "bob", Vector: unit(512, 0)},
	)

	result, err := New(fs, 0.5).Match(unit(512, 0))
	require.NoError(t, err)
	assert.Equal(t, "bob", result.Identifier)
}

func TestMatch_OnlyMismatchedDimensions(t *testing.T) {
	fs := newStore(t, storage.PersonRecord{Identifier: "alice", Vector: unit(128, 0)})

	result, err := New(fs, 0.5).Match(unit(512, 0))
	require.NoError(t, err)
	assert.Equal(t, Result{Identifier: Unknown, Score: NoScore}, result)
}

type failingStore struct{}

func (failingStore) LoadAll() ([]storage.PersonRecord, error) {
	return nil, errors.New("permission denied")
}

func TestMatch_StoreError(t *testing.T) {
	_, err := New(failingStore{}, 0.5).Match(unit(4, 0))
	assert.Error(t, err)
}

func TestGallery(t *testing.T) {
	fs := newStore(t,
		storage.PersonRecord{Identifier: "alice", Vector: recognition.Embedding{1, 0}},
		storage.PersonRecord{Identifier: "bob", Vector: recognition.Embedding{0, 1}},
	)

	gallery, err := LoadGallery(fs, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, gallery.Len())

	result := gallery.Match(recognition.Embedding{0, 1})
	assert.Equal(t, "bob", result.Identifier)

	// Orthogonal probe: best score is 0, below threshold
	result = gallery.Match(recognition.Embedding{0, 0})
	assert.Equal(t, Unknown, result.Identifier)
	assert.Equal(t, 0.0, result.Score)
}

func TestMatcher_Threshold(t *testing.T) {
	assert.Equal(t, 0.6, New(newStore(t), 0.6).Threshold())
}
