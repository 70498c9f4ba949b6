package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/nextedit/internal/monitor"
	"github.com/compresr/nextedit/internal/store"
)

func openSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "interactions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_AppendAndRecent(t *testing.T) {
	s := openSQLite(t)
	base := time.UnixMilli(1700000000000)

	for i, kind := range []monitor.Kind{monitor.Accepted, monitor.Rejected, monitor.Ignored} {
		require.NoError(t, s.Append(store.Interaction{
			Kind:      kind,
			RequestID: "nes_1",
			DocID:     "doc1",
			At:        base.Add(time.Duration(i) * time.Second),
		}))
	}

	recs, err := s.Recent(10)
	require.NoError(t, err)

	// Oldest first, ready for replay.
	require.Len(t, recs, 3)
	assert.Equal(t, monitor.Accepted, recs[0].Kind)
	assert.Equal(t, monitor.Ignored, recs[2].Kind)
	assert.Equal(t, base, recs[0].At)
	assert.Equal(t, "doc1", recs[0].DocID)
}

func TestSQLiteStore_RecentLimitKeepsNewest(t *testing.T) {
	s := openSQLite(t)
	base := time.UnixMilli(1700000000000)

	for i := 0; i < 5; i++ {
		kind := monitor.Accepted
		if i >= 3 {
			kind = monitor.Rejected
		}
		require.NoError(t, s.Append(store.Interaction{Kind: kind, At: base.Add(time.Duration(i) * time.Second)}))
	}

	recs, err := s.Recent(2)
	require.NoError(t, err)

	require.Len(t, recs, 2)
	assert.Equal(t, monitor.Rejected, recs[0].Kind)
	assert.Equal(t, monitor.Rejected, recs[1].Kind)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(store.Interaction{Kind: monitor.Accepted, At: time.UnixMilli(1)}))
	require.NoError(t, s.Close())

	s2, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	recs, err := s2.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, monitor.Accepted, recs[0].Kind)
}

func TestSQLiteStore_Prune(t *testing.T) {
	s := openSQLite(t)
	base := time.UnixMilli(1700000000000)

	require.NoError(t, s.Append(store.Interaction{Kind: monitor.Accepted, At: base}))
	require.NoError(t, s.Append(store.Interaction{Kind: monitor.Rejected, At: base.Add(time.Hour)}))

	removed, err := s.Prune(base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	recs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, monitor.Rejected, recs[0].Kind)
}

func TestMemoryStore_AppendAndRecent(t *testing.T) {
	s := store.NewMemoryStore()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Append(store.Interaction{Kind: monitor.Accepted, At: time.UnixMilli(int64(i))}))
	}

	recs, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, time.UnixMilli(2), recs[0].At)
	assert.Equal(t, time.UnixMilli(3), recs[1].At)
}

func TestWarm_ReplaysIntoMonitor(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Append(store.Interaction{Kind: monitor.Accepted, At: now}))
	}

	m := monitor.New(monitor.Config{})
	require.NoError(t, store.Warm(s, m, 100))

	assert.Equal(t, monitor.LevelHigh, m.AggressivenessLevel())
}
