package persistence

import (
	"equity-cycle-bot/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *badgerRepository {
	t.Helper()
	repo, err := NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo.(*badgerRepository)
}

func TestEmptyRepositoryReturnsNothing(t *testing.T) {
	repo := newTestRepo(t)

	instruments, ok, err := repo.ReadInstrumentSnapshot()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, instruments)

	list, err := repo.ReadBuyList()
	require.NoError(t, err)
	assert.Nil(t, list)

	snap, err := repo.ReadAccountSnapshot()
	require.NoError(t, err)
	assert.Nil(t, snap)

	cycles, err := repo.LoadRecentCycles(10)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestInstrumentSnapshotValidOnlySameDay(t *testing.T) {
	repo := newTestRepo(t)
	day := time.Date(2024, 3, 4, 9, 0, 0, 0, time.Local)
	repo.now = func() time.Time { return day }

	want := []models.Instrument{{Ticker: "AAPL_US_EQ"}, {Ticker: "MSFT_US_EQ"}}
	require.NoError(t, repo.WriteInstrumentSnapshot(want))

	got, ok, err := repo.ReadInstrumentSnapshot()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	repo.now = func() time.Time { return day.Add(24 * time.Hour) }
	got, ok, err = repo.ReadInstrumentSnapshot()
	require.NoError(t, err)
	assert.False(t, ok, "yesterday's snapshot must be stale")
	assert.Len(t, got, 2)
}

func TestBuyListAndAccountSnapshot(t *testing.T) {
	repo := newTestRepo(t)

	list := []models.CandidateCompany{{Instrument: models.Instrument{Ticker: "AAPL_US_EQ"}, Quote: models.Quote{Current: 100}}}
	require.NoError(t, repo.WriteBuyList(list))
	got, err := repo.ReadBuyList()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 100.0, got[0].Quote.Current)

	snap := &models.AccountSnapshot{CycleID: "c1", Balance: models.Balance{Free: 500}}
	require.NoError(t, repo.WriteAccountSnapshot(snap))
	loaded, err := repo.ReadAccountSnapshot()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "c1", loaded.CycleID)
	assert.Equal(t, 500.0, loaded.Balance.Free)
}

func TestLoadRecentCyclesNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.SaveCycle(&models.CycleRecord{CycleID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	// Saving again under the same start time overwrites.
	done := base.Add(3 * time.Hour)
	require.NoError(t, repo.SaveCycle(&models.CycleRecord{CycleID: "c", StartedAt: base.Add(2 * time.Hour), CompletedAt: &done}))

	cycles, err := repo.LoadRecentCycles(2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "c", cycles[0].CycleID)
	assert.NotNil(t, cycles[0].CompletedAt)
	assert.Equal(t, "b", cycles[1].CycleID)

	all, err := repo.LoadRecentCycles(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
