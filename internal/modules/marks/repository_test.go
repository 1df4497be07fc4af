package marks

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	return NewRepository(db, 5, time.Millisecond, zerolog.Nop())
}

func TestUpsertMark_InsertAndReplace(t *testing.T) {
	repo := newTestRepo(t)
	ts := time.Date(2026, 8, 14, 15, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertMark("ZN", domain.MarkClose, 111.25, ts))

	mark, err := repo.Get("ZN", domain.MarkClose)
	require.NoError(t, err)
	assert.Equal(t, 111.25, mark.Price)
	assert.True(t, mark.Timestamp.Equal(ts))

	// Replace keeps exactly one row per (symbol, markType)
	require.NoError(t, repo.UpsertMark("ZN", domain.MarkClose, 111.50, ts.Add(time.Hour)))

	mark, err = repo.Get("ZN", domain.MarkClose)
	require.NoError(t, err)
	assert.Equal(t, 111.50, mark.Price)

	all, err := repo.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertMark_InvalidMarkType(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.UpsertMark("ZN", domain.MarkType("settlement"), 111.25, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidMarkType)
}

func TestUpsertMark_NormalizesSymbol(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.UpsertMark(" zn ", domain.MarkLive, 111.0, time.Now()))

	mark, err := repo.Get("ZN", domain.MarkLive)
	require.NoError(t, err)
	assert.Equal(t, "ZN", mark.Symbol)
}

func TestGet_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get("ZN", domain.MarkLive)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatestCloseDate_Empty(t *testing.T) {
	repo := newTestRepo(t)

	_, found, err := repo.LatestCloseDate()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLatestCloseDate_PicksMostRecent(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.UpsertMark("ZN", domain.MarkClose, 111.25,
		time.Date(2026, 8, 14, 15, 0, 0, 0, time.UTC)))
	require.NoError(t, repo.UpsertMark("ZF", domain.MarkClose, 108.50,
		time.Date(2026, 8, 13, 15, 0, 0, 0, time.UTC)))

	date, found, err := repo.LatestCloseDate()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2026-08-14", domain.DayString(date))
}

func TestAlreadyRolled(t *testing.T) {
	repo := newTestRepo(t)
	date := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	rolled, err := repo.AlreadyRolled(date)
	require.NoError(t, err)
	assert.False(t, rolled)

	require.NoError(t, repo.UpsertMark("ZN", domain.MarkSodToday, 111.25, domain.SessionStart(date)))

	rolled, err = repo.AlreadyRolled(date)
	require.NoError(t, err)
	assert.True(t, rolled)

	// A different date is still unrolled
	rolled, err = repo.AlreadyRolled(date.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.False(t, rolled)
}
