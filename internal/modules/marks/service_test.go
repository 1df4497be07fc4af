package marks

import (
	"testing"
	"time"

	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *Repository) {
	t.Helper()
	repo := newTestRepo(t)
	return NewService(repo, zerolog.Nop()), repo
}

func TestRoll_EmptyTable(t *testing.T) {
	svc, _ := newTestService(t)

	_, count, found, err := svc.RollCloseToSodToday()
	require.NoError(t, err, "empty mark table is not-found, not an error")
	assert.False(t, found)
	assert.Equal(t, 0, count)
}

func TestRoll_CopiesClosePriceWithCanonicalTimestamp(t *testing.T) {
	svc, repo := newTestService(t)

	closeTime := time.Date(2026, 8, 14, 15, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertMark("ZN", domain.MarkClose, 111.25, closeTime))
	require.NoError(t, repo.UpsertMark("ZF", domain.MarkClose, 108.50, closeTime))

	date, count, found, err := svc.RollCloseToSodToday()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, count)
	assert.Equal(t, "2026-08-14", domain.DayString(date))

	// sodToday carries the close price but is pinned to 06:00:00, independent
	// of when the roll ran
	sod, err := repo.Get("ZN", domain.MarkSodToday)
	require.NoError(t, err)
	assert.Equal(t, 111.25, sod.Price)
	assert.True(t, sod.Timestamp.Equal(time.Date(2026, 8, 14, 6, 0, 0, 0, time.UTC)))

	// sodTomorrow is pinned at the next session start
	sodNext, err := repo.Get("ZN", domain.MarkSodTomorrow)
	require.NoError(t, err)
	assert.Equal(t, 111.25, sodNext.Price)
	assert.True(t, sodNext.Timestamp.Equal(time.Date(2026, 8, 15, 6, 0, 0, 0, time.UTC)))

	// The close mark is not deleted
	_, err = repo.Get("ZN", domain.MarkClose)
	assert.NoError(t, err)
}

func TestRoll_Idempotent(t *testing.T) {
	svc, repo := newTestService(t)

	closeTime := time.Date(2026, 8, 14, 15, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertMark("ZN", domain.MarkClose, 111.25, closeTime))

	date1, count1, found1, err := svc.RollCloseToSodToday()
	require.NoError(t, err)
	require.True(t, found1)

	first, err := repo.Get("ZN", domain.MarkSodToday)
	require.NoError(t, err)

	date2, count2, found2, err := svc.RollCloseToSodToday()
	require.NoError(t, err)
	require.True(t, found2)

	second, err := repo.Get("ZN", domain.MarkSodToday)
	require.NoError(t, err)

	assert.Equal(t, count1, count2)
	assert.True(t, date1.Equal(date2))
	assert.Equal(t, first.Price, second.Price)
	assert.True(t, first.Timestamp.Equal(second.Timestamp))

	all, err := repo.All()
	require.NoError(t, err)
	assert.Len(t, all, 3, "close + sodToday + sodTomorrow, no duplicates")
}

func TestRoll_OnlyLatestCloseDate(t *testing.T) {
	svc, repo := newTestService(t)

	// ZF's close is stale (previous day) and must not be rolled
	require.NoError(t, repo.UpsertMark("ZN", domain.MarkClose, 111.25,
		time.Date(2026, 8, 14, 15, 0, 0, 0, time.UTC)))
	require.NoError(t, repo.UpsertMark("ZF", domain.MarkClose, 108.50,
		time.Date(2026, 8, 13, 15, 0, 0, 0, time.UTC)))

	_, count, found, err := svc.RollCloseToSodToday()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, count)

	_, err = repo.Get("ZF", domain.MarkSodToday)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
