package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/quantdesk/lotledger/internal/modules/marks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedMultiplier float64

func (f fixedMultiplier) MultiplierFor(string) float64 { return float64(f) }

type testEnv struct {
	db           *database.DB
	service      *Service
	lots         *LotRepository
	realizations *RealizationRepository
	marks        *marks.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	lots := NewLotRepository(db, zerolog.Nop())
	realizations := NewRealizationRepository(db, zerolog.Nop())
	markRepo := marks.NewRepository(db, 5, time.Millisecond, zerolog.Nop())

	service := NewService(db, lots, realizations, markRepo,
		fixedMultiplier(1000), 5, time.Millisecond, zerolog.Nop())

	return &testEnv{db: db, service: service, lots: lots, realizations: realizations, marks: markRepo}
}

func mkTrade(seq, symbol string, side domain.Side, qty, price float64, eventTime time.Time) domain.Trade {
	return domain.Trade{
		SequenceID:    seq,
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		Price:         price,
		EventTime:     eventTime,
		OriginalPrice: price,
		OriginalTime:  eventTime,
	}
}

var t0 = time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC)

func TestInsert_NewLotWhenNoOpposition(t *testing.T) {
	env := newTestEnv(t)

	records, err := env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideBuy, 10, 111.50, t0))
	require.NoError(t, err)
	assert.Empty(t, records[domain.MethodFIFO])
	assert.Empty(t, records[domain.MethodLIFO])

	for _, method := range domain.Methods() {
		lots, err := env.lots.OpenLots(method, "ZN")
		require.NoError(t, err)
		require.Len(t, lots, 1)
		assert.Equal(t, 10.0, lots[0].RemainingQuantity)
		assert.Equal(t, "full", lots[0].FullOrPartial)
	}
}

func TestInsert_InvalidQuantity(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideBuy, 0, 111.50, t0))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = env.service.Insert(mkTrade("20260814-2", "ZN", domain.SideSell, -4, 111.50, t0))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestInsert_DuplicateSequenceRejectedWithoutMutation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideBuy, 10, 111.50, t0))
	require.NoError(t, err)

	// Replay with a different quantity must be rejected before any offset
	_, err = env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideSell, 99, 112.00, t0.Add(time.Minute)))
	assert.ErrorIs(t, err, domain.ErrDuplicateTrade)

	lots, err := env.lots.OpenLots(domain.MethodFIFO, "ZN")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, 10.0, lots[0].RemainingQuantity, "replay must not mutate any lot")
}

func TestInsert_DuplicateDetectedAfterFullOffset(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideBuy, 10, 111.50, t0))
	require.NoError(t, err)
	_, err = env.service.Insert(mkTrade("20260814-2", "ZN", domain.SideSell, 10, 111.75, t0.Add(time.Minute)))
	require.NoError(t, err)

	// Both lots are gone, but the sequence ids live on in the realization
	// trail and must still be recognized as duplicates
	_, err = env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideBuy, 5, 111.00, t0.Add(time.Hour)))
	assert.ErrorIs(t, err, domain.ErrDuplicateTrade)
	_, err = env.service.Insert(mkTrade("20260814-2", "ZN", domain.SideSell, 5, 111.00, t0.Add(time.Hour)))
	assert.ErrorIs(t, err, domain.ErrDuplicateTrade)
}

func TestInsert_PartialOffsetScenario(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("D-1", "ZN", domain.SideBuy, 10, 111.50, t0))
	require.NoError(t, err)

	records, err := env.service.Insert(mkTrade("D-2", "ZN", domain.SideSell, 4, 111.75, t0.Add(time.Minute)))
	require.NoError(t, err)

	for _, method := range domain.Methods() {
		require.Len(t, records[method], 1, "method %s", method)
		rec := records[method][0]
		assert.Equal(t, "D-1", rec.OffsetSequenceID)
		assert.Equal(t, "D-2", rec.OffsettingSequenceID)
		assert.Equal(t, 111.50, rec.EntryPrice)
		assert.Equal(t, 111.75, rec.ExitPrice)
		assert.Equal(t, 4.0, rec.Quantity)
		assert.InDelta(t, 1000.0, rec.RealizedPnL, 1e-9)

		lots, err := env.lots.OpenLots(method, "ZN")
		require.NoError(t, err)
		require.Len(t, lots, 1)
		assert.Equal(t, 6.0, lots[0].RemainingQuantity)
		assert.Equal(t, 111.50, lots[0].Price)
		assert.Equal(t, "partial", lots[0].FullOrPartial)
	}
}

func TestInsert_PartialThenFullOffset(t *testing.T) {
	// Buy 10 @ 100; Sell 6 @ 101; Sell 4 @ 102 -> two realizations, no residual lot
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("D-1", "ZN", domain.SideBuy, 10, 100, t0))
	require.NoError(t, err)

	rec1, err := env.service.Insert(mkTrade("D-2", "ZN", domain.SideSell, 6, 101, t0.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, rec1[domain.MethodFIFO], 1)
	assert.InDelta(t, 6000.0, rec1[domain.MethodFIFO][0].RealizedPnL, 1e-9)

	rec2, err := env.service.Insert(mkTrade("D-3", "ZN", domain.SideSell, 4, 102, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	require.Len(t, rec2[domain.MethodFIFO], 1)
	assert.InDelta(t, 8000.0, rec2[domain.MethodFIFO][0].RealizedPnL, 1e-9)

	for _, method := range domain.Methods() {
		lots, err := env.lots.OpenLots(method, "ZN")
		require.NoError(t, err)
		assert.Empty(t, lots, "lot must be removed once fully consumed")

		all, err := env.realizations.All(method)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	}
}

func TestInsert_FIFOvsLIFOOrdering(t *testing.T) {
	// Two resting longs A then B; a Sell of 10 must hit A under FIFO and
	// B under LIFO.
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideBuy, 10, 100, t0))
	require.NoError(t, err)
	_, err = env.service.Insert(mkTrade("20260814-2", "ZN", domain.SideBuy, 10, 105, t0.Add(time.Minute)))
	require.NoError(t, err)

	records, err := env.service.Insert(mkTrade("20260814-3", "ZN", domain.SideSell, 10, 110, t0.Add(2*time.Minute)))
	require.NoError(t, err)

	require.Len(t, records[domain.MethodFIFO], 1)
	assert.Equal(t, "20260814-1", records[domain.MethodFIFO][0].OffsetSequenceID)
	assert.Equal(t, 100.0, records[domain.MethodFIFO][0].EntryPrice)

	require.Len(t, records[domain.MethodLIFO], 1)
	assert.Equal(t, "20260814-2", records[domain.MethodLIFO][0].OffsetSequenceID)
	assert.Equal(t, 105.0, records[domain.MethodLIFO][0].EntryPrice)

	// Ledgers diverge in which lots remain, but net quantity stays equal
	fifoLots, err := env.lots.OpenLots(domain.MethodFIFO, "ZN")
	require.NoError(t, err)
	require.Len(t, fifoLots, 1)
	assert.Equal(t, "20260814-2", fifoLots[0].SequenceID)

	lifoLots, err := env.lots.OpenLots(domain.MethodLIFO, "ZN")
	require.NoError(t, err)
	require.Len(t, lifoLots, 1)
	assert.Equal(t, "20260814-1", lifoLots[0].SequenceID)

	assert.NoError(t, env.service.CheckInvariant("ZN"))
}

func TestInsert_TieBreakOnSequenceID(t *testing.T) {
	// Identical event times: FIFO takes the lowest sequence id, LIFO the highest
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideBuy, 5, 100, t0))
	require.NoError(t, err)
	_, err = env.service.Insert(mkTrade("20260814-2", "ZN", domain.SideBuy, 5, 101, t0))
	require.NoError(t, err)

	records, err := env.service.Insert(mkTrade("20260814-3", "ZN", domain.SideSell, 5, 102, t0.Add(time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, "20260814-1", records[domain.MethodFIFO][0].OffsetSequenceID)
	assert.Equal(t, "20260814-2", records[domain.MethodLIFO][0].OffsetSequenceID)
}

func TestInsert_TieBreakOrdersNumericallyNotLexically(t *testing.T) {
	// Same-second fills with suffixes 9 and 10: as text "-10" sorts before
	// "-9", but the ordinal must win, so FIFO hits 9 and LIFO hits 10.
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("20260814-9", "ZN", domain.SideBuy, 5, 100, t0))
	require.NoError(t, err)
	_, err = env.service.Insert(mkTrade("20260814-10", "ZN", domain.SideBuy, 5, 101, t0))
	require.NoError(t, err)

	records, err := env.service.Insert(mkTrade("20260814-11", "ZN", domain.SideSell, 5, 102, t0.Add(time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, "20260814-9", records[domain.MethodFIFO][0].OffsetSequenceID)
	assert.Equal(t, "20260814-10", records[domain.MethodLIFO][0].OffsetSequenceID)

	fifoLots, err := env.lots.OpenLots(domain.MethodFIFO, "ZN")
	require.NoError(t, err)
	require.Len(t, fifoLots, 1)
	assert.Equal(t, "20260814-10", fifoLots[0].SequenceID)
}

func TestInsert_SweepAcrossMultipleLotsAndRemainder(t *testing.T) {
	// Sell 25 against resting buys of 10+10: realize 20, rest 5 as a new
	// sell-side lot.
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideBuy, 10, 100, t0))
	require.NoError(t, err)
	_, err = env.service.Insert(mkTrade("20260814-2", "ZN", domain.SideBuy, 10, 101, t0.Add(time.Minute)))
	require.NoError(t, err)

	records, err := env.service.Insert(mkTrade("20260814-3", "ZN", domain.SideSell, 25, 103, t0.Add(2*time.Minute)))
	require.NoError(t, err)

	for _, method := range domain.Methods() {
		require.Len(t, records[method], 2, "method %s", method)

		lots, err := env.lots.OpenLots(method, "ZN")
		require.NoError(t, err)
		require.Len(t, lots, 1)
		assert.Equal(t, domain.SideSell, lots[0].Side)
		assert.Equal(t, 5.0, lots[0].RemainingQuantity)
		assert.Equal(t, "partial", lots[0].FullOrPartial)

		net, err := env.lots.SignedOpenQuantity(method, "ZN")
		require.NoError(t, err)
		assert.Equal(t, -5.0, net)
	}
	assert.NoError(t, env.service.CheckInvariant("ZN"))
}

func TestInsert_ShortLotClosedByBuy(t *testing.T) {
	// Short entry at 105, bought back at 102: profit on the short
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideSell, 10, 105, t0))
	require.NoError(t, err)

	records, err := env.service.Insert(mkTrade("20260814-2", "ZN", domain.SideBuy, 10, 102, t0.Add(time.Minute)))
	require.NoError(t, err)

	rec := records[domain.MethodFIFO][0]
	assert.Equal(t, domain.SideSell, rec.EntrySide)
	// (lot.price - trade.price) x qty x multiplier = (105-102) x 10 x 1000
	assert.InDelta(t, 30000.0, rec.RealizedPnL, 1e-9)
}

func TestInsert_CrossMethodInvariantUnderMixedFlow(t *testing.T) {
	env := newTestEnv(t)

	flow := []domain.Trade{
		mkTrade("20260814-1", "ZN", domain.SideBuy, 10, 100, t0),
		mkTrade("20260814-2", "ZN", domain.SideBuy, 7, 101, t0.Add(1*time.Minute)),
		mkTrade("20260814-3", "ZN", domain.SideSell, 12, 102, t0.Add(2*time.Minute)),
		mkTrade("20260814-4", "ZN", domain.SideBuy, 3, 99, t0.Add(3*time.Minute)),
		mkTrade("20260814-5", "ZN", domain.SideSell, 11, 103, t0.Add(4*time.Minute)),
	}
	for _, trade := range flow {
		_, err := env.service.Insert(trade)
		require.NoError(t, err)
		require.NoError(t, env.service.CheckInvariant("ZN"), "after %s", trade.SequenceID)
	}

	// Net: +10 +7 -12 +3 -11 = -3
	net, err := env.lots.SignedOpenQuantity(domain.MethodFIFO, "ZN")
	require.NoError(t, err)
	assert.InDelta(t, -3.0, net, 1e-9)

	// No zero-quantity rows anywhere
	for _, method := range domain.Methods() {
		lots, err := env.lots.AllOpenLots(method)
		require.NoError(t, err)
		for _, lot := range lots {
			assert.Greater(t, lot.RemainingQuantity, 0.0)
		}
	}
}

func TestInsert_SymbolsAreIndependent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Insert(mkTrade("20260814-1", "ZN", domain.SideBuy, 10, 100, t0))
	require.NoError(t, err)

	// Opposing side on another symbol opens a lot instead of offsetting
	records, err := env.service.Insert(mkTrade("20260814-2", "ZF", domain.SideSell, 10, 108, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, records[domain.MethodFIFO])

	symbols, err := env.lots.OpenSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"ZF", "ZN"}, symbols)
}
