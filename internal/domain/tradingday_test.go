package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTradingDay_AfterBoundary(t *testing.T) {
	// 09:30 on the 15th belongs to the 15th's session
	instant := time.Date(2026, 8, 15, 9, 30, 0, 0, time.UTC)
	day := TradingDay(instant)
	assert.Equal(t, "2026-08-15", DayString(day))
}

func TestTradingDay_BeforeBoundary(t *testing.T) {
	// 02:00 on the 15th is still the 14th's session
	instant := time.Date(2026, 8, 15, 2, 0, 0, 0, time.UTC)
	day := TradingDay(instant)
	assert.Equal(t, "2026-08-14", DayString(day))
}

func TestTradingDay_ExactBoundary(t *testing.T) {
	// 06:00:00 sharp opens the new session
	instant := time.Date(2026, 8, 15, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-15", DayString(TradingDay(instant)))

	justBefore := instant.Add(-time.Second)
	assert.Equal(t, "2026-08-14", DayString(TradingDay(justBefore)))
}

func TestSessionStart(t *testing.T) {
	day := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	start := SessionStart(day)
	assert.Equal(t, time.Date(2026, 8, 15, 6, 0, 0, 0, time.UTC), start)

	// SessionStart of a trading day resolves back to that day
	assert.True(t, TradingDay(start).Equal(day))
}

func TestSameTradingDay(t *testing.T) {
	morning := time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC)
	lateNight := time.Date(2026, 8, 16, 3, 0, 0, 0, time.UTC)
	nextSession := time.Date(2026, 8, 16, 6, 30, 0, 0, time.UTC)

	assert.True(t, SameTradingDay(morning, lateNight))
	assert.False(t, SameTradingDay(morning, nextSession))
}

func TestSideHelpers(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
	assert.Equal(t, 1.0, SideBuy.Sign())
	assert.Equal(t, -1.0, SideSell.Sign())

	side, err := ParseSide("buy")
	assert.NoError(t, err)
	assert.Equal(t, SideBuy, side)

	side, err = ParseSide(" S ")
	assert.NoError(t, err)
	assert.Equal(t, SideSell, side)

	_, err = ParseSide("hold")
	assert.Error(t, err)
}

func TestTradeValidate(t *testing.T) {
	valid := Trade{
		SequenceID: "20260815-1",
		Symbol:     "ZN",
		Side:       SideBuy,
		Quantity:   10,
		Price:      111.5,
		EventTime:  time.Now(),
	}
	assert.NoError(t, valid.Validate())

	zeroQty := valid
	zeroQty.Quantity = 0
	assert.ErrorIs(t, zeroQty.Validate(), ErrInvalidQuantity)

	negQty := valid
	negQty.Quantity = -3
	assert.ErrorIs(t, negQty.Validate(), ErrInvalidQuantity)

	noSeq := valid
	noSeq.SequenceID = ""
	assert.Error(t, noSeq.Validate())
}
