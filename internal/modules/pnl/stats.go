package pnl

import (
	"math"
	"time"

	"github.com/quantdesk/lotledger/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// RealizationStats summarizes the distribution of realized P&L per event,
// served to the audit/reconciliation API.
type RealizationStats struct {
	Symbol string  `json:"symbol"`
	Method string  `json:"method"`
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Stats computes realization statistics for a symbol under a method within
// [from, to). Zero bounds are open.
func (c *Calculator) Stats(method domain.Method, symbol string, from, to time.Time) (*RealizationStats, error) {
	records, err := c.realizations.BySymbol(method, symbol, from, to)
	if err != nil {
		return nil, err
	}

	result := &RealizationStats{
		Symbol: symbol,
		Method: string(method),
		Count:  len(records),
	}
	if len(records) == 0 {
		return result, nil
	}

	values := make([]float64, len(records))
	result.Min = math.Inf(1)
	result.Max = math.Inf(-1)
	for i, rec := range records {
		values[i] = rec.RealizedPnL
		result.Total += rec.RealizedPnL
		result.Min = math.Min(result.Min, rec.RealizedPnL)
		result.Max = math.Max(result.Max, rec.RealizedPnL)
	}

	result.Mean = stat.Mean(values, nil)
	if len(values) > 1 {
		result.StdDev = stat.StdDev(values, nil)
	}
	return result, nil
}
