// Package pricing provides the price feeds that drive lifecycle steps.
// The ledger core never reads prices from anywhere except the Step
// argument; these sources exist for the simulation driver and tests.
package pricing

import (
	"sort"
	"time"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
)

// Source provides unit prices at specific timestamps, denominated in a
// base currency. The base currency itself always prices at 1.
type Source interface {
	BaseCurrency() string
	Price(unitSymbol string, ts time.Time) (num.Decimal, bool)
	Prices(symbols []string, ts time.Time) core.Prices
}

// Static is a time-independent price map.
type Static struct {
	base   string
	prices map[string]num.Decimal
}

// NewStatic builds a static source. The base currency is forced to 1.
func NewStatic(prices map[string]num.Decimal, baseCurrency string) *Static {
	copied := make(map[string]num.Decimal, len(prices)+1)
	for symbol, p := range prices {
		copied[symbol] = p
	}
	copied[baseCurrency] = num.FromInt(1)
	return &Static{base: baseCurrency, prices: copied}
}

func (s *Static) BaseCurrency() string { return s.base }

func (s *Static) Price(unitSymbol string, ts time.Time) (num.Decimal, bool) {
	p, ok := s.prices[unitSymbol]
	return p, ok
}

func (s *Static) Prices(symbols []string, ts time.Time) core.Prices {
	out := make(core.Prices, len(symbols))
	for _, symbol := range symbols {
		if p, ok := s.prices[symbol]; ok {
			out[symbol] = p
		}
	}
	return out
}

// SetPrice updates one price.
func (s *Static) SetPrice(unitSymbol string, price num.Decimal) {
	s.prices[unitSymbol] = price
}

// PricePoint is one observation in a time series.
type PricePoint struct {
	Time  time.Time
	Price num.Decimal
}

// TimeSeries serves the most recent price at or before the requested
// timestamp from per-symbol histories.
type TimeSeries struct {
	base   string
	series map[string][]PricePoint
}

// NewTimeSeries builds a time-series source from complete price paths.
// Each path is sorted by time on ingestion.
func NewTimeSeries(paths map[string][]PricePoint, baseCurrency string) *TimeSeries {
	series := make(map[string][]PricePoint, len(paths))
	for symbol, path := range paths {
		sorted := append([]PricePoint(nil), path...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
		series[symbol] = sorted
	}
	return &TimeSeries{base: baseCurrency, series: series}
}

func (s *TimeSeries) BaseCurrency() string { return s.base }

// AddPrice appends an observation, keeping the series sorted.
func (s *TimeSeries) AddPrice(unitSymbol string, ts time.Time, price num.Decimal) {
	path := append(s.series[unitSymbol], PricePoint{Time: ts, Price: price})
	sort.Slice(path, func(i, j int) bool { return path[i].Time.Before(path[j].Time) })
	s.series[unitSymbol] = path
}

func (s *TimeSeries) Price(unitSymbol string, ts time.Time) (num.Decimal, bool) {
	if unitSymbol == s.base {
		return num.FromInt(1), true
	}
	path := s.series[unitSymbol]
	// First observation strictly after ts; the answer is the one before.
	idx := sort.Search(len(path), func(i int) bool { return path[i].Time.After(ts) })
	if idx == 0 {
		return num.Zero, false
	}
	return path[idx-1].Price, true
}

func (s *TimeSeries) Prices(symbols []string, ts time.Time) core.Prices {
	out := make(core.Prices, len(symbols))
	for _, symbol := range symbols {
		if p, ok := s.Price(symbol, ts); ok {
			out[symbol] = p
		}
	}
	return out
}

// Symbols returns the symbols with histories, sorted.
func (s *TimeSeries) Symbols() []string {
	out := make([]string, 0, len(s.series))
	for symbol := range s.series {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
