package pricing

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"SimLedger/internal/num"
)

// WalkParams configures one symbol's generated price path.
type WalkParams struct {
	Initial    num.Decimal
	Drift      float64 // annualized drift
	Volatility float64 // annualized volatility
}

// GenerateWalks builds a TimeSeries of geometric random-walk price paths
// over the given timestamps, seeded explicitly so the same seed always
// produces identical paths. Levels are generated in float space and
// quantized to four decimal places before entering the Decimal domain;
// no float ever reaches the ledger core.
func GenerateWalks(seed int64, timestamps []time.Time, params map[string]WalkParams, baseCurrency string) *TimeSeries {
	rng := rand.New(rand.NewSource(seed))
	series := NewTimeSeries(nil, baseCurrency)

	// Symbols in sorted order so RNG consumption is deterministic.
	symbols := make([]string, 0, len(params))
	for symbol := range params {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	const yearSeconds = 365.25 * 24 * 3600

	for _, symbol := range symbols {
		p := params[symbol]
		level, err := strconv.ParseFloat(p.Initial.Canonical(), 64)
		if err != nil {
			panic(fmt.Sprintf("initial price for %s: %v", symbol, err))
		}

		path := make([]PricePoint, 0, len(timestamps))
		prev := time.Time{}
		for i, ts := range timestamps {
			if i > 0 {
				dt := ts.Sub(prev).Seconds() / yearSeconds
				z := rng.NormFloat64()
				level *= math.Exp((p.Drift-0.5*p.Volatility*p.Volatility)*dt +
					p.Volatility*math.Sqrt(dt)*z)
			}
			prev = ts
			path = append(path, PricePoint{Time: ts, Price: quantize(level)})
		}
		series.series[symbol] = path
	}

	return series
}

// quantize converts a generated float level to an exact four-place
// decimal.
func quantize(level float64) num.Decimal {
	return num.MustParse(strconv.FormatFloat(level, 'f', 4, 64))
}
