package units

import (
	"time"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
)

// Unit type tags dispatched on by the lifecycle engine. Strings, not an
// enum: contracts for new types plug in without touching this package.
const (
	TypeCash         = "CASH"
	TypeStock        = "STOCK"
	TypeBond         = "BOND"
	TypeDeferredCash = "DEFERRED_CASH"
)

// Per-asset-class decimal precision for balance rounding.
const (
	CashDecimalPlaces  int32 = 2
	StockDecimalPlaces int32 = 6
)

var (
	// DefaultCashMinBalance allows large overdrafts on cash units.
	DefaultCashMinBalance = num.MustParse("-1000000000")

	// DefaultStockShortMinBalance bounds short positions on shortable
	// stocks.
	DefaultStockShortMinBalance = num.MustParse("-10000000")

	// unboundedMax stands in for "no upper bound". Wide enough that no
	// simulated balance reaches it.
	unboundedMax = num.MustParse("1000000000000000000000000000000")
)

func places(n int32) *int32 { return &n }

// Cash creates a currency unit with overdraft headroom and two-place
// balance precision.
func Cash(symbol, name string) core.Unit {
	return core.MustUnit(symbol, name, TypeCash,
		DefaultCashMinBalance, unboundedMax, places(CashDecimalPlaces), nil,
		core.UnitState{"issuer": "central_bank"})
}

// Stock creates an equity unit. The issuer wallet pays dividends in the
// given currency. A shortable stock allows bounded negative balances.
// Schedule entries (built with DividendEntry) drive the stock contract's
// polled dividend payments.
func Stock(symbol, name, issuer, currency string, shortable bool, dividendSchedule []any) core.Unit {
	minBalance := num.Zero
	if shortable {
		minBalance = DefaultStockShortMinBalance
	}
	if dividendSchedule == nil {
		dividendSchedule = []any{}
	}
	return core.MustUnit(symbol, name, TypeStock,
		minBalance, unboundedMax, places(StockDecimalPlaces), nil,
		core.UnitState{
			"issuer":             issuer,
			"currency":           currency,
			"shortable":          shortable,
			"dividend_schedule":  dividendSchedule,
			"next_payment_index": int64(0),
		})
}

// DividendEntry builds one dividend-schedule entry for Stock.
func DividendEntry(paymentDate time.Time, perShare num.Decimal) map[string]any {
	return map[string]any{
		"payment_date":       core.CanonicalTimestamp(paymentDate),
		"dividend_per_share": perShare,
	}
}

// Bond creates a fixed-income unit. Coupon and maturity payments are
// driven by scheduled events; the unit state carries the term sheet.
func Bond(symbol, name, issuer, currency string, principal, couponAmount num.Decimal, maturity time.Time) core.Unit {
	return core.MustUnit(symbol, name, TypeBond,
		num.Zero, unboundedMax, places(StockDecimalPlaces), nil,
		core.UnitState{
			"issuer":        issuer,
			"currency":      currency,
			"principal":     principal,
			"coupon_amount": couponAmount,
			"maturity":      core.CanonicalTimestamp(maturity),
			"matured":       false,
		})
}

// DeferredCash creates a dated payment obligation from payer to payee.
// The obligation token is held by the payee until the deferred-cash
// contract settles it at or after the settle time. The token is
// bilateral: only the two counterparties may hold it.
func DeferredCash(symbol, payer, payee, currency string, amount num.Decimal, settleTime time.Time) core.Unit {
	return core.MustUnit(symbol, "Deferred cash "+payer+"→"+payee, TypeDeferredCash,
		num.Zero, unboundedMax, nil, BilateralRule,
		core.UnitState{
			"long_wallet":  payee,
			"short_wallet": payer,
			"amount":       amount,
			"currency":     currency,
			"settle_time":  core.CanonicalTimestamp(settleTime),
			"settled":      false,
		})
}
