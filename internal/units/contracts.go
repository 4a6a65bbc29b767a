package units

import (
	"fmt"
	"time"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
)

// DeferredCashContract settles deferred-cash obligations when their
// settle time arrives. Registered with the lifecycle engine under
// TypeDeferredCash; polled once per pass per unit.
type DeferredCashContract struct{}

func (DeferredCashContract) CheckLifecycle(view core.LedgerView, symbol string, timestamp time.Time, prices core.Prices) (core.PendingTransaction, error) {
	state := view.GetUnitState(symbol)
	if settled, _ := state["settled"].(bool); settled {
		return core.EmptyPending(view), nil
	}
	settleRaw, _ := state["settle_time"].(string)
	settleTime, err := core.ParseTimestamp(settleRaw)
	if err != nil {
		return core.PendingTransaction{}, fmt.Errorf("deferred cash %s has invalid settle_time %q: %w", symbol, settleRaw, err)
	}
	if timestamp.Before(settleTime) {
		return core.EmptyPending(view), nil
	}
	return ComputeDeferredCashSettlement(view, symbol)
}

// ComputeDeferredCashSettlement builds the settlement transaction for a
// matured deferred-cash unit: the payer pays the obligation amount, the
// obligation token retires to the system wallet, and the state flips to
// settled.
func ComputeDeferredCashSettlement(view core.LedgerView, symbol string) (core.PendingTransaction, error) {
	state := view.GetUnitState(symbol)
	if settled, _ := state["settled"].(bool); settled {
		return core.EmptyPending(view), nil
	}

	payee, _ := state["long_wallet"].(string)
	payer, _ := state["short_wallet"].(string)
	currency, _ := state["currency"].(string)
	amount, okAmount := state["amount"].(num.Decimal)
	if payee == "" || payer == "" || currency == "" || !okAmount {
		return core.PendingTransaction{}, fmt.Errorf("deferred cash %s has incomplete state", symbol)
	}

	var moves []core.Move
	payment, err := core.NewMove(amount, currency, payer, payee, "settle_"+symbol)
	if err != nil {
		return core.PendingTransaction{}, err
	}
	moves = append(moves, payment)

	// Retire the obligation token held by the payee.
	tokenQty := view.GetBalance(payee, symbol)
	if tokenQty.IsPositive() {
		retire, err := core.NewMove(tokenQty, symbol, payee, core.SystemWallet, "retire_"+symbol)
		if err != nil {
			return core.PendingTransaction{}, err
		}
		moves = append(moves, retire)
	}

	newState := core.CopyState(state)
	newState["settled"] = true
	change, err := core.NewUnitStateChange(symbol, state, newState)
	if err != nil {
		return core.PendingTransaction{}, err
	}

	origin := core.Origin{
		Type:       core.OriginContract,
		SourceID:   "deferred_cash",
		UnitSymbol: symbol,
		EventType:  "SETTLEMENT",
	}
	return core.BuildTransaction(view, moves, []core.UnitStateChange{change}, origin)
}

// StockContract pays scheduled dividends read from the stock's state:
// dividend_schedule is an ordered list of DividendEntry mappings and
// next_payment_index tracks progress. One payment fires per pass, so a
// step spanning several due dates settles them across cascade passes.
type StockContract struct{}

func (StockContract) CheckLifecycle(view core.LedgerView, symbol string, timestamp time.Time, prices core.Prices) (core.PendingTransaction, error) {
	state := view.GetUnitState(symbol)
	schedule, _ := state["dividend_schedule"].([]any)
	nextIdx := stateInt(state["next_payment_index"])
	if nextIdx >= int64(len(schedule)) {
		return core.EmptyPending(view), nil
	}

	entry, ok := schedule[nextIdx].(map[string]any)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("stock %s dividend schedule entry %d is malformed", symbol, nextIdx)
	}
	dateRaw, _ := entry["payment_date"].(string)
	paymentDate, err := core.ParseTimestamp(dateRaw)
	if err != nil {
		return core.PendingTransaction{}, fmt.Errorf("stock %s dividend entry %d has invalid payment_date %q: %w",
			symbol, nextIdx, dateRaw, err)
	}
	if timestamp.Before(paymentDate) {
		return core.EmptyPending(view), nil
	}
	perShare, ok := entry["dividend_per_share"].(num.Decimal)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("stock %s dividend entry %d missing dividend_per_share", symbol, nextIdx)
	}

	issuer, _ := state["issuer"].(string)
	currency, _ := state["currency"].(string)
	if issuer == "" || currency == "" {
		return core.PendingTransaction{}, fmt.Errorf("stock %s has incomplete dividend state", symbol)
	}

	var moves []core.Move
	positions := view.GetPositions(symbol)
	for _, wallet := range sortedHolders(view, symbol) {
		shares := positions[wallet]
		if !shares.IsPositive() || wallet == issuer {
			continue
		}
		payout := shares.Mul(perShare).Round(CashDecimalPlaces)
		if payout.IsZero() {
			continue
		}
		move, err := core.NewMove(payout, currency, issuer, wallet,
			fmt.Sprintf("dividend_%s_%d_%s", symbol, nextIdx, wallet))
		if err != nil {
			return core.PendingTransaction{}, err
		}
		moves = append(moves, move)
	}

	newState := core.CopyState(state)
	newState["next_payment_index"] = nextIdx + 1
	change, err := core.NewUnitStateChange(symbol, state, newState)
	if err != nil {
		return core.PendingTransaction{}, err
	}

	origin := core.Origin{
		Type:       core.OriginContract,
		SourceID:   "stock_dividend",
		UnitSymbol: symbol,
		EventType:  "DIVIDEND",
	}
	return core.BuildTransaction(view, moves, []core.UnitStateChange{change}, origin)
}

func stateInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	default:
		return 0
	}
}
