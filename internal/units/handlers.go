package units

import (
	"fmt"
	"sort"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
	"SimLedger/internal/schedule"
)

// Scheduled-event actions with default handlers.
const (
	ActionDividend   = "dividend"
	ActionCoupon     = "coupon"
	ActionMaturity   = "maturity"
	ActionSettlement = "settlement"
	ActionSplit      = "split"
)

// RegisterDefaultHandlers installs the standard lifecycle handlers on a
// scheduler.
func RegisterDefaultHandlers(s *schedule.Scheduler) {
	s.Register(ActionDividend, HandleDividend)
	s.Register(ActionCoupon, HandleCoupon)
	s.Register(ActionMaturity, HandleMaturity)
	s.Register(ActionSettlement, HandleSettlement)
	s.Register(ActionSplit, HandleSplit)
}

// sortedHolders returns the non-zero holders of a unit in wallet order.
func sortedHolders(view core.LedgerView, symbol string) []string {
	positions := view.GetPositions(symbol)
	wallets := make([]string, 0, len(positions))
	for w := range positions {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)
	return wallets
}

// HandleDividend pays amount_per_share in the given currency from the
// stock's issuer to every positive holder. Event params: amount_per_share,
// currency.
func HandleDividend(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
	perShare, ok := event.Params["amount_per_share"].(num.Decimal)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("dividend event for %s missing amount_per_share", event.Symbol)
	}
	currency, ok := event.Params["currency"].(string)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("dividend event for %s missing currency", event.Symbol)
	}

	state := view.GetUnitState(event.Symbol)
	issuer, _ := state["issuer"].(string)
	if issuer == "" {
		return core.PendingTransaction{}, fmt.Errorf("stock %s has no issuer in state", event.Symbol)
	}

	var moves []core.Move
	positions := view.GetPositions(event.Symbol)
	for _, wallet := range sortedHolders(view, event.Symbol) {
		shares := positions[wallet]
		if !shares.IsPositive() || wallet == issuer {
			continue
		}
		payout := shares.Mul(perShare).Round(CashDecimalPlaces)
		if payout.IsZero() {
			continue
		}
		move, err := core.NewMove(payout, currency, issuer, wallet,
			fmt.Sprintf("dividend_%s_%s", event.Symbol, wallet))
		if err != nil {
			return core.PendingTransaction{}, err
		}
		moves = append(moves, move)
	}
	if len(moves) == 0 {
		return core.EmptyPending(view), nil
	}

	origin := core.Origin{
		Type:       core.OriginLifecycle,
		SourceID:   ActionDividend,
		UnitSymbol: event.Symbol,
		EventType:  "DIVIDEND",
	}
	return core.BuildTransaction(view, moves, nil, origin)
}

// HandleCoupon pays coupon_amount per bond unit from the issuer to every
// holder. Event params: coupon_amount, currency.
func HandleCoupon(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
	couponAmount, ok := event.Params["coupon_amount"].(num.Decimal)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("coupon event for %s missing coupon_amount", event.Symbol)
	}
	currency, ok := event.Params["currency"].(string)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("coupon event for %s missing currency", event.Symbol)
	}

	state := view.GetUnitState(event.Symbol)
	issuer, _ := state["issuer"].(string)
	if issuer == "" {
		return core.PendingTransaction{}, fmt.Errorf("bond %s has no issuer in state", event.Symbol)
	}

	var moves []core.Move
	positions := view.GetPositions(event.Symbol)
	for _, wallet := range sortedHolders(view, event.Symbol) {
		qty := positions[wallet]
		if !qty.IsPositive() || wallet == issuer {
			continue
		}
		payment := qty.Mul(couponAmount).Round(CashDecimalPlaces)
		if payment.IsZero() {
			continue
		}
		move, err := core.NewMove(payment, currency, issuer, wallet,
			fmt.Sprintf("coupon_%s_%s", event.Symbol, wallet))
		if err != nil {
			return core.PendingTransaction{}, err
		}
		moves = append(moves, move)
	}
	if len(moves) == 0 {
		return core.EmptyPending(view), nil
	}

	origin := core.Origin{
		Type:       core.OriginLifecycle,
		SourceID:   ActionCoupon,
		UnitSymbol: event.Symbol,
		EventType:  "COUPON",
	}
	return core.BuildTransaction(view, moves, nil, origin)
}

// HandleMaturity redeems a bond: each holder receives redemption_price
// per unit from the issuer, the bonds retire to the system wallet, and
// the unit state is marked matured. Event params: redemption_price,
// currency.
func HandleMaturity(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
	redemption, ok := event.Params["redemption_price"].(num.Decimal)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("maturity event for %s missing redemption_price", event.Symbol)
	}
	currency, ok := event.Params["currency"].(string)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("maturity event for %s missing currency", event.Symbol)
	}

	state := view.GetUnitState(event.Symbol)
	if matured, _ := state["matured"].(bool); matured {
		return core.EmptyPending(view), nil
	}
	issuer, _ := state["issuer"].(string)
	if issuer == "" {
		return core.PendingTransaction{}, fmt.Errorf("bond %s has no issuer in state", event.Symbol)
	}

	var moves []core.Move
	positions := view.GetPositions(event.Symbol)
	for _, wallet := range sortedHolders(view, event.Symbol) {
		qty := positions[wallet]
		if !qty.IsPositive() || wallet == issuer {
			continue
		}
		payment := qty.Mul(redemption).Round(CashDecimalPlaces)
		if !payment.IsZero() {
			cashMove, err := core.NewMove(payment, currency, issuer, wallet,
				fmt.Sprintf("redemption_%s_%s", event.Symbol, wallet))
			if err != nil {
				return core.PendingTransaction{}, err
			}
			moves = append(moves, cashMove)
		}
		retire, err := core.NewMove(qty, event.Symbol, wallet, core.SystemWallet,
			fmt.Sprintf("retire_%s_%s", event.Symbol, wallet))
		if err != nil {
			return core.PendingTransaction{}, err
		}
		moves = append(moves, retire)
	}

	newState := core.CopyState(state)
	newState["matured"] = true
	change, err := core.NewUnitStateChange(event.Symbol, state, newState)
	if err != nil {
		return core.PendingTransaction{}, err
	}

	origin := core.Origin{
		Type:       core.OriginLifecycle,
		SourceID:   ActionMaturity,
		UnitSymbol: event.Symbol,
		EventType:  "MATURITY",
	}
	return core.BuildTransaction(view, moves, []core.UnitStateChange{change}, origin)
}

// HandleSettlement settles a dated obligation. Dispatches on the unit
// definition's UnitType; deferred cash is the only settler.
func HandleSettlement(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
	unit, ok := viewUnit(view, event.Symbol)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("settlement event for unknown unit %s", event.Symbol)
	}
	switch unit.UnitType {
	case TypeDeferredCash:
		return ComputeDeferredCashSettlement(view, event.Symbol)
	default:
		return core.PendingTransaction{}, fmt.Errorf("no settlement logic for unit type %s (%s)",
			unit.UnitType, event.Symbol)
	}
}

// HandleSplit applies a stock split: every holder receives
// (ratio - 1) × shares additional units from the system wallet, and the
// applied ratio is recorded in the unit state. Event params: ratio.
func HandleSplit(event schedule.Event, view core.LedgerView, prices core.Prices) (core.PendingTransaction, error) {
	ratio, ok := event.Params["ratio"].(num.Decimal)
	if !ok {
		return core.PendingTransaction{}, fmt.Errorf("split event for %s missing ratio", event.Symbol)
	}
	if !ratio.IsPositive() {
		return core.PendingTransaction{}, fmt.Errorf("split ratio must be positive, got %s for %s", ratio, event.Symbol)
	}

	one := num.FromInt(1)
	var moves []core.Move
	positions := view.GetPositions(event.Symbol)
	for _, wallet := range sortedHolders(view, event.Symbol) {
		if wallet == core.SystemWallet {
			continue
		}
		qty := positions[wallet]
		extra := qty.Mul(ratio.Sub(one)).Round(StockDecimalPlaces)
		if extra.IsZero() {
			continue
		}
		source, dest := core.SystemWallet, wallet
		if extra.IsNegative() {
			// Reverse split: shares return to the system wallet.
			source, dest = wallet, core.SystemWallet
			extra = extra.Neg()
		}
		move, err := core.NewMove(extra, event.Symbol, source, dest,
			fmt.Sprintf("split_%s_%s", event.Symbol, wallet))
		if err != nil {
			return core.PendingTransaction{}, err
		}
		moves = append(moves, move)
	}

	state := view.GetUnitState(event.Symbol)
	newState := core.CopyState(state)
	splits, _ := newState["splits"].([]any)
	newState["splits"] = append(append([]any{}, splits...), ratio.Canonical())
	change, err := core.NewUnitStateChange(event.Symbol, state, newState)
	if err != nil {
		return core.PendingTransaction{}, err
	}

	origin := core.Origin{
		Type:       core.OriginLifecycle,
		SourceID:   ActionSplit,
		UnitSymbol: event.Symbol,
		EventType:  "SPLIT",
	}
	return core.BuildTransaction(view, moves, []core.UnitStateChange{change}, origin)
}

func viewUnit(view core.LedgerView, symbol string) (core.Unit, bool) {
	return view.GetUnit(symbol)
}
