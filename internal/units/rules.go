package units

import (
	"SimLedger/internal/core"
)

// BilateralRule restricts a bilateral unit to its two counterparties,
// read from the unit state as long_wallet and short_wallet. The system
// wallet is always permitted as an endpoint so issuance and retirement
// work. During novation a temporary _novation_from entry authorizes the
// transferring wallet.
func BilateralRule(view core.LedgerView, move core.Move) error {
	state := view.GetUnitState(move.UnitSymbol)

	longWallet, _ := state["long_wallet"].(string)
	shortWallet, _ := state["short_wallet"].(string)
	if longWallet == "" || shortWallet == "" {
		return core.Violation(move.UnitSymbol, "bilateral unit missing counterparty state")
	}

	authorized := map[string]bool{
		longWallet:        true,
		shortWallet:       true,
		core.SystemWallet: true,
	}
	if novationFrom, ok := state["_novation_from"].(string); ok && novationFrom != "" {
		authorized[novationFrom] = true
	}

	if !authorized[move.Source] {
		return core.Violation(move.UnitSymbol, "%s not authorized", move.Source)
	}
	if !authorized[move.Dest] {
		return core.Violation(move.UnitSymbol, "%s not authorized", move.Dest)
	}
	return nil
}
