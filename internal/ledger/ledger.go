package ledger

import (
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"SimLedger/internal/core"
	"SimLedger/internal/num"
	"SimLedger/internal/observability"
)

// Config is the immutable per-instance configuration surface.
type Config struct {
	// Name identifies the ledger; it is baked into every exec id.
	Name string

	// InitialTime is the starting logical clock.
	InitialTime time.Time

	// StrictStaleState converts stale-state advisories into rejections.
	// Default false: advisories go to the observer and the transaction
	// still applies.
	StrictStaleState bool

	// MaxCascadePasses bounds the lifecycle engine's within-step
	// fixed-point loop. Default 10.
	MaxCascadePasses int

	// DecimalPrecision is the minimum division precision in digits after
	// the decimal point. Default (and floor) 50.
	DecimalPrecision int

	// HashBits is the intent-id width: 128 or 256. Default 128.
	HashBits int

	// TestMode enables SetBalance, which builds a synthetic transaction
	// through the normal execute path. Fixtures only.
	TestMode bool
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "ledger"
	}
	if c.MaxCascadePasses <= 0 {
		c.MaxCascadePasses = 10
	}
	if c.DecimalPrecision < num.MinPrecision {
		c.DecimalPrecision = num.MinPrecision
	}
	if c.HashBits == 0 {
		c.HashBits = core.DefaultHashBits
	}
	return c
}

// balanceKey addresses one (wallet, unit) balance cell.
type balanceKey struct {
	Wallet string
	Unit   string
}

// Ledger is the deterministic in-memory double-entry ledger. It owns its
// balances, units, log, indexes, and logical clock exclusively, and is
// the single mutation point for all of them.
//
// Not safe for concurrent use. Clone the ledger and drive independent
// instances for parallel simulation.
type Ledger struct {
	cfg  Config
	name string

	balances      map[balanceKey]num.Decimal
	units         map[string]core.Unit
	wallets       map[string]struct{}
	log           []core.Transaction
	seenIntentIDs map[string]string // intent_id -> exec_id
	positions     map[string]map[string]num.Decimal
	currentTime   time.Time
	nextSequence  int64

	staleObserver core.StaleStateObserver
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

// New creates a ledger from cfg. The system wallet is pre-registered.
func New(cfg Config) *Ledger {
	cfg = cfg.withDefaults()
	num.EnsurePrecision(cfg.DecimalPrecision)

	l := &Ledger{
		cfg:           cfg,
		name:          cfg.Name,
		balances:      make(map[balanceKey]num.Decimal),
		units:         make(map[string]core.Unit),
		wallets:       make(map[string]struct{}),
		seenIntentIDs: make(map[string]string),
		positions:     make(map[string]map[string]num.Decimal),
		currentTime:   cfg.InitialTime,
		logger:        zerolog.Nop(),
	}
	l.wallets[core.SystemWallet] = struct{}{}
	return l
}

// SetLogger attaches a structured logger for transaction and advisory
// output.
func (l *Ledger) SetLogger(logger zerolog.Logger) { l.logger = logger }

// SetMetrics attaches Prometheus instrumentation.
func (l *Ledger) SetMetrics(m *observability.Metrics) { l.metrics = m }

// SetStaleStateObserver installs the advisory channel for stale-state
// detections (warn mode).
func (l *Ledger) SetStaleStateObserver(fn core.StaleStateObserver) { l.staleObserver = fn }

// Name returns the ledger identifier.
func (l *Ledger) Name() string { return l.name }

// Config returns the instance configuration.
func (l *Ledger) Config() Config { return l.cfg }

// ============================================================
// LedgerView implementation (read-only)
// ============================================================

// CurrentTime returns the logical clock.
func (l *Ledger) CurrentTime() time.Time { return l.currentTime }

// GetBalance returns the balance of unitSymbol in wallet; missing keys
// read as zero.
func (l *Ledger) GetBalance(wallet, unitSymbol string) num.Decimal {
	return l.balances[balanceKey{wallet, unitSymbol}]
}

// GetUnitState returns a fresh copy of a unit's state, empty if the
// unit is unknown or stateless.
func (l *Ledger) GetUnitState(unitSymbol string) core.UnitState {
	u, ok := l.units[unitSymbol]
	if !ok {
		return core.UnitState{}
	}
	return u.State()
}

// GetPositions returns a materialized snapshot of the non-zero holders
// of a unit.
func (l *Ledger) GetPositions(unitSymbol string) map[string]num.Decimal {
	out := make(map[string]num.Decimal, len(l.positions[unitSymbol]))
	for w, q := range l.positions[unitSymbol] {
		out[w] = q
	}
	return out
}

// ListWallets returns all registered wallets sorted ascending.
func (l *Ledger) ListWallets() []string {
	out := make([]string, 0, len(l.wallets))
	for w := range l.wallets {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// ListUnits returns all registered unit symbols sorted ascending.
func (l *Ledger) ListUnits() []string {
	out := make([]string, 0, len(l.units))
	for s := range l.units {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GetUnit returns the unit definition for symbol.
func (l *Ledger) GetUnit(symbol string) (core.Unit, bool) {
	u, ok := l.units[symbol]
	return u, ok
}

// IsRegistered reports whether a wallet exists.
func (l *Ledger) IsRegistered(wallet string) bool {
	_, ok := l.wallets[wallet]
	return ok
}

// WalletBalances returns a copy of all balances held by one wallet.
func (l *Ledger) WalletBalances(wallet string) map[string]num.Decimal {
	out := make(map[string]num.Decimal)
	for key, q := range l.balances {
		if key.Wallet == wallet && !q.IsZero() {
			out[key.Unit] = q
		}
	}
	return out
}

// TotalSupply sums a unit's balances over all wallets in sorted wallet
// order. Conservation requires the result to be exactly zero; callers
// use it as a self-check.
func (l *Ledger) TotalSupply(unitSymbol string) num.Decimal {
	total := num.Zero
	for _, w := range l.ListWallets() {
		total = total.Add(l.balances[balanceKey{w, unitSymbol}])
	}
	return total
}

// SupplyDiscrepancy describes one conservation violation.
type SupplyDiscrepancy struct {
	Unit       string
	Expected   num.Decimal
	Actual     num.Decimal
	Difference num.Decimal
}

// SupplyReport is the result of VerifySupplies.
type SupplyReport struct {
	Valid         bool
	Supplies      map[string]num.Decimal
	Discrepancies []SupplyDiscrepancy
}

// VerifySupplies checks conservation for every unit. With expected nil,
// every unit is checked against zero total supply.
func (l *Ledger) VerifySupplies(expected map[string]num.Decimal) SupplyReport {
	report := SupplyReport{Valid: true, Supplies: make(map[string]num.Decimal)}
	for _, symbol := range l.ListUnits() {
		actual := l.TotalSupply(symbol)
		report.Supplies[symbol] = actual
		want := num.Zero
		if expected != nil {
			w, ok := expected[symbol]
			if !ok {
				continue
			}
			want = w
		}
		if !actual.Equal(want) {
			report.Valid = false
			report.Discrepancies = append(report.Discrepancies, SupplyDiscrepancy{
				Unit:       symbol,
				Expected:   want,
				Actual:     actual,
				Difference: actual.Sub(want),
			})
		}
	}
	return report
}

// LogLen returns the number of executed transactions.
func (l *Ledger) LogLen() int { return len(l.log) }

// LogIter iterates the transaction log in execution order.
func (l *Ledger) LogIter() iter.Seq[core.Transaction] {
	return func(yield func(core.Transaction) bool) {
		for _, tx := range l.log {
			if !yield(tx) {
				return
			}
		}
	}
}

// LastTransaction returns the most recently executed transaction.
func (l *Ledger) LastTransaction() (core.Transaction, bool) {
	if len(l.log) == 0 {
		return core.Transaction{}, false
	}
	return l.log[len(l.log)-1], true
}

// NextSequence returns the sequence number the next successful execute
// will claim.
func (l *Ledger) NextSequence() int64 { return l.nextSequence }

// ============================================================
// Time and registration
// ============================================================

// AdvanceTime moves the logical clock forward. Time never moves
// backward.
func (l *Ledger) AdvanceTime(target time.Time) error {
	if target.Before(l.currentTime) {
		return fmt.Errorf("cannot move time backwards: %s < %s",
			core.CanonicalTimestamp(target), core.CanonicalTimestamp(l.currentTime))
	}
	l.currentTime = target
	return nil
}

// RegisterWallet adds a wallet. Registering an existing wallet is an
// error.
func (l *Ledger) RegisterWallet(wallet string) error {
	if wallet == "" {
		return fmt.Errorf("wallet id cannot be empty")
	}
	if _, ok := l.wallets[wallet]; ok {
		return fmt.Errorf("wallet %s already registered", wallet)
	}
	l.wallets[wallet] = struct{}{}
	l.logger.Debug().Str("wallet", wallet).Msg("wallet registered")
	return nil
}

// RegisterUnit registers a unit through the normal execute path: it is
// equivalent to a units-only PendingTransaction and lands in the log.
func (l *Ledger) RegisterUnit(u core.Unit) core.ExecuteResult {
	pending, err := core.NewPendingTransactionHashBits(
		nil, nil, []core.Unit{u},
		core.Origin{Type: core.OriginSystem, SourceID: "register_unit", UnitSymbol: u.Symbol},
		l.currentTime,
		l.cfg.HashBits,
	)
	if err != nil {
		return core.Rejected(&core.Rejection{Code: core.ReasonDegenerateMove, Message: err.Error()})
	}
	return l.Execute(pending)
}

// SetBalance forces a wallet balance by issuing the delta from the
// system wallet through the normal execute path — validation and
// logging are never bypassed. Available only in test mode.
func (l *Ledger) SetBalance(wallet, unitSymbol string, target num.Decimal) (core.ExecuteResult, error) {
	if !l.cfg.TestMode {
		return core.ExecuteResult{}, fmt.Errorf("SetBalance is disabled outside test mode")
	}
	if wallet == core.SystemWallet {
		return core.ExecuteResult{}, fmt.Errorf("SetBalance cannot target the system wallet")
	}
	delta := target.Sub(l.GetBalance(wallet, unitSymbol))
	if delta.IsZero() {
		return core.Applied(nil), nil
	}
	source, dest := core.SystemWallet, wallet
	if delta.IsNegative() {
		source, dest = wallet, core.SystemWallet
		delta = delta.Neg()
	}
	move, err := core.NewMove(delta, unitSymbol, source, dest, "test_fixture")
	if err != nil {
		return core.ExecuteResult{}, err
	}
	pending, err := core.NewPendingTransactionHashBits(
		[]core.Move{move}, nil, nil,
		core.Origin{Type: core.OriginSystem, SourceID: "set_balance", UnitSymbol: unitSymbol},
		l.currentTime,
		l.cfg.HashBits,
	)
	if err != nil {
		return core.ExecuteResult{}, err
	}
	return l.Execute(pending), nil
}

// setBalance writes one balance cell and keeps the positions index in
// step: non-zero balances are indexed, zero balances removed.
func (l *Ledger) setBalance(key balanceKey, value num.Decimal) {
	if value.IsZero() {
		delete(l.balances, key)
	} else {
		l.balances[key] = value
	}

	holders := l.positions[key.Unit]
	if value.IsZero() {
		if holders != nil {
			delete(holders, key.Wallet)
			if len(holders) == 0 {
				delete(l.positions, key.Unit)
			}
		}
		return
	}
	if holders == nil {
		holders = make(map[string]num.Decimal)
		l.positions[key.Unit] = holders
	}
	holders[key.Wallet] = value
}
