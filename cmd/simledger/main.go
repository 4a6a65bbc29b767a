package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"SimLedger/internal/core"
	"SimLedger/internal/export"
	"SimLedger/internal/ledger"
	"SimLedger/internal/lifecycle"
	"SimLedger/internal/num"
	"SimLedger/internal/observability"
	"SimLedger/internal/persistence"
	"SimLedger/internal/pricing"
	"SimLedger/internal/schedule"
	"SimLedger/internal/units"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	LedgerName string
	Seed       int64
	Days       int

	MetricsAddr string

	// Optional exports. Empty values disable the corresponding sink.
	NATSURL       string
	SubjectPrefix string
	PostgresDSN   string

	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	StrictStaleState bool
	MaxCascadePasses int
	HashBits         int
}

func DefaultConfig() Config {
	return Config{
		LedgerName:          envOrDefault("SIM_LEDGER_NAME", "sim"),
		Seed:                int64(envIntOrDefault("SIM_SEED", 42)),
		Days:                envIntOrDefault("SIM_DAYS", 30),
		MetricsAddr:         envOrDefault("SIM_METRICS_ADDR", ":9091"),
		NATSURL:             os.Getenv("SIM_NATS_URL"),
		SubjectPrefix:       envOrDefault("SIM_SUBJECT_PREFIX", export.DefaultSubjectPrefix),
		PostgresDSN:         os.Getenv("SIM_POSTGRES_DSN"),
		PersistBatchSize:    envIntOrDefault("SIM_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: 10 * time.Millisecond,
		StrictStaleState:    os.Getenv("SIM_STRICT_STALE_STATE") == "1",
		MaxCascadePasses:    envIntOrDefault("SIM_MAX_CASCADE_PASSES", 10),
		HashBits:            envIntOrDefault("SIM_HASH_BITS", core.DefaultHashBits),
	}
}

func main() {
	logger := observability.NewLogger("simledger")
	cfg := DefaultConfig()
	metrics := observability.NewMetrics()

	runID := uuid.New().String()
	logger.Info().Str("run_id", runID).Int64("seed", cfg.Seed).Int("days", cfg.Days).Msg("simulation starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Metrics & health endpoint ---
	health := observability.NewHealthChecker()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn().Err(err).Msg("metrics endpoint stopped")
		}
	}()

	// --- Optional export sinks ---
	txChans, wg := startSinks(ctx, cfg, logger, metrics)

	// --- Ledger, scheduler, engine ---
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := ledger.New(ledger.Config{
		Name:             cfg.LedgerName,
		InitialTime:      start,
		StrictStaleState: cfg.StrictStaleState,
		MaxCascadePasses: cfg.MaxCascadePasses,
		HashBits:         cfg.HashBits,
	})
	l.SetLogger(observability.NewLogger("ledger"))
	l.SetMetrics(metrics)
	l.SetStaleStateObserver(func(adv core.StaleStateAdvisory) {
		logger.Warn().Str("unit", adv.UnitSymbol).Str("key", adv.Key).Msg("stale state advisory")
	})

	scheduler := schedule.NewScheduler()
	units.RegisterDefaultHandlers(scheduler)

	engine := lifecycle.NewEngine(l, scheduler)
	engine.SetLogger(observability.NewLogger("lifecycle"))
	engine.SetMetrics(metrics)
	engine.RegisterContract(units.TypeDeferredCash, units.DeferredCashContract{})
	engine.RegisterContract(units.TypeStock, units.StockContract{})

	if err := setupScenario(l, scheduler, runID, start, cfg.Days); err != nil {
		logger.Fatal().Err(err).Msg("scenario setup failed")
	}
	health.SetReady(true)

	// --- Price paths and timestamps ---
	timestamps := make([]time.Time, 0, cfg.Days)
	for day := 0; day < cfg.Days; day++ {
		timestamps = append(timestamps, start.AddDate(0, 0, day+1))
	}
	prices := pricing.GenerateWalks(cfg.Seed, timestamps, map[string]pricing.WalkParams{
		"ACME": {Initial: num.MustParse("100"), Drift: 0.05, Volatility: 0.2},
	}, "USD")

	// --- Drive the lifecycle ---
	var executedTotal int
	for _, ts := range timestamps {
		stepStart := time.Now()
		executed, err := engine.Step(ts, prices.Prices([]string{"ACME", "USD"}, ts))
		metrics.StepDuration.Observe(time.Since(stepStart).Seconds())
		if err != nil {
			logger.Fatal().Err(err).Time("step", ts).Msg("lifecycle step failed")
		}
		executedTotal += len(executed)
		for _, tx := range executed {
			for _, ch := range txChans {
				ch <- tx
			}
		}
	}

	for _, ch := range txChans {
		close(ch)
	}
	wg.Wait()

	report := l.VerifySupplies(nil)
	if !report.Valid {
		logger.Fatal().Interface("discrepancies", report.Discrepancies).Msg("conservation violated")
	}

	logger.Info().
		Int("transactions", l.LogLen()).
		Int("lifecycle_executed", executedTotal).
		Str("alice_usd", l.GetBalance("alice", "USD").Canonical()).
		Str("bob_usd", l.GetBalance("bob", "USD").Canonical()).
		Msg("simulation complete")
}

// setupScenario registers the wallets and units and seeds the event
// queue for the demo portfolio.
func setupScenario(l *ledger.Ledger, scheduler *schedule.Scheduler, runID string, start time.Time, days int) error {
	for _, wallet := range []string{"alice", "bob", "treasury"} {
		if err := l.RegisterWallet(wallet); err != nil {
			return err
		}
	}

	if result := l.RegisterUnit(units.Cash("USD", "US Dollar")); result.Status != core.StatusApplied {
		return fmt.Errorf("register USD: %s", result)
	}
	stock := units.Stock("ACME", "Acme Corp", "treasury", "USD", false, []any{
		units.DividendEntry(start.AddDate(0, 0, 10), num.MustParse("0.25")),
		units.DividendEntry(start.AddDate(0, 0, 20), num.MustParse("0.25")),
	})
	if result := l.RegisterUnit(stock); result.Status != core.StatusApplied {
		return fmt.Errorf("register ACME: %s", result)
	}
	bond := units.Bond("ACME27", "Acme 2027 Note", "treasury", "USD",
		num.MustParse("100"), num.MustParse("2.5"), start.AddDate(0, 0, days))
	if result := l.RegisterUnit(bond); result.Status != core.StatusApplied {
		return fmt.Errorf("register ACME27: %s", result)
	}

	origin := core.Origin{Type: core.OriginSystem, SourceID: runID, EventType: "SETUP"}
	issue := func(qty num.Decimal, unitSymbol, dest string) error {
		move, err := core.NewMove(qty, unitSymbol, core.SystemWallet, dest, "issuance_"+unitSymbol+"_"+dest)
		if err != nil {
			return err
		}
		pending, err := core.BuildTransaction(l, []core.Move{move}, nil, origin)
		if err != nil {
			return err
		}
		if result := l.Execute(pending); result.Status != core.StatusApplied {
			return fmt.Errorf("issue %s %s to %s: %s", qty, unitSymbol, dest, result)
		}
		return nil
	}

	for _, step := range []struct {
		qty    string
		unit   string
		wallet string
	}{
		{"1000000", "USD", "treasury"},
		{"50000", "USD", "alice"},
		{"50000", "USD", "bob"},
		{"300", "ACME", "alice"},
		{"200", "ACME", "bob"},
		{"10", "ACME27", "alice"},
	} {
		if err := issue(num.MustParse(step.qty), step.unit, step.wallet); err != nil {
			return err
		}
	}

	// Deferred obligation: alice owes bob mid-run. Registered together
	// with its token issuance in one transaction.
	dcSymbol := "DC_ALICE_BOB_1"
	dc := units.DeferredCash(dcSymbol, "alice", "bob", "USD",
		num.MustParse("1250"), start.AddDate(0, 0, 15))
	token, err := core.NewMove(num.FromInt(1), dcSymbol, core.SystemWallet, "bob", "issuance_"+dcSymbol)
	if err != nil {
		return err
	}
	pending, err := core.BuildTransaction(l, []core.Move{token}, nil, origin, dc)
	if err != nil {
		return err
	}
	if result := l.Execute(pending); result.Status != core.StatusApplied {
		return fmt.Errorf("register %s: %s", dcSymbol, result)
	}

	// One bond coupon mid-run (day 14), redemption at the end.
	coupon, err := schedule.NewEvent(start.AddDate(0, 0, 14), 30, "ACME27", units.ActionCoupon,
		core.UnitState{"coupon_amount": num.MustParse("2.5"), "currency": "USD"})
	if err != nil {
		return err
	}
	scheduler.Schedule(coupon)
	maturity, err := schedule.NewEvent(start.AddDate(0, 0, days), 40, "ACME27", units.ActionMaturity,
		core.UnitState{"redemption_price": num.MustParse("100"), "currency": "USD"})
	if err != nil {
		return err
	}
	scheduler.Schedule(maturity)

	return nil
}

// startSinks wires the optional NATS and Postgres exports. Each sink
// gets its own buffered channel fed by the main loop; closing the
// channels drains and stops the sinks.
func startSinks(ctx context.Context, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) ([]chan core.Transaction, *sync.WaitGroup) {
	var chans []chan core.Transaction
	wg := &sync.WaitGroup{}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect failed")
		}
		publisher, err := export.NewPublisher(nc, cfg.SubjectPrefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("jetstream init failed")
		}
		publisher.SetLogger(observability.NewLogger("publisher"))
		publisher.SetMetrics(metrics)

		ch := make(chan core.Transaction, 1024)
		chans = append(chans, ch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer nc.Drain()
			publisher.Run(ctx, ch)
		}()
	}

	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres open failed")
		}
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal().Err(err).Msg("postgres ping failed")
		}
		migrator := persistence.NewMigrator(db, envOrDefault("MIGRATIONS_DIR", "migrations"))
		migrator.SetLogger(observability.NewLogger("migrate"))
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}

		ch := make(chan core.Transaction, 1024)
		chans = append(chans, ch)
		worker := persistence.NewWorker(db, ch, cfg.PersistBatchSize, cfg.PersistFlushTimeout)
		worker.SetLogger(observability.NewLogger("persistence"))
		worker.SetMetrics(metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer db.Close()
			worker.Run(ctx)
		}()
	}

	return chans, wg
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
