// Package engine runs one control loop per asset: candles in, risk verdicts
// and orders out, every ledger mutation serialized behind one mutex and
// persisted before the next decision.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"keel/internal/config"
	"keel/internal/gateway/exchange"
	"keel/internal/journal"
	"keel/internal/ledger"
	"keel/internal/logger"
	"keel/internal/market"
	"keel/internal/notifier"
	"keel/internal/persist"
	"keel/internal/pkg/trading"
	"keel/internal/reconcile"
	"keel/internal/risk"
	"keel/internal/strategy"

	"github.com/shopspring/decimal"
)

var (
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrNotRunning     = errors.New("engine: not running")
)

// Order execution must survive a Stop call mid-flight, so reconciliation
// runs under its own deadline instead of the subscription context.
const executionBudget = 2 * time.Minute

const quantityScale = 5

// Deps are the process-wide collaborators shared by all engines.
type Deps struct {
	Source    market.Source
	Trader    exchange.Trader
	Store     *persist.Store
	Journal   *journal.Store
	Notify    notifier.Notifier
	Templates *strategy.TemplateRegistry
}

// AssetEngine owns a single symbol end to end. All access to its ledger,
// candle cache and strategy goes through mu.
type AssetEngine struct {
	deps Deps
	log  logger.Scoped

	mu       sync.Mutex
	asset    config.AssetConfig
	maxCache int
	led      *ledger.Ledger
	gov      *risk.Governor
	rec      *reconcile.Reconciler
	strat    strategy.Strategy
	candles  []market.Candle

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New restores the symbol's ledger (or seeds a fresh one) and assembles the
// engine. It does not start consuming candles.
func New(asset config.AssetConfig, fleetRisk config.RiskConfig, exec config.ExecutionConfig, maxCache int, deps Deps) (*AssetEngine, error) {
	strat, err := buildStrategy(asset, deps.Templates)
	if err != nil {
		return nil, err
	}
	led, err := deps.Store.Load(asset.Symbol, 0)
	if errors.Is(err, os.ErrNotExist) {
		led = ledger.New(asset.Symbol, decimal.NewFromFloat(asset.StartingCapital))
	} else if err != nil {
		return nil, fmt.Errorf("restore %s: %w", asset.Symbol, err)
	}
	e := &AssetEngine{
		deps:     deps,
		log:      logger.Scope(asset.Symbol),
		asset:    asset,
		maxCache: maxCache,
		led:      led,
		gov:      risk.NewGovernor(riskConfig(asset.EffectiveRisk(fleetRisk))),
		rec:      reconcile.New(asset.Symbol, deps.Trader, reconcileConfig(exec)),
		strat:    strat,
	}
	return e, nil
}

func buildStrategy(asset config.AssetConfig, templates *strategy.TemplateRegistry) (strategy.Strategy, error) {
	if asset.Template != "" {
		if templates == nil {
			return nil, fmt.Errorf("%s references template %s but no registry is configured", asset.Symbol, asset.Template)
		}
		return templates.Build(asset.Template, asset.Params)
	}
	s, err := strategy.New(asset.Strategy)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(asset.Params); err != nil {
		return nil, err
	}
	return s, nil
}

func riskConfig(r config.RiskConfig) risk.Config {
	return risk.Config{
		Drawdown1hPct:        decimal.NewFromFloat(r.Drawdown1hPct),
		WindowSpan:           time.Duration(r.WindowMinutes) * time.Minute,
		MaxConsecutiveLosses: r.MaxConsecutiveLosses,
		DailyLossCap:         decimal.NewFromFloat(r.DailyLossCap),
		TotalDrawdownPct:     decimal.NewFromFloat(r.TotalDrawdownPct),
		TrailingStopPct:      decimal.NewFromFloat(r.TrailingStopPct),
	}
}

func reconcileConfig(e config.ExecutionConfig) reconcile.Config {
	return reconcile.Config{
		SubmitMaxAttempts:  e.SubmitMaxAttempts,
		SubmitBackoff:      time.Duration(e.SubmitBackoffMS) * time.Millisecond,
		SubmitBackoffCap:   10 * time.Second,
		ResolveMaxAttempts: e.ResolveMaxAttempts,
		ResolveInterval:    time.Duration(e.ResolveIntervalSeconds) * time.Second,
		FeeRate:            decimal.NewFromFloat(e.FeeRate),
	}
}

// Symbol is stable after construction.
func (e *AssetEngine) Symbol() string { return e.asset.Symbol }

func (e *AssetEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start backfills candle history and begins consuming the live stream.
func (e *AssetEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	asset := e.asset
	maxCache := e.maxCache
	e.mu.Unlock()

	history, err := e.deps.Source.FetchHistory(ctx, asset.Symbol, asset.Interval, maxCache)
	if err != nil {
		return fmt.Errorf("backfill %s: %w", asset.Symbol, err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	events, err := e.deps.Source.Subscribe(runCtx, []string{asset.Symbol}, asset.Interval, market.SubscribeOptions{
		Buffer: 64,
		OnDisconnect: func(err error) {
			e.log.Warnf("stream disconnected: %v", err)
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", asset.Symbol, err)
	}

	e.mu.Lock()
	e.candles = history
	if n := len(history); n > 0 {
		e.led.MarkPrice(decimal.NewFromFloat(history[n-1].Close))
	}
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go e.loop(runCtx, events, done)
	e.log.Infof("engine started interval=%s capital=%s", asset.Interval, e.Status().Ledger.Capital)
	return nil
}

// Stop halts candle consumption, waits for any in-flight order execution to
// reach a terminal state and saves the ledger.
func (e *AssetEngine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	<-done

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.deps.Store.Save(e.led); err != nil {
		e.log.Errorf("final save failed: %v", err)
		return err
	}
	e.log.Infof("engine stopped")
	return nil
}

func (e *AssetEngine) loop(ctx context.Context, events <-chan market.CandleEvent, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			e.handleEvent(evt)
		}
	}
}

func (e *AssetEngine) handleEvent(evt market.CandleEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.repairGapLocked(evt.Candle)
	e.cacheCandle(evt.Candle)
	price := decimal.NewFromFloat(evt.Candle.Close)
	e.led.MarkPrice(price)
	e.led.UpdatePeakAndDrawdown()
	e.gov.Observe(time.Now(), e.led.Equity())

	if !evt.Candle.Closed {
		return
	}
	e.evaluateLocked()
}

// repairGapLocked backfills candles dropped during a stream outage. The
// incoming bar's open time is compared against the newest cached bar; any
// missing span is re-fetched over REST before the new bar is appended, so
// indicators never evaluate over a gapped series. Caller holds mu.
func (e *AssetEngine) repairGapLocked(c market.Candle) {
	n := len(e.candles)
	if n == 0 {
		return
	}
	step, ok := market.ParseInterval(e.asset.Interval)
	if !ok {
		return
	}
	last := e.candles[n-1].OpenTime
	gap := c.OpenTime - last
	if gap <= step.Milliseconds() {
		return
	}
	missing := int(gap/step.Milliseconds()) - 1
	e.log.Warnf("stream gap of %d candles, backfilling", missing)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	limit := missing + 2
	if limit > e.maxCache {
		limit = e.maxCache
	}
	history, err := e.deps.Source.FetchHistory(ctx, e.asset.Symbol, e.asset.Interval, limit)
	if err != nil {
		e.log.Errorf("gap backfill failed: %v", err)
		return
	}
	for _, h := range history {
		if h.Closed && h.OpenTime > last && h.OpenTime < c.OpenTime {
			e.cacheCandle(h)
		}
	}
}

func (e *AssetEngine) cacheCandle(c market.Candle) {
	n := len(e.candles)
	if n > 0 && e.candles[n-1].OpenTime == c.OpenTime {
		e.candles[n-1] = c
	} else {
		e.candles = append(e.candles, c)
	}
	if len(e.candles) > e.maxCache {
		e.candles = e.candles[len(e.candles)-e.maxCache:]
	}
}

// evaluateLocked is the per-closed-candle decision pass. Caller holds mu.
func (e *AssetEngine) evaluateLocked() {
	if e.led.CheckNewDay(time.Now()) {
		e.log.Infof("new trading day, daily counters reset")
	}

	verdict := e.gov.Evaluate(e.led)
	if verdict.ForceExit && e.led.InPosition {
		e.log.Warnf("stop breached at %s (stop %s), force exiting",
			e.led.CurrentPrice, verdict.EffectiveStop)
		e.executeExitLocked("stop-loss")
		verdict = e.gov.Evaluate(e.led)
	}
	if verdict.Pause && !e.led.RiskPaused {
		e.applyPauseLocked(verdict.Cause, verdict.Reason)
	}

	sig := e.strat.ProcessCandles(e.candles)
	e.led.Signal = sig.String()

	switch {
	case e.led.InPosition && e.strat.ShouldExit(*e.led):
		e.executeExitLocked("strategy-exit")
	case !e.led.RiskPaused && e.strat.ShouldEnter(*e.led, sig):
		e.executeEntryLocked()
	}

	e.saveLocked()
}

func (e *AssetEngine) applyPauseLocked(cause ledger.PauseCause, reason string) {
	e.led.Pause(cause, reason)
	e.log.Warnf("trading paused: %s (%s)", reason, cause)
	if e.deps.Journal != nil {
		e.deps.Journal.RecordRiskEvent(e.asset.Symbol, "pause", string(cause), reason, nil)
	}
	if err := notifier.Alertf(e.deps.Notify, "⏸ %s paused: %s", e.asset.Symbol, reason); err != nil {
		e.log.Warnf("pause alert failed: %v", err)
	}
}

func (e *AssetEngine) executeEntryLocked() {
	price := e.led.CurrentPrice
	if !price.IsPositive() {
		return
	}
	qty := trading.EntryQuantity(e.led.Capital, e.asset.PositionPct, price, quantityScale)
	if !qty.IsPositive() {
		e.log.Warnf("entry skipped, capital %s too small at price %s", e.led.Capital, price)
		return
	}
	outcome := e.executeLocked(exchange.SideBuy, price, qty)
	if outcome == reconcile.OutcomeFilled {
		e.led.StopLossPrice = trading.StopPrice(e.led.EntryPrice, e.asset.StopLossPct)
		e.log.Infof("entered qty=%s price=%s stop=%s", qty, e.led.EntryPrice, e.led.StopLossPrice)
	}
}

func (e *AssetEngine) executeExitLocked(reason string) {
	if !e.led.InPosition {
		return
	}
	price := e.led.CurrentPrice
	qty := e.led.Quantity
	outcome := e.executeLocked(exchange.SideSell, price, qty)
	if outcome == reconcile.OutcomeFilled {
		e.led.StopLossPrice = decimal.Zero
		e.log.Infof("exited qty=%s price=%s reason=%s today_pnl=%s", qty, price, reason, e.led.TodayPnL)
	}
}

// executeLocked drives one order intent to a terminal outcome and handles
// the outcomes that demand a pause. Caller holds mu; the reconciler runs
// inline so the ledger stays serialized.
func (e *AssetEngine) executeLocked(side exchange.Side, price, qty decimal.Decimal) reconcile.Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), executionBudget)
	defer cancel()

	before := e.led.Capital
	outcome, err := e.rec.Execute(ctx, e.led, side, price, qty)
	switch outcome {
	case reconcile.OutcomeFilled:
		e.recordFillLocked(side, before)
	case reconcile.OutcomeAmbiguous:
		e.applyPauseLocked(ledger.CauseManual,
			fmt.Sprintf("order %s unresolved after reconciliation, manual check required", e.led.Request.ClientID))
	case reconcile.OutcomeSubmissionFailed:
		e.log.Warnf("submission attempts exhausted: %v", err)
		if alertErr := notifier.Alertf(e.deps.Notify, "⚠️ %s order submission failed: %v", e.asset.Symbol, err); alertErr != nil {
			e.log.Warnf("submission alert failed: %v", alertErr)
		}
	default:
		if err != nil {
			if errors.Is(err, ledger.ErrInvariant) || errors.Is(err, ledger.ErrInvalidFill) {
				e.applyPauseLocked(ledger.CauseInvariant, err.Error())
			} else {
				e.log.Warnf("order not executed (%s): %v", outcome, err)
			}
		}
	}
	e.gov.Observe(time.Now(), e.led.Equity())
	return outcome
}

func (e *AssetEngine) recordFillLocked(side exchange.Side, capitalBefore decimal.Decimal) {
	if e.deps.Journal == nil {
		return
	}
	pnl := decimal.Zero
	if side == exchange.SideSell {
		pnl = e.led.TodayPnL
	}
	e.deps.Journal.RecordFill(e.asset.Symbol, e.led.LastFillOrderID, e.led.Request.ClientID,
		side, e.led.LastFillPrice, e.led.LastFillQty, e.led.LastFillFee, pnl,
		map[string]any{
			"capital_before": capitalBefore.String(),
			"capital_after":  e.led.Capital.String(),
			"signal":         e.led.Signal,
		})
}

func (e *AssetEngine) saveLocked() {
	if err := e.deps.Store.Save(e.led); err != nil {
		e.log.Errorf("snapshot save failed: %v", err)
		if alertErr := notifier.Alertf(e.deps.Notify, "⚠️ %s snapshot save failed: %v", e.asset.Symbol, err); alertErr != nil {
			e.log.Warnf("save alert failed: %v", alertErr)
		}
	}
}

// ResetRisk clears any pause and the rolling drawdown window. Operator
// action via the management API.
func (e *AssetEngine) ResetRisk() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.led.ResetPause()
	e.gov.ResetWindow()
	if e.deps.Journal != nil {
		e.deps.Journal.RecordRiskEvent(e.asset.Symbol, "reset", string(ledger.CauseNone), "operator reset", nil)
	}
	e.saveLocked()
	e.log.Infof("risk state reset")
}

// UpdateConfig swaps in new per-asset settings. The strategy is rebuilt and
// loses indicator memory; the ledger is untouched.
func (e *AssetEngine) UpdateConfig(asset config.AssetConfig, fleetRisk config.RiskConfig, exec config.ExecutionConfig) error {
	strat, err := buildStrategy(asset, e.deps.Templates)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.asset = asset
	e.gov = risk.NewGovernor(riskConfig(asset.EffectiveRisk(fleetRisk)))
	e.rec = reconcile.New(asset.Symbol, e.deps.Trader, reconcileConfig(exec))
	e.strat = strat
	e.log.Infof("config updated strategy=%s interval=%s", asset.Strategy, asset.Interval)
	return nil
}
