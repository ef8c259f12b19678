// Package reconcile drives every order submitted to the exchange through the
// request -> confirm -> detect-ghost protocol. It is the only component that
// transitions a ledger's pending-order fields, and the only place where a
// timeout may be distinguished from "the exchange did not act".
package reconcile

import (
	"context"
	"fmt"
	"time"

	"keel/internal/gateway/exchange"
	"keel/internal/ledger"
	"keel/internal/logger"

	"github.com/shopspring/decimal"
)

// Outcome is the terminal state of one order intent.
type Outcome int

const (
	// OutcomeFilled: the order executed; the fill has been applied to the
	// ledger exactly once, whichever path discovered it.
	OutcomeFilled Outcome = iota
	// OutcomeUnfilled: the exchange resolved the order as not executed;
	// pending fields cleared, ledger untouched.
	OutcomeUnfilled
	// OutcomeRejected: the exchange explicitly refused the submission.
	OutcomeRejected
	// OutcomeSubmissionFailed: transient submission failures exhausted the
	// attempt budget without the order ever reaching the exchange.
	OutcomeSubmissionFailed
	// OutcomeAmbiguous: a timed-out order could not be resolved. The asset
	// must pause for manual reconciliation; nothing was assumed.
	OutcomeAmbiguous
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFilled:
		return "filled"
	case OutcomeUnfilled:
		return "unfilled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSubmissionFailed:
		return "submission-failed"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

type Config struct {
	// SubmitMaxAttempts bounds retries of transient submission failures.
	SubmitMaxAttempts int
	// SubmitBackoff is the initial retry delay, doubled per attempt up to
	// SubmitBackoffCap.
	SubmitBackoff    time.Duration
	SubmitBackoffCap time.Duration

	// ResolveMaxAttempts bounds status polls after a confirm or a timeout.
	ResolveMaxAttempts int
	// ResolveInterval is the delay between status polls.
	ResolveInterval time.Duration

	// FeeRate is the taker fee fraction charged per fill. Fees are computed
	// locally from the same inputs on every discovery path so a reconciled
	// fill and a confirmed fill land on identical ledger state.
	FeeRate decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		SubmitMaxAttempts:  3,
		SubmitBackoff:      500 * time.Millisecond,
		SubmitBackoffCap:   10 * time.Second,
		ResolveMaxAttempts: 5,
		ResolveInterval:    2 * time.Second,
		FeeRate:            decimal.NewFromFloat(0.001),
	}
}

type Reconciler struct {
	symbol string
	trader exchange.Trader
	cfg    Config
	log    logger.Scoped
}

func New(symbol string, trader exchange.Trader, cfg Config) *Reconciler {
	if cfg.SubmitMaxAttempts <= 0 {
		cfg.SubmitMaxAttempts = 3
	}
	if cfg.ResolveMaxAttempts <= 0 {
		cfg.ResolveMaxAttempts = 5
	}
	if cfg.SubmitBackoff <= 0 {
		cfg.SubmitBackoff = 500 * time.Millisecond
	}
	if cfg.SubmitBackoffCap <= 0 {
		cfg.SubmitBackoffCap = 10 * time.Second
	}
	if !cfg.FeeRate.IsPositive() {
		cfg.FeeRate = decimal.NewFromFloat(0.001)
	}
	return &Reconciler{symbol: symbol, trader: trader, cfg: cfg, log: logger.Scope(symbol)}
}

// Execute drives one order intent to a terminal state, applying any
// resulting fill to the ledger. The caller (the asset engine) serializes
// Execute with every other mutation of the same ledger.
func (r *Reconciler) Execute(ctx context.Context, l *ledger.Ledger, side exchange.Side, price, qty decimal.Decimal) (Outcome, error) {
	clientID, err := l.BeginPendingOrder(side, price, qty)
	if err != nil {
		return OutcomeRejected, err
	}
	req := exchange.OrderRequest{
		Symbol:        r.symbol,
		Side:          side,
		Price:         price,
		Quantity:      qty,
		ClientOrderID: clientID,
	}

	delay := r.cfg.SubmitBackoff
	for attempt := 1; attempt <= r.cfg.SubmitMaxAttempts; attempt++ {
		ack, err := r.trader.SubmitOrder(ctx, req)
		switch {
		case err == nil:
			l.ConfirmPendingOrder(side, ack.OrderID)
			return r.resolveConfirmed(ctx, l, side, clientID, price, qty)
		case exchange.IsTimeout(err):
			// The exchange may have acted. Never treat this as failure.
			r.log.Warnf("submit timed out (attempt %d), reconciling %s", attempt, clientID)
			return r.resolveTimedOut(ctx, l, side, clientID, price, qty)
		case exchange.IsRejected(err):
			l.ResolvePendingOrder(side, ledger.OutcomeCancelled)
			r.log.Warnf("submit rejected: %v", err)
			return OutcomeRejected, err
		case exchange.IsTransient(err):
			r.log.Warnf("submit failed (attempt %d/%d): %v", attempt, r.cfg.SubmitMaxAttempts, err)
			if attempt == r.cfg.SubmitMaxAttempts {
				break
			}
			if !sleepCtx(ctx, delay) {
				l.ResolvePendingOrder(side, ledger.OutcomeCancelled)
				return OutcomeSubmissionFailed, ctx.Err()
			}
			delay = nextBackoff(delay, r.cfg.SubmitBackoffCap)
		default:
			// Unclassified errors are not retried with the same parameters;
			// duplicate submission is worse than a missed trade.
			l.ResolvePendingOrder(side, ledger.OutcomeCancelled)
			return OutcomeSubmissionFailed, err
		}
	}
	l.ResolvePendingOrder(side, ledger.OutcomeCancelled)
	return OutcomeSubmissionFailed, fmt.Errorf("submission attempts exhausted for %s", clientID)
}

// resolveConfirmed polls an acknowledged order until the exchange reports
// it executed or dead. Poll exhaustion never resolves unfilled on its own:
// the order may still be live, so it is cancelled first and checked once
// more for a racing fill.
func (r *Reconciler) resolveConfirmed(ctx context.Context, l *ledger.Ledger, side exchange.Side, clientID string, price, qty decimal.Decimal) (Outcome, error) {
	for attempt := 1; attempt <= r.cfg.ResolveMaxAttempts; attempt++ {
		res, err := r.trader.QueryOrder(ctx, r.symbol, clientID)
		if err == nil {
			switch res.Status {
			case exchange.StatusFilled:
				return r.applyResolvedFill(l, side, res, price, qty)
			case exchange.StatusUnfilled:
				return r.finishDead(l, side, res, price, qty)
			}
			// StatusResting / StatusUnknown: not terminal yet, poll again.
		} else {
			r.log.Warnf("order poll failed (attempt %d): %v", attempt, err)
		}
		if attempt < r.cfg.ResolveMaxAttempts && !sleepCtx(ctx, r.cfg.ResolveInterval) {
			break
		}
	}
	return r.cancelAndFinalize(ctx, l, side, clientID, price, qty)
}

// finishDead settles an order the exchange reports dead. Any partial
// execution is applied to the ledger first; units bought before a cancel
// or expiry are real and must not vanish from the accounting.
func (r *Reconciler) finishDead(l *ledger.Ledger, side exchange.Side, res exchange.OrderResult, price, qty decimal.Decimal) (Outcome, error) {
	if res.FillQty.IsPositive() {
		r.log.Warnf("order %s died after partial execution qty=%s", res.OrderID, res.FillQty)
		return r.applyResolvedFill(l, side, res, price, qty)
	}
	l.ResolvePendingOrder(side, ledger.OutcomeCancelled)
	return OutcomeUnfilled, nil
}

// cancelAndFinalize closes the window left by an exhausted poll budget. A
// GTC order the ledger forgets about can still fill later and drift capital
// away from the exchange, so the order is cancelled and looked up one last
// time. Anything short of a definite answer is ambiguous and pauses the
// asset for manual reconciliation.
func (r *Reconciler) cancelAndFinalize(ctx context.Context, l *ledger.Ledger, side exchange.Side, clientID string, price, qty decimal.Decimal) (Outcome, error) {
	if err := r.trader.CancelOrder(ctx, r.symbol, clientID); err != nil {
		r.log.Warnf("cancel %s failed: %v", clientID, err)
		l.ResolvePendingOrder(side, ledger.OutcomeUnknown)
		return OutcomeAmbiguous, fmt.Errorf("order %s: %w", clientID, exchange.ErrGhostAmbiguous)
	}
	res, err := r.trader.QueryOrder(ctx, r.symbol, clientID)
	if err == nil {
		switch res.Status {
		case exchange.StatusFilled:
			return r.applyResolvedFill(l, side, res, price, qty)
		case exchange.StatusUnfilled:
			return r.finishDead(l, side, res, price, qty)
		}
	} else {
		r.log.Warnf("post-cancel query for %s failed: %v", clientID, err)
	}
	l.ResolvePendingOrder(side, ledger.OutcomeUnknown)
	return OutcomeAmbiguous, fmt.Errorf("order %s: %w", clientID, exchange.ErrGhostAmbiguous)
}

// resolveTimedOut is the ghost-order defense: after a submit timeout the
// order is actively looked up by its client-assigned ID until the exchange
// gives a definite answer.
func (r *Reconciler) resolveTimedOut(ctx context.Context, l *ledger.Ledger, side exchange.Side, clientID string, price, qty decimal.Decimal) (Outcome, error) {
	for attempt := 1; attempt <= r.cfg.ResolveMaxAttempts; attempt++ {
		res, err := r.trader.QueryOrder(ctx, r.symbol, clientID)
		if err == nil {
			switch res.Status {
			case exchange.StatusFilled:
				r.log.Infof("ghost order %s resolved as filled", clientID)
				return r.applyResolvedFill(l, side, res, price, qty)
			case exchange.StatusUnfilled:
				return r.finishDead(l, side, res, price, qty)
			case exchange.StatusResting:
				// Found alive: the submission did reach the exchange.
				l.ConfirmPendingOrder(side, res.OrderID)
			}
			// StatusUnknown: no record yet under this key. The submission
			// may still be in flight exchange-side; poll again.
		} else {
			r.log.Warnf("reconcile query failed (attempt %d): %v", attempt, err)
		}
		if attempt < r.cfg.ResolveMaxAttempts && !sleepCtx(ctx, r.cfg.ResolveInterval) {
			break
		}
	}
	return r.cancelAndFinalize(ctx, l, side, clientID, price, qty)
}

// applyResolvedFill converges every discovery path onto the same ledger
// mutation. Fill economics come from the exchange when reported, otherwise
// from the request; the fee is always computed locally from rate * notional.
func (r *Reconciler) applyResolvedFill(l *ledger.Ledger, side exchange.Side, res exchange.OrderResult, reqPrice, reqQty decimal.Decimal) (Outcome, error) {
	price := reqPrice
	if res.FillPrice.IsPositive() {
		price = res.FillPrice
	}
	qty := reqQty
	if res.FillQty.IsPositive() {
		qty = res.FillQty
	}
	fee := price.Mul(qty).Mul(r.cfg.FeeRate).Round(8)
	pnl, err := l.ApplyFill(res.OrderID, side, price, qty, fee)
	l.ResolvePendingOrder(side, ledger.OutcomeFilled)
	if err != nil {
		return OutcomeFilled, err
	}
	if !pnl.IsZero() {
		r.log.Infof("fill %s %s@%s qty=%s pnl=%s", side, res.OrderID, price, qty, pnl)
	} else {
		r.log.Infof("fill %s %s@%s qty=%s", side, res.OrderID, price, qty)
	}
	return OutcomeFilled, nil
}
