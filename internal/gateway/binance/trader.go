package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"keel/internal/gateway/exchange"
	"keel/internal/pkg/circuit"
	pairsym "keel/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

// Trader implements exchange.Trader against Binance spot. Every wire call
// goes through a circuit breaker so a flapping exchange degrades to fast
// transient errors instead of piling up blocked submissions.
type Trader struct {
	cfg     Config
	client  *binance.Client
	breaker *circuit.Breaker
}

func NewTrader(cfg Config) *Trader {
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Trader{
		cfg:     final,
		client:  client,
		breaker: circuit.NewBreaker("binance-trader", 5, 30*time.Second),
	}
}

func (t *Trader) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if !t.breaker.Allow() {
		return exchange.OrderAck{}, fmt.Errorf("circuit open: %w", exchange.ErrTransient)
	}
	symbol := pairsym.Normalize(req.Symbol)
	if symbol == "" || req.ClientOrderID == "" {
		return exchange.OrderAck{}, fmt.Errorf("submit requires symbol and client order id: %w", exchange.ErrSubmitRejected)
	}
	side := binance.SideTypeBuy
	if req.Side == exchange.SideSell {
		side = binance.SideTypeSell
	}
	subCtx, cancel := context.WithTimeout(ctx, t.cfg.SubmitTimeout)
	defer cancel()
	resp, err := t.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(req.Quantity.String()).
		Price(req.Price.String()).
		NewClientOrderID(req.ClientOrderID).
		Do(subCtx)
	if err != nil {
		return exchange.OrderAck{}, t.classifySubmitErr(err)
	}
	t.breaker.RecordSuccess()
	return exchange.OrderAck{
		OrderID:       fmt.Sprintf("%d", resp.OrderID),
		ClientOrderID: resp.ClientOrderID,
		SubmittedAt:   time.UnixMilli(resp.TransactTime),
	}, nil
}

func (t *Trader) QueryOrder(ctx context.Context, symbol, clientOrderID string) (exchange.OrderResult, error) {
	if !t.breaker.Allow() {
		return exchange.OrderResult{}, fmt.Errorf("circuit open: %w", exchange.ErrTransient)
	}
	order, err := t.client.NewGetOrderService().
		Symbol(pairsym.Normalize(symbol)).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			t.breaker.RecordSuccess()
			// -2013: order does not exist. The exchange answered; the order
			// was never placed.
			if apiErr.Code == -2013 {
				return exchange.OrderResult{Status: exchange.StatusUnknown}, nil
			}
			return exchange.OrderResult{}, fmt.Errorf("query order: %s: %w", apiErr.Message, exchange.ErrTransient)
		}
		t.breaker.RecordFailure()
		return exchange.OrderResult{}, fmt.Errorf("query order: %v: %w", err, exchange.ErrTransient)
	}
	t.breaker.RecordSuccess()
	res := exchange.OrderResult{OrderID: fmt.Sprintf("%d", order.OrderID)}
	executed, _ := decimal.NewFromString(order.ExecutedQuantity)
	// Executed quantity is reported on every branch: a canceled or expired
	// order may still have partially executed, and those units are real.
	if executed.IsPositive() {
		res.FillQty = executed
		res.FillPrice = fillPrice(order.CummulativeQuoteQuantity, order.ExecutedQuantity, order.Price)
	}
	switch order.Status {
	case binance.OrderStatusTypeFilled:
		res.Status = exchange.StatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		res.Status = exchange.StatusUnfilled
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		res.Status = exchange.StatusResting
	default:
		res.Status = exchange.StatusUnknown
	}
	return res, nil
}

func (t *Trader) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	if !t.breaker.Allow() {
		return fmt.Errorf("circuit open: %w", exchange.ErrTransient)
	}
	_, err := t.client.NewCancelOrderService().
		Symbol(pairsym.Normalize(symbol)).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			t.breaker.RecordSuccess()
			// -2011: unknown order. Nothing live under this key; the
			// follow-up query settles whether it filled or never existed.
			if apiErr.Code == -2011 {
				return nil
			}
			return fmt.Errorf("cancel order: %s: %w", apiErr.Message, exchange.ErrTransient)
		}
		t.breaker.RecordFailure()
		return fmt.Errorf("cancel order: %v: %w", err, exchange.ErrTransient)
	}
	t.breaker.RecordSuccess()
	return nil
}

func (t *Trader) classifySubmitErr(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		// The exchange answered: the request reached it and was refused.
		t.breaker.RecordSuccess()
		return fmt.Errorf("binance %d %s: %w", apiErr.Code, apiErr.Message, exchange.ErrSubmitRejected)
	}
	t.breaker.RecordFailure()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("submit: %w", exchange.ErrSubmitTimeout)
	}
	return fmt.Errorf("submit: %v: %w", err, exchange.ErrTransient)
}

// fillPrice derives the average execution price, preferring the cumulative
// quote amount over the resting limit price.
func fillPrice(cumQuote, executedQty, limitPrice string) decimal.Decimal {
	quote, err1 := decimal.NewFromString(cumQuote)
	qty, err2 := decimal.NewFromString(executedQty)
	if err1 == nil && err2 == nil && qty.IsPositive() {
		return quote.DivRound(qty, 8)
	}
	p, _ := decimal.NewFromString(limitPrice)
	return p
}
