package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"keel/internal/logger"
	"keel/internal/market"
	pairsym "keel/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2"
)

const maxHistoryLimit = 1000

// Source implements market.Source on top of the go-binance spot SDK: a
// self-reconnecting combined kline stream plus REST history backfill.
type Source struct {
	cfg    Config
	client *binance.Client

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	nextSub int64

	statsMu sync.Mutex
	stats   market.SourceStats
}

func NewSource(cfg Config) *Source {
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client, cancels: make(map[int64]context.CancelFunc)}
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = pairsym.Normalize(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
			Closed:    kl.CloseTime <= now,
		})
	}
	return out, nil
}

func (s *Source) Subscribe(ctx context.Context, symbols []string, interval string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	pairs := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		sym = pairsym.Normalize(sym)
		if sym != "" {
			pairs[sym] = interval
		}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no valid symbols for subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 512
	}
	out := make(chan market.CandleEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	// Each caller gets its own stream; engines subscribe independently and
	// stop independently.
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.cancels[id] = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
		}()
		s.runKlineLoop(subCtx, pairs, out, opts)
	}()
	return out, nil
}

func (s *Source) runKlineLoop(ctx context.Context, pairs map[string]string, out chan<- market.CandleEvent, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *binance.WsKlineEvent) {
			ce, ok := convertKlineEvent(event)
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
			case out <- ce:
			default:
				logger.Warnf("[binance] kline channel full, drop %s %s", ce.Symbol, ce.Interval)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := binance.WsCombinedKlineServe(pairs, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func convertKlineEvent(event *binance.WsKlineEvent) (market.CandleEvent, bool) {
	if event == nil {
		return market.CandleEvent{}, false
	}
	k := event.Kline
	return market.CandleEvent{
		Symbol:   strings.ToUpper(event.Symbol),
		Interval: k.Interval,
		Candle: market.Candle{
			OpenTime:  k.StartTime,
			CloseTime: k.EndTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			Trades:    k.TradeNum,
			Closed:    k.IsFinal,
		},
	}, true
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	s.stats.Reconnects++
	if err != nil {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
	if err != nil {
		logger.Warnf("[binance] kline stream dropped: %v", err)
	}
}

func (s *Source) recordSubscribeError(err error) {
	s.statsMu.Lock()
	s.stats.SubscribeErrors++
	if err != nil {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
	logger.Warnf("[binance] kline subscribe failed: %v", err)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextDelay(cur time.Duration) time.Duration {
	next := cur * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
