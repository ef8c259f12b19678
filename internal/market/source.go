package market

import "context"

type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Source is the market-data side of the exchange capability: an infinite,
// restartable candle stream plus finite history backfill for gap repair.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Subscribe(ctx context.Context, symbols []string, interval string, opts SubscribeOptions) (<-chan CandleEvent, error)

	Stats() SourceStats

	Close() error
}
