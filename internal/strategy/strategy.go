// Package strategy defines the signal-generation capability consumed by
// asset engines and ships two indicator-based implementations. The engine
// resolves a strategy once at start-up and never inspects its internals.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"keel/internal/ledger"
	"keel/internal/market"
)

// Strategy is the fixed capability contract. Implementations keep their own
// indicator memory; the engine only feeds closed candles and reads signals.
type Strategy interface {
	Initialize(params map[string]any) error
	ProcessCandles(candles []market.Candle) Signal
	ShouldEnter(l ledger.Ledger, sig Signal) bool
	ShouldExit(l ledger.Ledger) bool
}

type factory func() Strategy

var (
	registryMu sync.RWMutex
	registry   = map[string]factory{}
)

func register(name string, fn factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// New resolves a registered strategy by name.
func New(name string) (Strategy, error) {
	registryMu.RLock()
	fn, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return fn(), nil
}

// Names lists registered strategies, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
