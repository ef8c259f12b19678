// Package manager owns the per-asset engine fleet: construction from config,
// start/stop fan-out, aggregate status and hot reload.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"keel/internal/config"
	"keel/internal/engine"
	"keel/internal/logger"
	pairsym "keel/internal/pkg/symbol"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownSymbol is returned for operations on a symbol with no engine.
var ErrUnknownSymbol = errors.New("manager: unknown symbol")

type TradingManager struct {
	deps engine.Deps

	mu      sync.RWMutex
	cfg     *config.Config
	engines map[string]*engine.AssetEngine
}

// New builds one engine per configured asset. Disabled assets still get an
// engine so operators can start them over the API.
func New(cfg *config.Config, deps engine.Deps) (*TradingManager, error) {
	m := &TradingManager{
		deps:    deps,
		cfg:     cfg,
		engines: make(map[string]*engine.AssetEngine, len(cfg.Assets)),
	}
	for _, asset := range cfg.Assets {
		eng, err := engine.New(asset, cfg.Risk, cfg.Execution, cfg.Kline.MaxCached, deps)
		if err != nil {
			return nil, fmt.Errorf("build engine %s: %w", asset.Symbol, err)
		}
		m.engines[asset.Symbol] = eng
	}
	return m, nil
}

func (m *TradingManager) engine(symbol string) (*engine.AssetEngine, error) {
	symbol = pairsym.Normalize(symbol)
	m.mu.RLock()
	defer m.mu.RUnlock()
	eng, ok := m.engines[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return eng, nil
}

// StartEnabled starts every asset flagged enabled in config. First error
// wins; already started engines keep running.
func (m *TradingManager) StartEnabled(ctx context.Context) error {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()
	for _, asset := range cfg.Assets {
		if !asset.Enabled {
			continue
		}
		if err := m.Start(ctx, asset.Symbol); err != nil {
			return err
		}
	}
	return nil
}

func (m *TradingManager) Start(ctx context.Context, symbol string) error {
	eng, err := m.engine(symbol)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil && !errors.Is(err, engine.ErrAlreadyRunning) {
		return err
	}
	return nil
}

func (m *TradingManager) Stop(symbol string) error {
	eng, err := m.engine(symbol)
	if err != nil {
		return err
	}
	if err := eng.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		return err
	}
	return nil
}

func (m *TradingManager) ResetRisk(symbol string) error {
	eng, err := m.engine(symbol)
	if err != nil {
		return err
	}
	eng.ResetRisk()
	return nil
}

// ResetRiskAll clears the pause state of every asset.
func (m *TradingManager) ResetRiskAll() {
	for _, eng := range m.snapshotEngines() {
		eng.ResetRisk()
	}
}

// Status returns per-asset snapshots sorted by symbol.
func (m *TradingManager) Status() []engine.Status {
	engines := m.snapshotEngines()
	out := make([]engine.Status, 0, len(engines))
	for _, eng := range engines {
		out = append(out, eng.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *TradingManager) StatusOf(symbol string) (engine.Status, error) {
	eng, err := m.engine(symbol)
	if err != nil {
		return engine.Status{}, err
	}
	return eng.Status(), nil
}

// Config returns the currently applied configuration.
func (m *TradingManager) Config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *TradingManager) snapshotEngines() []*engine.AssetEngine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.AssetEngine, 0, len(m.engines))
	for _, eng := range m.engines {
		out = append(out, eng)
	}
	return out
}

// ApplyConfig diffs the new config against the fleet: new symbols get
// engines, removed symbols are stopped and dropped, surviving symbols get
// their settings swapped in place. Ledgers are never discarded by a reload.
func (m *TradingManager) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	old := m.engines
	next := make(map[string]*engine.AssetEngine, len(cfg.Assets))
	var added []string
	for _, asset := range cfg.Assets {
		if eng, ok := old[asset.Symbol]; ok {
			if err := eng.UpdateConfig(asset, cfg.Risk, cfg.Execution); err != nil {
				m.mu.Unlock()
				return fmt.Errorf("update %s: %w", asset.Symbol, err)
			}
			next[asset.Symbol] = eng
			continue
		}
		eng, err := engine.New(asset, cfg.Risk, cfg.Execution, cfg.Kline.MaxCached, m.deps)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("build engine %s: %w", asset.Symbol, err)
		}
		next[asset.Symbol] = eng
		if asset.Enabled {
			added = append(added, asset.Symbol)
		}
	}
	var removed []*engine.AssetEngine
	for sym, eng := range old {
		if _, ok := next[sym]; !ok {
			removed = append(removed, eng)
		}
	}
	m.engines = next
	m.cfg = cfg
	m.mu.Unlock()

	for _, eng := range removed {
		if err := eng.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
			logger.Warnf("stopping removed asset %s failed: %v", eng.Symbol(), err)
		}
	}
	for _, sym := range added {
		if err := m.Start(ctx, sym); err != nil {
			logger.Warnf("starting added asset %s failed: %v", sym, err)
		}
	}
	logger.Infof("config applied: %d assets (%d added, %d removed)",
		len(next), len(added), len(removed))
	return nil
}

// Shutdown stops all engines in parallel and waits. Each engine drains its
// in-flight order work and saves its final snapshot.
func (m *TradingManager) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, eng := range m.snapshotEngines() {
		eng := eng
		g.Go(func() error {
			if err := eng.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
				return fmt.Errorf("stop %s: %w", eng.Symbol(), err)
			}
			return nil
		})
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
