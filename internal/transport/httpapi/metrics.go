package httpapi

import (
	"keel/internal/manager"

	"github.com/prometheus/client_golang/prometheus"
)

// fleetCollector exposes per-asset gauges computed from manager status at
// scrape time, so metrics never lag the ledger.
type fleetCollector struct {
	mgr *manager.TradingManager

	running  *prometheus.Desc
	position *prometheus.Desc
	pnl      *prometheus.Desc
	trades   *prometheus.Desc
	equity   *prometheus.Desc
}

func newFleetCollector(mgr *manager.TradingManager) *fleetCollector {
	labels := []string{"symbol"}
	return &fleetCollector{
		mgr: mgr,
		running: prometheus.NewDesc("trading_asset_running",
			"Whether the asset engine is consuming candles (1) or stopped (0)", labels, nil),
		position: prometheus.NewDesc("trading_asset_position",
			"Base-asset quantity currently held", labels, nil),
		pnl: prometheus.NewDesc("trading_asset_pnl",
			"Realized PnL for the current UTC day in quote currency", labels, nil),
		trades: prometheus.NewDesc("trading_asset_trades_today",
			"Completed round trips for the current UTC day", labels, nil),
		equity: prometheus.NewDesc("trading_asset_equity",
			"Capital plus marked position value in quote currency", labels, nil),
	}
}

func (f *fleetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- f.running
	ch <- f.position
	ch <- f.pnl
	ch <- f.trades
	ch <- f.equity
}

func (f *fleetCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range f.mgr.Status() {
		running := 0.0
		if st.Running {
			running = 1
		}
		qty, _ := st.Ledger.Quantity.Float64()
		pnl, _ := st.Ledger.TodayPnL.Float64()
		equity, _ := st.Equity.Float64()
		ch <- prometheus.MustNewConstMetric(f.running, prometheus.GaugeValue, running, st.Symbol)
		ch <- prometheus.MustNewConstMetric(f.position, prometheus.GaugeValue, qty, st.Symbol)
		ch <- prometheus.MustNewConstMetric(f.pnl, prometheus.GaugeValue, pnl, st.Symbol)
		ch <- prometheus.MustNewConstMetric(f.trades, prometheus.CounterValue, float64(st.Ledger.TodayTrades), st.Symbol)
		ch <- prometheus.MustNewConstMetric(f.equity, prometheus.GaugeValue, equity, st.Symbol)
	}
}
