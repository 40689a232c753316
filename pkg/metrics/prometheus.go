// Package metrics 暴露控制循环的 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 持有全部指标句柄
type Recorder struct {
	cyclesTotal   prometheus.Counter
	signalsTotal  *prometheus.CounterVec
	tradesTotal   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	assetRating   *prometheus.GaugeVec
	assetZScore   *prometheus.GaugeVec
	reservedFunds prometheus.Gauge
	openPositions prometheus.Gauge
}

func New() *Recorder {
	return &Recorder{
		cyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trader_cycles_total",
			Help: "Total number of completed decision cycles",
		}),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_signals_total",
				Help: "Total number of generated threshold signals",
			},
			[]string{"action"},
		),
		tradesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_trades_total",
				Help: "Total number of executed trades",
			},
			[]string{"mode", "side"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_errors_total",
				Help: "Total number of per-symbol isolated errors",
			},
			[]string{"stage"},
		),
		assetRating: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trader_asset_rating",
				Help: "Current Glicko-2 rating per asset",
			},
			[]string{"asset"},
		),
		assetZScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trader_asset_zscore",
				Help: "Current cross-sectional z-score per asset",
			},
			[]string{"asset"},
		),
		reservedFunds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "trader_reserved_funds",
			Help: "Currently reserved capital in quote currency",
		}),
		openPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Number of currently open positions",
		}),
	}
}

func (r *Recorder) RecordCycle()                    { r.cyclesTotal.Inc() }
func (r *Recorder) RecordSignal(action string)      { r.signalsTotal.WithLabelValues(action).Inc() }
func (r *Recorder) RecordTrade(mode, side string)   { r.tradesTotal.WithLabelValues(mode, side).Inc() }
func (r *Recorder) RecordError(stage string)        { r.errorsTotal.WithLabelValues(stage).Inc() }
func (r *Recorder) SetRating(asset string, v float64) {
	r.assetRating.WithLabelValues(asset).Set(v)
}
func (r *Recorder) SetZScore(asset string, v float64) {
	r.assetZScore.WithLabelValues(asset).Set(v)
}
func (r *Recorder) SetReservedFunds(v float64) { r.reservedFunds.Set(v) }
func (r *Recorder) SetOpenPositions(n int)     { r.openPositions.Set(float64(n)) }

// Handler 返回 /metrics 的 HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
