package metrics

import (
	"context"
	"net/http"
	"time"

	xerrors "CitizenChain/internal/errors"
	"CitizenChain/internal/monitor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "citizenchain"

// Collector 记录监控 tick 的指标。
type Collector struct {
	registry *prometheus.Registry

	ticks       *prometheus.CounterVec
	tickErrors  *prometheus.CounterVec
	duration    prometheus.Histogram
	totalSupply *prometheus.GaugeVec
	balance     *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
}

// New 创建 Collector 并注册到 reg；reg 为空时使用独立的 Registry。
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: reg,
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Poll cycles by result.",
		}, []string{"result"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tick_errors_total",
			Help:      "Failed poll cycles by error code.",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one poll cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		totalSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "total_supply",
			Help:      "Latest observed total supply in human units.",
		}, []string{"contract", "symbol"}),
		balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "wallet_balance",
			Help:      "Latest observed wallet balance in human units.",
		}, []string{"contract", "wallet"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll cycle.",
		}),
	}
	reg.MustRegister(c.ticks, c.tickErrors, c.duration, c.totalSupply, c.balance, c.lastSuccess)
	return c
}

// Registry 返回底层 Registry。
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveTick 实现 monitor.Observer。
func (c *Collector) ObserveTick(_ context.Context, res monitor.Result, elapsed time.Duration) {
	c.duration.Observe(elapsed.Seconds())
	if !res.OK() {
		code := xerrors.CodeOf(res.Err)
		result := "failure"
		if code == xerrors.CodeNotConfigured {
			result = "not_configured"
		}
		c.ticks.WithLabelValues(result).Inc()
		c.tickErrors.WithLabelValues(string(code)).Inc()
		return
	}

	snap := res.Snapshot
	c.ticks.WithLabelValues("success").Inc()
	c.totalSupply.WithLabelValues(snap.ContractAddress, snap.Symbol).Set(snap.TotalSupply.InexactFloat64())
	if snap.WalletBalance != nil {
		c.balance.WithLabelValues(snap.ContractAddress, snap.WalletAddress).Set(snap.WalletBalance.InexactFloat64())
	}
	c.lastSuccess.Set(float64(snap.ObservedAt.UnixNano()) / 1e9)
}

// Handler 以 Prometheus 文本格式暴露指标。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var _ monitor.Observer = (*Collector)(nil)
