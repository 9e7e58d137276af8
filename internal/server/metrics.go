package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность обработки по эндпоинтам
	RequestDuration *prometheus.HistogramVec

	// Traffic: handshake'и и heartbeat'ы по исходам
	HandshakesTotal *prometheus.CounterVec
	HeartbeatsTotal *prometheus.CounterVec

	// Отказы лимитера по типу лимита
	RateLimitDenied *prometheus.CounterVec

	// Алертинг: отправлено / не доставлено
	AlertsDispatched    prometheus.Counter
	AlertNotifyFailures prometheus.Counter

	// Legacy-синк: ошибки записи и заполненность очереди (backpressure)
	LegacySyncFailures prometheus.Counter
	LegacyQueueFill    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - без переданного регистра метрики уходят в локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetgate_request_duration_seconds",
			Help:    "Histogram of request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"endpoint", "status"}),

		HandshakesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fleetgate_handshakes_total",
			Help: "Total number of handshake attempts.",
		}, []string{"outcome"}), // issued, rejected, rate_limited

		HeartbeatsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fleetgate_heartbeats_total",
			Help: "Total number of heartbeat requests.",
		}, []string{"outcome"}),

		RateLimitDenied: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fleetgate_rate_limit_denied_total",
			Help: "Requests denied by the token bucket.",
		}, []string{"limit_type"}),

		AlertsDispatched: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fleetgate_alerts_dispatched_total",
			Help: "Alerts persisted and routed to channels.",
		}),

		AlertNotifyFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fleetgate_alert_notify_failures_total",
			Help: "Alert deliveries that failed after retries.",
		}),

		LegacySyncFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fleetgate_legacy_sync_failures_total",
			Help: "Legacy store writes that failed or were shed.",
		}),

		LegacyQueueFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "fleetgate_legacy_queue_utilization",
			Help: "Current number of snapshots in the legacy sync queue.",
		}),
	}
}
