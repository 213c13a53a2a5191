package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "smartclock_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	alarmOps *prometheus.CounterVec

	deviceSessions       *prometheus.CounterVec
	deviceSessionLatency *prometheus.HistogramVec

	monitorMessages   *prometheus.CounterVec
	monitorReconnects *prometheus.CounterVec
	monitorOnline     prometheus.Gauge
)

// Init registers metrics with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)
		alarmOps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_operations_total",
				Help: "Alarm store operations by operation and result",
			},
			[]string{"op", "result"},
		)
		deviceSessions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_sessions_total",
				Help: "Device bridge sessions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		)
		deviceSessionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "device_session_duration_seconds",
				Help:    "Device bridge session latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"kind"},
		)
		monitorMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "monitor_messages_total",
				Help: "Time reports received by the dashboard subscriber",
			},
			[]string{"result"},
		)
		monitorReconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "monitor_reconnects_total",
				Help: "Dashboard subscriber reconnects by reason",
			},
			[]string{"reason"},
		)
		monitorOnline = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "monitor_transport_connected",
				Help: "1 when the dashboard subscriber holds a broker connection",
			},
		)

		prometheus.MustRegister(
			httpRequests,
			httpLatency,
			alarmOps,
			deviceSessions,
			deviceSessionLatency,
			monitorMessages,
			monitorReconnects,
			monitorOnline,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one served request.
func ObserveHTTP(route string, code int, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, statusClass(code)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// IncAlarmOp counts an alarm store operation.
func IncAlarmOp(op string, err error) {
	if alarmOps == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	alarmOps.WithLabelValues(op, result).Inc()
}

// ObserveDeviceSession records a bridge session (time / reset / probe).
func ObserveDeviceSession(kind, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = ResultSuccess
	}
	if deviceSessions != nil {
		deviceSessions.WithLabelValues(kind, outcome).Inc()
	}
	if deviceSessionLatency != nil {
		deviceSessionLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// IncMonitorMessage counts an accepted or malformed time report.
func IncMonitorMessage(result string) {
	if monitorMessages != nil {
		monitorMessages.WithLabelValues(result).Inc()
	}
}

// IncMonitorReconnect counts a reconnect, reason is "error" or "close".
func IncMonitorReconnect(reason string) {
	if monitorReconnects != nil {
		monitorReconnects.WithLabelValues(reason).Inc()
	}
}

// SetMonitorConnected 更新连接状态
func SetMonitorConnected(connected bool) {
	if monitorOnline == nil {
		return
	}
	if connected {
		monitorOnline.Set(1)
	} else {
		monitorOnline.Set(0)
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
