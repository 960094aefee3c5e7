package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requestDuration *prom.HistogramVec
	requestResults  *prom.CounterVec
	transferBytes   *prom.CounterVec
	serverLaunches  *prom.CounterVec
	deviceCount     prom.Gauge
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a private registry.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		requestDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "adbclient",
			Name:      "request_duration_seconds",
			Help:      "Duration of adb server requests",
			Buckets:   prom.DefBuckets,
		}, []string{"op"}),
		requestResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "adbclient",
			Name:      "request_results_total",
			Help:      "Request counts by outcome",
		}, []string{"op", "result"}),
		transferBytes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "adbclient",
			Name:      "sync_transfer_bytes_total",
			Help:      "Bytes moved by sync transfers",
		}, []string{"direction"}),
		serverLaunches: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "adbclient",
			Name:      "server_launches_total",
			Help:      "Server launch attempts by result",
		}, []string{"result"}),
		deviceCount: prom.NewGauge(prom.GaugeOpts{
			Namespace: "adbclient",
			Name:      "devices",
			Help:      "Number of devices in the last snapshot",
		}),
	}
	reg.MustRegister(pr.requestDuration, pr.requestResults, pr.transferBytes, pr.serverLaunches, pr.deviceCount)
	return pr
}

func (p *PrometheusRecorder) ObserveRequestDuration(op string, d time.Duration) {
	if p == nil || p.requestDuration == nil {
		return
	}
	p.requestDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRequestResult(op string, result ResultLabel) {
	if p == nil || p.requestResults == nil {
		return
	}
	p.requestResults.WithLabelValues(op, string(result)).Inc()
}

func (p *PrometheusRecorder) AddTransferBytes(dir Direction, n int64) {
	if p == nil || p.transferBytes == nil || n <= 0 {
		return
	}
	p.transferBytes.WithLabelValues(string(dir)).Add(float64(n))
}

func (p *PrometheusRecorder) IncServerLaunch(success bool) {
	if p == nil || p.serverLaunches == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.serverLaunches.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) SetDeviceCount(n int) {
	if p == nil || p.deviceCount == nil {
		return
	}
	p.deviceCount.Set(float64(n))
}
