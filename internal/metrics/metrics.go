// Package metrics exposes safeboard state and activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"safeboard/internal/board"
	"safeboard/internal/display"
	"safeboard/internal/timesync"
)

const namespace = "safeboard"

// Registry holds the collectors of one process.
type Registry struct {
	reg *prometheus.Registry

	TimeSyncs    *prometheus.CounterVec
	TimeOffset   prometheus.Gauge
	TimeOnline   prometheus.Gauge
	Resets       *prometheus.CounterVec
	RecordWrites *prometheus.CounterVec
	APIRequests  *prometheus.CounterVec
	APILatency   *prometheus.HistogramVec
	WSClients    prometheus.Gauge
}

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.TimeSyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "time_syncs_total",
		Help:      "Remote time fetches by result and failure kind.",
	}, []string{"result", "kind"})
	r.TimeOffset = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "time_offset_seconds",
		Help:      "Remote minus local clock at the last successful sync.",
	})
	r.TimeOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "time_online",
		Help:      "1 if the last time fetch succeeded.",
	})
	r.Resets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resets_total",
		Help:      "Accident timer resets by whether they broke the record.",
	}, []string{"record_broken"})
	r.RecordWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "record_writes_total",
		Help:      "Administrative record writes by operation.",
	}, []string{"op"})
	r.APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP API requests by route and status code.",
	}, []string{"route", "code"})
	r.APILatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP API latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
	r.WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected display websocket clients.",
	})

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.TimeSyncs, r.TimeOffset, r.TimeOnline,
		r.Resets, r.RecordWrites,
		r.APIRequests, r.APILatency, r.WSClients,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveFetch records one remote time fetch. It matches the resolver's
// OnFetch callback.
func (r *Registry) ObserveFetch(p timesync.SyncPoint, err error) {
	if err != nil {
		r.TimeSyncs.WithLabelValues("failure", string(board.KindOf(err))).Inc()
		r.TimeOnline.Set(0)
		return
	}
	r.TimeSyncs.WithLabelValues("success", "").Inc()
	r.TimeOnline.Set(1)
	r.TimeOffset.Set(p.Offset().Seconds())
}

// ObserveReset records a completed reset.
func (r *Registry) ObserveReset(out *board.ResetOutcome) {
	r.Resets.WithLabelValues(strconv.FormatBool(out.RecordBroken)).Inc()
}

// ObserveRequest records one API request.
func (r *Registry) ObserveRequest(route string, code int, d time.Duration) {
	r.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.APILatency.WithLabelValues(route).Observe(d.Seconds())
}

// WatchDisplay exports the current frame as gauges.
func (r *Registry) WatchDisplay(current func() display.Frame) {
	r.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "days_since_accident",
			Help:      "Whole days since the last accident, -1 while the config is unavailable.",
		}, func() float64 {
			f := current()
			if !f.Available {
				return -1
			}
			return float64(f.Elapsed.Days)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "record_days",
			Help:      "Longest accident-free streak in days.",
		}, func() float64 {
			return float64(current().RecordDays)
		}),
	)
}

// WatchFeed exports change feed fan-out counters.
func (r *Registry) WatchFeed(stats func() (published, dropped uint64)) {
	r.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_published_total",
			Help:      "Config rows delivered to the change feed.",
		}, func() float64 {
			p, _ := stats()
			return float64(p)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_total",
			Help:      "Config rows dropped for slow subscribers.",
		}, func() float64 {
			_, d := stats()
			return float64(d)
		}),
	)
}

// WatchScheduler exports the number of skipped task ticks.
func (r *Registry) WatchScheduler(skipped func() int64) {
	r.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_skipped_ticks_total",
		Help:      "Periodic task ticks skipped because the previous run was in flight.",
	}, func() float64 {
		return float64(skipped())
	}))
}
