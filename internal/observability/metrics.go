// Package observability bundles the daemon's Prometheus metrics. The
// collector registers against an injectable registerer and tolerates
// re-registration, so tests can use private registries and repeated
// construction against the default one stays safe.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the metric families for the feed pipeline and the HTTP
// surface. Domain packages drive it through their own small recorder
// interfaces, which *Collector satisfies.
type Collector struct {
	gatherer prometheus.Gatherer

	SnapshotsFetched *prometheus.CounterVec // by outcome
	EntriesRejected  prometheus.Counter
	Predictions      *prometheus.CounterVec // by outcome
	WindLookups      *prometheus.CounterVec // by outcome

	BalloonsTracked    prometheus.Gauge
	WindowHoursPresent prometheus.Gauge
	WSClients          prometheus.Gauge

	HTTPDurations *prometheus.HistogramVec // by route
}

// NewCollector registers the daemon metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fetched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshots_fetched_total",
		Help: "Feed hour documents fetched, labeled by outcome (ok, parse_error, network_error).",
	}, []string{"outcome"})
	fetched, err := registerCounterVec(reg, fetched, "snapshots_fetched_total")
	if err != nil {
		return nil, err
	}

	rejected, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_entries_rejected_total",
		Help: "Feed entries dropped during parsing for malformed or out-of-range values.",
	}), "snapshot_entries_rejected_total")
	if err != nil {
		return nil, err
	}

	predictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "predictions_total",
		Help: "Prediction attempts, labeled by outcome (ok, unavailable, shape_mismatch, error).",
	}, []string{"outcome"})
	predictions, err = registerCounterVec(reg, predictions, "predictions_total")
	if err != nil {
		return nil, err
	}

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wind_lookups_total",
		Help: "Wind resolution attempts, labeled by outcome (memory, store, fetched, error).",
	}, []string{"outcome"})
	lookups, err = registerCounterVec(reg, lookups, "wind_lookups_total")
	if err != nil {
		return nil, err
	}

	balloons, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "balloons_tracked",
		Help: "Balloons present in the newest window hour.",
	}), "balloons_tracked")
	if err != nil {
		return nil, err
	}
	hoursPresent, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "window_hours_present",
		Help: "Hours of the 24-hour window currently populated.",
	}), "window_hours_present")
	if err != nil {
		return nil, err
	}
	wsClients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_clients",
		Help: "Connected WebSocket dashboard clients.",
	}), "ws_clients")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, labeled by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	durations, err = registerHistogramVec(reg, durations, "http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:           gatherer,
		SnapshotsFetched:   fetched,
		EntriesRejected:    rejected,
		Predictions:        predictions,
		WindLookups:        lookups,
		BalloonsTracked:    balloons,
		WindowHoursPresent: hoursPresent,
		WSClients:          wsClients,
		HTTPDurations:      durations,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// HTTPMiddleware wraps a mux and records request durations labeled by the
// matched route pattern. Unmatched requests share one label, so path noise
// cannot blow up metric cardinality.
func (c *Collector) HTTPMiddleware(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mux.ServeHTTP(w, r)

		if c == nil || c.HTTPDurations == nil {
			return
		}
		route := "unmatched"
		if _, pattern := mux.Handler(r); pattern != "" {
			route = pattern
		}
		c.HTTPDurations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordFetch satisfies the constellation.FeedMetrics interface so the
// feed service can drive fetch counters directly.
func (c *Collector) RecordFetch(outcome string) {
	if c == nil || c.SnapshotsFetched == nil {
		return
	}
	c.SnapshotsFetched.WithLabelValues(outcome).Inc()
}

// RecordRejected satisfies the constellation.FeedMetrics interface.
func (c *Collector) RecordRejected(n int) {
	if c == nil || c.EntriesRejected == nil || n <= 0 {
		return
	}
	c.EntriesRejected.Add(float64(n))
}

// RecordPrediction satisfies the core.SweepMetrics interface.
func (c *Collector) RecordPrediction(outcome string) {
	if c == nil || c.Predictions == nil {
		return
	}
	c.Predictions.WithLabelValues(outcome).Inc()
}

// RecordWindLookup satisfies the wind.LookupMetrics interface.
func (c *Collector) RecordWindLookup(outcome string) {
	if c == nil || c.WindLookups == nil {
		return
	}
	c.WindLookups.WithLabelValues(outcome).Inc()
}

// SetFeedCounts drives the window gauges; the status sink calls it once
// per scheduler tick.
func (c *Collector) SetFeedCounts(balloons, hoursPresent int) {
	if c == nil {
		return
	}
	if c.BalloonsTracked != nil {
		c.BalloonsTracked.Set(float64(balloons))
	}
	if c.WindowHoursPresent != nil {
		c.WindowHoursPresent.Set(float64(hoursPresent))
	}
}

// AddWSClients moves the connected-clients gauge as dashboards attach and
// detach.
func (c *Collector) AddWSClients(delta int) {
	if c == nil || c.WSClients == nil {
		return
	}
	c.WSClients.Add(float64(delta))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
