// Package metrics records per-feed run outcomes as Prometheus metrics and
// optionally pushes them to a Pushgateway at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "finnwatch"

// RunStats is what one feed run reports.
type RunStats struct {
	Observed       int
	Notified       int
	Suppressed     int
	Sent           int
	Failed         int
	HistoryRecords int
	Finished       time.Time
}

// Recorder owns a private registry so several recorders can coexist in one
// process (tests, multiple runs).
type Recorder struct {
	registry       *prometheus.Registry
	observed       *prometheus.CounterVec
	notified       *prometheus.CounterVec
	suppressed     *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	historyRecords *prometheus.GaugeVec
	lastRun        *prometheus.GaugeVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	feed := []string{"feed"}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		observed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_observed_total",
			Help: "Events fetched from upstream.",
		}, feed),
		notified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_notified_total",
			Help: "Events selected for notification.",
		}, feed),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_suppressed_total",
			Help: "Significant events suppressed by history or the per-run cap.",
		}, feed),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_failures_total",
			Help: "Upstream queries that yielded no data.",
		}, []string{"feed", "kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Notifications handed to the webhook, by result.",
		}, []string{"feed", "result"}),
		historyRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "history_records",
			Help: "Records in the history store after the last run.",
		}, feed),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time the last run of the feed finished.",
		}, feed),
	}
	r.registry.MustRegister(r.observed, r.notified, r.suppressed, r.fetchFailures,
		r.deliveries, r.historyRecords, r.lastRun)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// FetchFailed counts one failed upstream query. kind is finnhub.Kind(err).
func (r *Recorder) FetchFailed(feed, kind string) {
	if r == nil {
		return
	}
	r.fetchFailures.WithLabelValues(feed, kind).Inc()
}

// ObserveRun records the totals of one finished feed run.
func (r *Recorder) ObserveRun(feed string, s RunStats) {
	if r == nil {
		return
	}
	r.observed.WithLabelValues(feed).Add(float64(s.Observed))
	r.notified.WithLabelValues(feed).Add(float64(s.Notified))
	r.suppressed.WithLabelValues(feed).Add(float64(s.Suppressed))
	r.deliveries.WithLabelValues(feed, "sent").Add(float64(s.Sent))
	r.deliveries.WithLabelValues(feed, "failed").Add(float64(s.Failed))
	r.historyRecords.WithLabelValues(feed).Set(float64(s.HistoryRecords))
	r.lastRun.WithLabelValues(feed).Set(float64(s.Finished.Unix()))
}

// Push sends every collected metric to the Pushgateway at url under job.
// client may be nil.
func (r *Recorder) Push(ctx context.Context, url, job string, client *http.Client) error {
	if r == nil || url == "" {
		return nil
	}
	p := push.New(url, job).Gatherer(r.registry)
	if client != nil {
		p = p.Client(client)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
