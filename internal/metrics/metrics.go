// Package metrics holds the Prometheus collectors for the ingestion
// pipeline and the feed endpoint.
//
// A nil *Metrics is valid and records nothing, so components take one
// optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skyfeed"

// Rejection reasons recorded by the filter pipeline.
const (
	ReasonArchived       = "archived"
	ReasonReply          = "reply"
	ReasonPredicate      = "predicate"
	ReasonNoPredicate    = "no_predicate"
	ReasonPredicateError = "predicate_error"
)

// Metrics is a prometheus.Collector covering the stream supervisor, the
// decoder, the filter pipeline and the feed endpoint.
type Metrics struct {
	registry *prometheus.Registry

	commitsSeen    prometheus.Counter
	commitsSkipped prometheus.Counter
	commitErrors   prometheus.Counter
	checkpoints    prometheus.Counter
	reconnects     prometheus.Counter
	opsSkipped     prometheus.Counter
	postsAccepted  prometheus.Counter
	postsRejected  *prometheus.CounterVec
	postsInserted  prometheus.Counter
	postsDeleted   prometheus.Counter
	feedRequests   *prometheus.CounterVec
	feedDuration   prometheus.Histogram
}

// New returns Metrics registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commitsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_seen_total",
			Help:      "Commit events received from the relay.",
		}),
		commitsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_skipped_total",
			Help:      "Commit events skipped because they carried no blocks.",
		}),
		commitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_errors_total",
			Help:      "Commit events whose processing failed.",
		}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Stream cursor checkpoints written.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Relay subscriptions reopened after a transport fault.",
		}),
		opsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_skipped_total",
			Help:      "Repository operations the decoder could not use.",
		}),
		postsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_accepted_total",
			Help:      "Created posts accepted by the filter pipeline.",
		}),
		postsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_rejected_total",
			Help:      "Created posts rejected by the filter pipeline.",
		}, []string{"reason"}),
		postsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_inserted_total",
			Help:      "Rows added to the feed ledger.",
		}),
		postsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_deleted_total",
			Help:      "Rows removed from the feed ledger.",
		}),
		feedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_requests_total",
			Help:      "Feed skeleton requests by HTTP status code.",
		}, []string{"code"}),
		feedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_request_duration_seconds",
			Help:      "Time spent serving feed skeleton requests.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
	m.registry.MustRegister(m)
	return m
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.commitsSeen.Describe(ch)
	m.commitsSkipped.Describe(ch)
	m.commitErrors.Describe(ch)
	m.checkpoints.Describe(ch)
	m.reconnects.Describe(ch)
	m.opsSkipped.Describe(ch)
	m.postsAccepted.Describe(ch)
	m.postsRejected.Describe(ch)
	m.postsInserted.Describe(ch)
	m.postsDeleted.Describe(ch)
	m.feedRequests.Describe(ch)
	m.feedDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.commitsSeen.Collect(ch)
	m.commitsSkipped.Collect(ch)
	m.commitErrors.Collect(ch)
	m.checkpoints.Collect(ch)
	m.reconnects.Collect(ch)
	m.opsSkipped.Collect(ch)
	m.postsAccepted.Collect(ch)
	m.postsRejected.Collect(ch)
	m.postsInserted.Collect(ch)
	m.postsDeleted.Collect(ch)
	m.feedRequests.Collect(ch)
	m.feedDuration.Collect(ch)
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CommitSeen() {
	if m != nil {
		m.commitsSeen.Inc()
	}
}

func (m *Metrics) CommitSkipped() {
	if m != nil {
		m.commitsSkipped.Inc()
	}
}

func (m *Metrics) CommitFailed() {
	if m != nil {
		m.commitErrors.Inc()
	}
}

func (m *Metrics) CheckpointWritten() {
	if m != nil {
		m.checkpoints.Inc()
	}
}

func (m *Metrics) Reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) OpsSkipped(n int) {
	if m != nil && n > 0 {
		m.opsSkipped.Add(float64(n))
	}
}

func (m *Metrics) PostAccepted() {
	if m != nil {
		m.postsAccepted.Inc()
	}
}

// PostRejected counts a rejection under one of the Reason constants.
func (m *Metrics) PostRejected(reason string) {
	if m != nil {
		m.postsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) PostsInserted(n int64) {
	if m != nil && n > 0 {
		m.postsInserted.Add(float64(n))
	}
}

func (m *Metrics) PostsDeleted(n int64) {
	if m != nil && n > 0 {
		m.postsDeleted.Add(float64(n))
	}
}

// FeedServed records one feed request with its status code and duration.
func (m *Metrics) FeedServed(code string, d time.Duration) {
	if m != nil {
		m.feedRequests.WithLabelValues(code).Inc()
		m.feedDuration.Observe(d.Seconds())
	}
}
