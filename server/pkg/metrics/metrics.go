// Package metrics defines the Prometheus collectors exported by the update server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "updater"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// InvalidApp labels attempts whose application name was rejected, so arbitrary request input never
// creates new series.
const InvalidApp = "invalid"

// Metrics holds every collector. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	checks          *prometheus.CounterVec
	downloads       *prometheus.CounterVec
	downloadBytes   *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	publishDuration prometheus.Histogram
	publishedFiles  prometheus.Counter
}

// New creates and registers every collector on a dedicated registry that also carries the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Update checks by application and whether changes were found.",
		}, []string{"app", "changes"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Downloads by application and kind (archive or file).",
		}, []string{"app", "kind"}),
		downloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes served by application and kind (archive or file).",
		}, []string{"app", "kind"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish attempts by application and result.",
		}, []string{"app", "result"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing a version, from upload to promotion.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		publishedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_files_total",
			Help:      "Files listed in the manifests of published versions.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.checks,
		m.downloads,
		m.downloadBytes,
		m.publishes,
		m.publishDuration,
		m.publishedFiles,
	)
	return m
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, method string, code string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, code).Inc()
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}

func (m *Metrics) ObserveCheck(app string, changes bool) {
	if m == nil {
		return
	}
	label := "false"
	if changes {
		label = "true"
	}
	m.checks.WithLabelValues(app, label).Inc()
}

func (m *Metrics) ObserveDownload(app string, kind string, bytes int64) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(app, kind).Inc()
	m.downloadBytes.WithLabelValues(app, kind).Add(float64(bytes))
}

// ObservePublish records a publish attempt. files is only counted for successful publishes.
func (m *Metrics) ObservePublish(app string, err error, seconds float64, files int) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishes.WithLabelValues(app, ResultFailure).Inc()
		return
	}
	m.publishes.WithLabelValues(app, ResultSuccess).Inc()
	m.publishDuration.Observe(seconds)
	m.publishedFiles.Add(float64(files))
}
