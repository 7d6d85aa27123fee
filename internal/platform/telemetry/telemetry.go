// Package telemetry exposes the refiner's Prometheus metrics: HTTP server
// metrics recorded by an Echo middleware, and refinement counters and
// histograms recorded by the engine. Every recording method is safe to call
// on a nil *Metrics, which records nothing.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the metric namespace and const labels.
type Config struct {
	Namespace      string
	ServiceName    string
	Environment    string
	MetricsEnabled *bool // nil = use default (true)
	// Registry receives the collectors. A fresh registry is created when nil.
	Registry *prometheus.Registry
}

func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "refiner"
	}
	if c.ServiceName == "" {
		c.ServiceName = "refiner-server"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Refine request outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeParseError   = "parse_error"
	OutcomeInvalidInput = "invalid_input"
	OutcomeError        = "error"
)

var (
	defaultDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	defaultSizeDeltaBuckets = []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100}
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics owns the refiner's collectors.
type Metrics struct {
	cfg      Config
	registry *prometheus.Registry

	httpDuration   *prometheus.HistogramVec
	httpActive     prometheus.Gauge
	refineRequests *prometheus.CounterVec
	refineDuration prometheus.Histogram
	documents      *prometheus.CounterVec
	sizeDelta      prometheus.Histogram
	conditionFails *prometheus.CounterVec
	rejectedCodes  *prometheus.CounterVec
	unknownSection *prometheus.CounterVec
	sectionOutcome *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on the configured registry.
func New(cfg Config) *Metrics {
	cfg.applyDefaults()
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	constLabels := prometheus.Labels{"service": cfg.ServiceName, "env": cfg.Environment}
	ns := cfg.Namespace

	m := &Metrics{
		cfg:      cfg,
		registry: reg,
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "http_server_request_duration_seconds",
			Help:        "Duration of HTTP requests in seconds.",
			Buckets:     defaultDurationBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route", "status_code"}),
		httpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "http_server_active_requests",
			Help:        "Number of active HTTP requests.",
			ConstLabels: constLabels,
		}),
		refineRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "refine_requests_total",
			Help:        "Refine calls by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		refineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "refine_duration_seconds",
			Help:        "Wall time of a refine call in seconds.",
			Buckets:     defaultDurationBuckets,
			ConstLabels: constLabels,
		}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "refined_documents_total",
			Help:        "Refined documents produced, by condition.",
			ConstLabels: constLabels,
		}, []string{"condition"}),
		sizeDelta: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "size_delta_percent",
			Help:        "Size reduction of refined eICRs, in percent.",
			Buckets:     defaultSizeDeltaBuckets,
			ConstLabels: constLabels,
		}),
		conditionFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "condition_pass_failures_total",
			Help:        "Per-condition refinement passes that failed.",
			ConstLabels: constLabels,
		}, []string{"condition"}),
		rejectedCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "rejected_code_entries_total",
			Help:        "Code entries dropped during code-set compilation, by source.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		unknownSection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "unknown_sections_total",
			Help:        "Sections passed through because no policy covers their code.",
			ConstLabels: constLabels,
		}, []string{"section"}),
		sectionOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "section_outcomes_total",
			Help:        "Section processor outcomes by section code and outcome.",
			ConstLabels: constLabels,
		}, []string{"section", "outcome"}),
	}

	reg.MustRegister(
		m.httpDuration, m.httpActive,
		m.refineRequests, m.refineDuration, m.documents, m.sizeDelta,
		m.conditionFails, m.rejectedCodes, m.unknownSection, m.sectionOutcome,
	)
	if cfg.Registry == nil {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ---------------------------------------------------------------------------
// Refinement recorders
// ---------------------------------------------------------------------------

// RefineRequest counts one refine call with the given outcome.
func (m *Metrics) RefineRequest(outcome string) {
	if m == nil {
		return
	}
	m.refineRequests.WithLabelValues(outcome).Inc()
}

// ObserveRefineDuration records the wall time of one refine call.
func (m *Metrics) ObserveRefineDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.refineDuration.Observe(d.Seconds())
}

// DocumentRefined counts one refined document and records its size delta.
func (m *Metrics) DocumentRefined(condition string, sizeDeltaPercent int) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(condition).Inc()
	m.sizeDelta.Observe(float64(sizeDeltaPercent))
}

// ConditionFailed counts a failed per-condition pass.
func (m *Metrics) ConditionFailed(condition string) {
	if m == nil {
		return
	}
	m.conditionFails.WithLabelValues(condition).Inc()
}

// CodesRejected counts n dropped code entries from source.
func (m *Metrics) CodesRejected(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rejectedCodes.WithLabelValues(source).Add(float64(n))
}

// UnknownSection counts a section passed through without a policy.
func (m *Metrics) UnknownSection(code string) {
	if m == nil {
		return
	}
	m.unknownSection.WithLabelValues(code).Inc()
}

// SectionOutcome counts one section processor outcome.
func (m *Metrics) SectionOutcome(code, outcome string) {
	if m == nil {
		return
	}
	m.sectionOutcome.WithLabelValues(code, outcome).Inc()
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware returns an Echo middleware that records HTTP server metrics.
func (m *Metrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil || !m.cfg.metricsOn() {
				return next(c)
			}

			m.httpActive.Inc()
			start := time.Now()

			err := next(c)

			m.httpActive.Dec()

			// Route pattern, not the raw path.
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			m.httpDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler returns an Echo handler serving the registry in the
// Prometheus text exposition format.
func (m *Metrics) PrometheusHandler() echo.HandlerFunc {
	reg := prometheus.NewRegistry()
	if m != nil {
		reg = m.registry
	}
	return echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}
