package observability

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config controls request metrics and tracing for the HTTP surface.
type Config struct {
	ServiceName   string
	MetricsPrefix string
	LogRequests   bool
	Enabled       bool
}

// Observability bundles the prometheus registry and tracer shared by the
// HTTP middleware and the order service.
type Observability struct {
	cfg         Config
	logger      *slog.Logger
	tracer      trace.Tracer
	requests    *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	registry    *prometheus.Registry
}

func New(cfg Config, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "campusmart-orders"
	}
	if cfg.MetricsPrefix == "" {
		cfg.MetricsPrefix = "campusmart"
	}
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.MetricsPrefix,
		Name:      "requests_total",
		Help:      "Total HTTP requests processed by the order service.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.MetricsPrefix,
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.MetricsPrefix,
		Name:      "order_transitions_total",
		Help:      "Order state transitions applied, labelled by from and to state.",
	}, []string{"from", "to"})
	registry.MustRegister(requests, durations, transitions)
	tracer := otel.Tracer(cfg.ServiceName)
	return &Observability{
		cfg:         cfg,
		logger:      logger,
		tracer:      tracer,
		requests:    requests,
		durations:   durations,
		transitions: transitions,
		registry:    registry,
	}
}

// RecordTransition counts a successful order state change.
func (o *Observability) RecordTransition(from, to string) {
	if o == nil {
		return
	}
	o.transitions.WithLabelValues(from, to).Inc()
}

// Middleware wraps a route with tracing, request counting and latency
// histograms.
func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !o.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			span.End()
			duration := time.Since(start).Seconds()
			o.requests.WithLabelValues(route, r.Method, http.StatusText(recorder.status)).Inc()
			o.durations.WithLabelValues(route, r.Method).Observe(duration)
			if o.cfg.LogRequests {
				o.logger.Info("http request",
					"method", r.Method, "path", r.URL.Path,
					"status", recorder.status, "duration_ms", duration*1000)
			}
		})
	}
}

// MetricsHandler serves both the service registry and the process-wide
// default registry (queue drop counters register there).
func (o *Observability) MetricsHandler() http.Handler {
	gatherers := prometheus.Gatherers{o.registry, prometheus.DefaultGatherer}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
