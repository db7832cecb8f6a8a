package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the Prometheus collectors exported by the daemon.
type Collector struct {
	registry *prometheus.Registry

	workTotal       *prometheus.CounterVec
	workDuration    *prometheus.HistogramVec
	runTransitions  *prometheus.CounterVec
	runsActive      prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpErrors      *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	persistFailures prometheus.Counter
}

// NewCollector registers all collectors on a dedicated registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.workTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "work_units_total",
		Help:      "Total number of work units processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	c.workDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "work_unit_duration_seconds",
		Help:      "Duration of a work unit from Run to Conclude.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind"})

	c.runTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "run_state_transitions_total",
		Help:      "Number of agent state transitions, by target state.",
	}, []string{"state"})

	c.runsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs_active",
		Help:      "Number of runs whose loop is currently executing.",
	})

	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	c.httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler", "method"})

	c.persistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_failures_total",
		Help:      "Number of failed SaveMessages calls.",
	})

	reg.MustRegister(
		c.workTotal, c.workDuration, c.runTransitions, c.runsActive,
		c.httpRequests, c.httpErrors, c.httpDuration, c.persistFailures,
		collectors.NewGoCollector(),
	)
	return c
}

// ObserveWork records the outcome of one work unit.
func (c *Collector) ObserveWork(kind, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.workTotal.WithLabelValues(kind, outcome).Inc()
	c.workDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveState records an agent state transition.
func (c *Collector) ObserveState(state string) {
	if c == nil {
		return
	}
	c.runTransitions.WithLabelValues(state).Inc()
}

// RunStarted and RunFinished track the number of executing loops.
func (c *Collector) RunStarted() {
	if c != nil {
		c.runsActive.Inc()
	}
}

func (c *Collector) RunFinished() {
	if c != nil {
		c.runsActive.Dec()
	}
}

// ObservePersistFailure counts a failed persistence call.
func (c *Collector) ObservePersistFailure() {
	if c != nil {
		c.persistFailures.Inc()
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
