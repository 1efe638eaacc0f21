package sweep

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	statusConverged    = "converged"
	statusNotConverged = "not_converged"
	statusFailed       = "failed"
)

// Collector exposes the progress of sweeps as Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Points         *prometheus.CounterVec
	Steps          prometheus.Histogram
	Duration       prometheus.Histogram
	PointsInFlight prometheus.Gauge
}

// NewCollector registers the sweep metrics against reg, defaulting to the global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	points, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blumecapel_sweep_points_total",
		Help: "Number of evaluated model points, labeled by outcome.",
	}, []string{"status"}), "blumecapel_sweep_points_total")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	steps, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "blumecapel_ctm_steps",
		Help:    "Renormalization steps taken per model point.",
		Buckets: prometheus.ExponentialBuckets(4, 2, 12),
	}), "blumecapel_ctm_steps")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "blumecapel_point_duration_seconds",
		Help:    "Wall time of the evaluation of a model point.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}), "blumecapel_point_duration_seconds")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	inFlight, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blumecapel_points_in_flight",
		Help: "Number of model points currently being evaluated.",
	}), "blumecapel_points_in_flight")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	c := &Collector{
		gatherer:       gatherer,
		Points:         points,
		Steps:          steps,
		Duration:       duration,
		PointsInFlight: inFlight,
	}
	return c, nil
}

// Gatherer returns the gatherer the metrics are registered with.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) begin() {
	if c == nil {
		return
	}
	c.PointsInFlight.Inc()
}

func (c *Collector) end() {
	if c == nil {
		return
	}
	c.PointsInFlight.Dec()
}

func (c *Collector) observe(rec Record) {
	if c == nil {
		return
	}
	status := statusConverged
	switch {
	case rec.Err != nil:
		status = statusFailed
	case !rec.Converged:
		status = statusNotConverged
	}
	c.Points.WithLabelValues(status).Inc()
	c.Duration.Observe(rec.Duration.Seconds())
	if rec.Err == nil {
		c.Steps.Observe(float64(rec.Steps))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, errors.Wrap(err, name)
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, errors.Wrap(err, name)
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, errors.Wrap(err, name)
	}
	return gauge, nil
}
