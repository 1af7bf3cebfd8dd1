// Package telemetry exports the state of a magnet supply and the outcome of
// its supervised ramps to Prometheus and Redis
package telemetry

import (
	"errors"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/magnetlab/oxford"
	"github.com/nasa-jpl/magnetlab/util"
)

// Collector holds the Prometheus metrics of one supply.  It is an
// oxford.Reporter and oxford.Finisher, so it can be set as (or added to) the
// supply's Reporter.
type Collector struct {
	progress prometheus.Gauge
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

// outcome labels a finished ramp for the outcome counter
func outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, oxford.ErrTemperatureExceeded):
		return "interlock"
	case errors.Is(err, oxford.ErrHeaterOff):
		return "heater_off"
	case errors.Is(err, oxford.ErrRampCancelled):
		return "cancelled"
	case errors.Is(err, oxford.ErrRampInProgress):
		return "busy"
	}
	return "error"
}

// nanOnErr turns a failed read into NaN, which Prometheus records as a gap
func nanOnErr(fcn func() (float64, error)) func() float64 {
	return func() float64 {
		f, err := fcn()
		if err != nil {
			return math.NaN()
		}
		return f
	}
}

// NewCollector creates the metrics for m, labelled with node, and registers
// them with reg.  The field and temperature gauges query the supply on every
// scrape.
func NewCollector(m *oxford.MercuryIPS, node string, reg prometheus.Registerer) (*Collector, error) {
	labels := prometheus.Labels{"node": node}
	c := &Collector{
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "magnet",
			Name:        "ramp_progress_ratio",
			Help:        "Fraction of the running supervised ramp that is done.",
			ConstLabels: labels,
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "magnet",
			Name:        "ramps_total",
			Help:        "Supervised ramps by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "magnet",
			Name:        "ramp_duration_seconds",
			Help:        "Wall time of supervised ramps.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
	collectors := []prometheus.Collector{
		c.progress, c.outcomes, c.duration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "magnet",
			Name:        "field_tesla",
			Help:        "Output field of the supply.",
			ConstLabels: labels,
		}, nanOnErr(m.Field)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "magnet",
			Name:        "temperature_kelvin",
			Help:        "Magnet temperature.",
			ConstLabels: labels,
		}, nanOnErr(m.Temperature)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "magnet",
			Name:        "temperature_limit_kelvin",
			Help:        "Interlock limit on the magnet temperature.",
			ConstLabels: labels,
		}, m.TemperatureLimit),
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Report satisfies oxford.Reporter
func (c *Collector) Report(p oxford.Progress) {
	c.progress.Set(util.Clamp(p.Fraction, 0, 1))
}

// Finish satisfies oxford.Finisher
func (c *Collector) Finish(res oxford.RampResult, err error) {
	c.outcomes.WithLabelValues(outcome(err)).Inc()
	c.duration.Observe(res.Elapsed.Seconds())
	if err == nil {
		c.progress.Set(1)
	}
}
