package sink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonoton/go-logthrottle"
)

// Prometheus counts reported envelopes. It implements prometheus.Collector,
// so it can be registered directly, and its Report method is the sink.
type Prometheus[T any] struct {
	reports prometheus.Counter
	records prometheus.Counter
	repeats prometheus.Histogram
}

// NewPrometheus creates the collector. Metric names are built from namespace
// and subsystem:
//
//	<namespace>_<subsystem>_reports_total  envelopes reported
//	<namespace>_<subsystem>_records_total  records folded into them
//	<namespace>_<subsystem>_repeat_count   repeat count per envelope
func NewPrometheus[T any](namespace, subsystem string) *Prometheus[T] {
	return &Prometheus[T]{
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reports_total",
			Help:      "Number of throttled envelopes reported.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_total",
			Help:      "Number of records folded into reported envelopes.",
		}),
		repeats: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "repeat_count",
			Help:      "Repeat count of each reported envelope.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Report records env.
func (p *Prometheus[T]) Report(env *logthrottle.Envelope[T]) {
	p.reports.Inc()
	p.records.Add(float64(env.RepeatCount))
	p.repeats.Observe(float64(env.RepeatCount))
}

// Describe implements prometheus.Collector.
func (p *Prometheus[T]) Describe(ch chan<- *prometheus.Desc) {
	p.reports.Describe(ch)
	p.records.Describe(ch)
	p.repeats.Describe(ch)
}

// Collect implements prometheus.Collector.
func (p *Prometheus[T]) Collect(ch chan<- prometheus.Metric) {
	p.reports.Collect(ch)
	p.records.Collect(ch)
	p.repeats.Collect(ch)
}

var _ prometheus.Collector = (*Prometheus[string])(nil)
