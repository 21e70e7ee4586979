package bus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quintans/faults"

	"github.com/opencredo/concourse"
)

const (
	statusOK     = "ok"
	statusFailed = "failed"
)

// Metrics counts processed batches and events per aggregate tag
type Metrics struct {
	Batches  *prometheus.CounterVec
	Events   *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics creates the bus metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "batches_total",
				Help:      "Total number of batches processed",
			},
			[]string{"status"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "events_total",
				Help:      "Total number of events processed",
			},
			[]string{"tag", "status"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "processing_duration_seconds",
				Help:      "Batch processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	for _, c := range []prometheus.Collector{m.Batches, m.Events, m.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, faults.Errorf("unable to register bus metrics: %w", err)
		}
	}
	return m, nil
}

// Middleware observes every batch reaching the wrapped processor
func (m *Metrics) Middleware() Middleware {
	return func(next Processor) Processor {
		return func(ctx context.Context, batch []concourse.Event) error {
			start := time.Now()
			err := next(ctx, batch)
			m.Duration.Observe(time.Since(start).Seconds())

			status := statusOK
			if err != nil {
				status = statusFailed
			}
			m.Batches.WithLabelValues(status).Inc()
			for _, e := range batch {
				m.Events.WithLabelValues(string(e.Tag), status).Inc()
			}
			return err
		}
	}
}
