package reaper

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports reaper outcomes to Prometheus.
type Metrics struct {
	purged         prometheus.Counter
	blobFailures   prometheus.Counter
	recordFailures prometheus.Counter
	skipped        prometheus.Counter
	cycleDuration  prometheus.Histogram
}

// NewMetrics registers reaper metrics on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "notehub_reaper"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	m := &Metrics{
		purged:         counter("purged_total", "Rejected notes deleted together with their blob."),
		blobFailures:   counter("blob_failures_total", "Blob deletes that failed; the record was kept."),
		recordFailures: counter("record_failures_total", "Record claims or deletes that failed."),
		skipped:        counter("skipped_total", "Candidates leased by another worker or already gone."),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one reaper cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []*prometheus.Counter{&m.purged, &m.blobFailures, &m.recordFailures, &m.skipped} {
		if err := adopt(reg, c); err != nil {
			return nil, err
		}
	}
	if err := adopt(reg, &m.cycleDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func adopt[C prometheus.Collector](reg prometheus.Registerer, collector *C) error {
	err := reg.Register(*collector)
	if err == nil {
		return nil
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(C); ok {
			*collector = existing
			return nil
		}
	}
	return fmt.Errorf("register reaper metric: %w", err)
}

func (m *Metrics) observeCycle(d time.Duration, stats Stats) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.purged.Add(float64(stats.Purged))
	m.blobFailures.Add(float64(stats.BlobFailures))
	m.recordFailures.Add(float64(stats.RecordFailures))
	m.skipped.Add(float64(stats.Skipped))
}
