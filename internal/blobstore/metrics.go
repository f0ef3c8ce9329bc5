package blobstore

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for blob store operations.
type Observer interface {
	RecordOperation(op string, duration time.Duration, err error)
	RecordUpload(duration time.Duration, sizeBytes int, err error)
	RecordCompensation(err error)
}

// PrometheusObserver exports blob store metrics to Prometheus.
type PrometheusObserver struct {
	duration      *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	uploadBytes   prometheus.Counter
	compensations *prometheus.CounterVec
}

// NewPrometheusObserver registers blob store metrics on reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "notehub_blobstore"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	observer := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency for blob store operations, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of blob store failures after retries.",
		}, []string{"operation"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative payload size successfully written to the blob store.",
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensating_deletes_total",
			Help:      "Placeholder deletes run after a failed write, by outcome.",
		}, []string{"outcome"}),
	}

	if err := register(reg, &observer.duration); err != nil {
		return nil, err
	}
	if err := register(reg, &observer.errors); err != nil {
		return nil, err
	}
	if err := register(reg, &observer.uploadBytes); err != nil {
		return nil, err
	}
	if err := register(reg, &observer.compensations); err != nil {
		return nil, err
	}
	return observer, nil
}

// register adopts an already registered collector of the same type so
// several stores can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, collector *C) error {
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
	return fmt.Errorf("register blobstore metric: %w", err)
}

// RecordOperation tracks latency and failures for one operation
func (o *PrometheusObserver) RecordOperation(op string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues(op).Inc()
	}
}

// RecordUpload tracks write duration, size and failures
func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes int, err error) {
	if o == nil {
		return
	}
	o.RecordOperation("write", duration, err)
	if err == nil {
		o.uploadBytes.Add(float64(sizeBytes))
	}
}

// RecordCompensation counts compensating deletes
func (o *PrometheusObserver) RecordCompensation(err error) {
	if o == nil {
		return
	}
	outcome := "deleted"
	if err != nil {
		outcome = "orphaned"
	}
	o.compensations.WithLabelValues(outcome).Inc()
}

type nopObserver struct{}

func (nopObserver) RecordOperation(string, time.Duration, error) {}

func (nopObserver) RecordUpload(time.Duration, int, error) {}

func (nopObserver) RecordCompensation(error) {}
