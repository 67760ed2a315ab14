package hoptrace

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	decisionNew   = "new"
	decisionChild = "child"
)

// metrics are the middleware's Prometheus collectors.
type metrics struct {
	requests       *prometheus.CounterVec
	decodeFailures prometheus.Counter
	panics         prometheus.Counter
	duration       *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hoptrace",
			Name:      "requests_total",
			Help:      "Traced requests by trace decision (new or child).",
		}, []string{"decision"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hoptrace",
			Name:      "header_decode_failures_total",
			Help:      "Requests whose trace headers were present but malformed.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hoptrace",
			Name:      "panics_total",
			Help:      "Panics raised by downstream handlers.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hoptrace",
			Name:      "request_duration_seconds",
			Help:      "Duration of traced requests by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	m.requests = register(reg, m.requests, &err)
	m.decodeFailures = register(reg, m.decodeFailures, &err)
	m.panics = register(reg, m.panics, &err)
	m.duration = register(reg, m.duration, &err)
	if err != nil {
		return nil, fmt.Errorf("hoptrace: failed to register metrics: %w", err)
	}
	return m, nil
}

// register registers c, returning the already registered collector when an identical
// one exists so several middlewares can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = errors.Join(*errp, err)
	}
	return c
}
