// Package metrics exports engine events as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mpython77/instaapi-sub001/internal/events"
)

// Observer holds the engine's Prometheus collectors.
type Observer struct {
	Requests  *prometheus.CounterVec
	Retries   *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	RateLimit prometheus.Counter
	Challenge prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates an Observer and registers its collectors with reg. A nil reg
// uses a fresh registry.
func New(reg *prometheus.Registry) (*Observer, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	o := &Observer{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instaapi_requests_total",
				Help: "Exchanges by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instaapi_retries_total",
				Help: "Retries by triggering failure kind",
			},
			[]string{"kind"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "instaapi_request_duration_seconds",
				Help:    "Exchange latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"category"},
		),
		RateLimit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "instaapi_rate_limited_total",
			Help: "Rate-limit signals from the upstream",
		}),
		Challenge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "instaapi_challenges_total",
			Help: "Step-up verification demands",
		}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{o.Requests, o.Retries, o.Duration, o.RateLimit, o.Challenge} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Hook returns an events hook feeding the collectors.
func (o *Observer) Hook() events.Hook {
	return func(e events.Event) {
		switch e.Type {
		case events.TypeSuccess:
			o.Requests.WithLabelValues(e.Category, "success").Inc()
			o.Duration.WithLabelValues(e.Category).Observe(e.Latency.Seconds())
		case events.TypeError:
			o.Requests.WithLabelValues(e.Category, e.Kind.String()).Inc()
			o.Duration.WithLabelValues(e.Category).Observe(e.Latency.Seconds())
		case events.TypeRetry:
			o.Retries.WithLabelValues(e.Kind.String()).Inc()
		case events.TypeRateLimit:
			o.RateLimit.Inc()
		case events.TypeChallenge:
			o.Challenge.Inc()
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})
}
