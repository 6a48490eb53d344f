// Package metrics exposes send lifecycle events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/mailkit/internal/provider"
)

// Observer is a provider.Observer that records sends per provider.
type Observer struct {
	sends      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inflight   *prometheus.GaugeVec
	recipients *prometheus.CounterVec
}

// New creates an Observer and registers its collectors on reg. A nil reg
// uses prometheus.DefaultRegisterer. Registering twice on the same
// registry reuses the existing collectors.
func New(reg prometheus.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	sends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailkit",
		Name:      "sends_total",
		Help:      "Messages handed to a provider, by result.",
	}, []string{"provider", "result"}) // result: sent|failed

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mailkit",
		Name:      "send_duration_seconds",
		Help:      "Time spent delivering one message.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "result"})

	inflight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mailkit",
		Name:      "inflight_sends",
		Help:      "Sends started but not yet finished.",
	}, []string{"provider"})

	recipients := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailkit",
		Name:      "recipients_total",
		Help:      "Recipients of successfully sent messages.",
	}, []string{"provider"})

	o := &Observer{}
	var err error
	if o.sends, err = register(reg, sends); err != nil {
		return nil, err
	}
	if o.duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if o.inflight, err = register(reg, inflight); err != nil {
		return nil, err
	}
	if o.recipients, err = register(reg, recipients); err != nil {
		return nil, err
	}
	return o, nil
}

// Observe implements provider.Observer.
func (o *Observer) Observe(_ context.Context, ev provider.Event) {
	switch ev.Stage {
	case provider.StagePreSend:
		o.inflight.WithLabelValues(ev.Provider).Inc()
	case provider.StageSent:
		o.inflight.WithLabelValues(ev.Provider).Dec()
		o.sends.WithLabelValues(ev.Provider, "sent").Inc()
		o.duration.WithLabelValues(ev.Provider, "sent").Observe(ev.Duration.Seconds())
		o.recipients.WithLabelValues(ev.Provider).Add(float64(ev.Recipients))
	case provider.StageFailed:
		o.inflight.WithLabelValues(ev.Provider).Dec()
		o.sends.WithLabelValues(ev.Provider, "failed").Inc()
		o.duration.WithLabelValues(ev.Provider, "failed").Observe(ev.Duration.Seconds())
	}
}

// Handler returns the /metrics handler for g. A nil g uses
// prometheus.DefaultGatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}
