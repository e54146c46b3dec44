package usage

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink counts tokens on a labelled counter, scraped on /metrics.
type PrometheusSink struct {
	counter *prometheus.CounterVec
}

// NewPrometheusSink registers the usage counter on reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attach_usage_tokens_total",
		Help: "Total tokens processed by the gateway.",
	}, []string{"user", "direction", "model"})
	if err := reg.Register(counter); err != nil {
		return nil, err
	}
	return &PrometheusSink{counter: counter}, nil
}

// Record implements Sink. Synchronous: counter increments are cheap.
func (s *PrometheusSink) Record(_ context.Context, evt Event) {
	s.counter.WithLabelValues(evt.User, "in", evt.Model).Add(float64(evt.TokensIn))
	s.counter.WithLabelValues(evt.User, "out", evt.Model).Add(float64(evt.TokensOut))
}
