package taskpool

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/viant/taskpool/service/breaker"
	"github.com/viant/taskpool/service/detector"
	"github.com/viant/taskpool/service/event"
)

// Option customises the service façade.
type Option func(s *Service)

// WithConfig sets the engine configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithDetector sets the resource detector consulted before every allocation.
func WithDetector(svc detector.Service) Option {
	return func(s *Service) { s.detector = svc }
}

// WithEventService sets the event service carrying health transitions.
func WithEventService(svc *event.Service) Option {
	return func(s *Service) { s.events = svc }
}

// WithBreaker sets the circuit breaker guarding pool allocation.
func WithBreaker(cb *breaker.CircuitBreaker) Option {
	return func(s *Service) { s.breaker = cb }
}

// WithMetricsRegisterer registers the pool's collectors with the supplied
// prometheus registerer.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(s *Service) { s.registerer = registerer }
}
