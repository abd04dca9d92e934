package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/taskpool/service/breaker"
	"github.com/viant/taskpool/service/cache"
	"github.com/viant/taskpool/service/detector"
	"github.com/viant/taskpool/service/event"
)

// Option customises the pool service.
type Option func(*Service)

// WithConfig sets the pool configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithDetector sets the resource-availability collaborator.
func WithDetector(svc detector.Service) Option {
	return func(s *Service) {
		s.detector = svc
	}
}

// WithBreaker sets a custom circuit breaker guarding the allocation path.
func WithBreaker(cb *breaker.CircuitBreaker) Option {
	return func(s *Service) {
		s.breaker = cb
	}
}

// WithCache sets a custom allocation cache.
func WithCache(c *cache.Service) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithEventService wires health-transition publishing through the supplied
// event service.
func WithEventService(svc *event.Service) Option {
	return func(s *Service) {
		if svc == nil {
			return
		}
		publisher, err := event.PublisherOf[HealthTransition](svc)
		if err == nil {
			s.publisher = publisher
		}
	}
}

// WithMetricsRegisterer registers the pool's Prometheus collectors on the
// supplied registerer.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(s *Service) {
		s.metrics = NewMetrics(registerer)
	}
}
