package event

import "github.com/viant/taskpool/service/messaging/memory"

// Option customises the event service.
type Option func(*Service)

// WithQueueConfig overrides the per-type queue configuration factory.
func WithQueueConfig(factory func() memory.Config) Option {
	return func(s *Service) {
		if factory != nil {
			s.newQueueConfig = factory
		}
	}
}
