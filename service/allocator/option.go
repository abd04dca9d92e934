package allocator

// Option customises the allocator.
type Option func(*Service)

// WithConfig overrides the default allocator configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
