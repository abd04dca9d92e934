package balancer

// Option customises the load balancer.
type Option func(*Service)

// WithConfig overrides the default balancer configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
