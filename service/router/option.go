package router

// Option customises the routing engine.
type Option func(*Service)

// WithConfig overrides the default routing configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithWeights overrides the initial adaptive weights.
func WithWeights(weights Weights) Option {
	return func(s *Service) {
		s.weights = weights
	}
}
