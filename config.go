package taskpool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/viant/taskpool/service/allocator"
	"github.com/viant/taskpool/service/balancer"
	"github.com/viant/taskpool/service/breaker"
	"github.com/viant/taskpool/service/cache"
	"github.com/viant/taskpool/service/pool"
	"github.com/viant/taskpool/service/router"
)

// Config is a serialisable representation of the engine configuration. It can
// be populated from JSON or YAML; the zero-value is useful since all nested
// fields inherit their package defaults.
type Config struct {
	Pool      pool.Config      `json:"pool" yaml:"pool"`
	Breaker   breaker.Config   `json:"breaker" yaml:"breaker"`
	Cache     cache.Config     `json:"cache" yaml:"cache"`
	Router    router.Config    `json:"router" yaml:"router"`
	Allocator allocator.Config `json:"allocator" yaml:"allocator"`
	Balancer  balancer.Config  `json:"balancer" yaml:"balancer"`
}

// DefaultConfig returns a Config populated with every package's defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Pool:      pool.DefaultConfig(),
		Breaker:   breaker.DefaultConfig(),
		Cache:     cache.DefaultConfig(),
		Router:    router.DefaultConfig(),
		Allocator: allocator.DefaultConfig(),
		Balancer:  balancer.DefaultConfig(),
	}
}

// Validate returns an aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Pool.MaxPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool.maxPoolSize must be > 0"))
	}
	if c.Pool.MinPoolSize < 0 || c.Pool.MinPoolSize > c.Pool.MaxPoolSize {
		errs = append(errs, fmt.Errorf("pool.minPoolSize must be within [0, maxPoolSize]"))
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker.failureThreshold must be > 0"))
	}
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("cache.maxSize must be > 0"))
	}
	if c.Router.RouteCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("router.routeCacheSize must be > 0"))
	}
	if err := c.Allocator.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("allocator: %w", err))
	}
	if c.Balancer.SpikeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("balancer.spikeThreshold must be > 0"))
	}
	return errors.Join(errs...)
}

// LoadConfig reads a YAML configuration from the supplied URL (any scheme the
// file service understands, plain paths included), expands ${env.KEY}
// expressions and overlays it on the defaults.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %v: %w", URL, err)
	}
	expanded := expandEnvExpr(string(data))
	ret := DefaultConfig()
	if err = yaml.Unmarshal([]byte(expanded), ret); err != nil {
		return nil, fmt.Errorf("failed to parse config %v: %w", URL, err)
	}
	if err = ret.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %v: %w", URL, err)
	}
	return ret, nil
}

// expandEnvExpr replaces all occurrences of ${env.KEY} in the input with the
// value of the environment variable KEY (or "" if unset).
func expandEnvExpr(value string) string {
	const prefix = "${env."
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(value[i:], prefix)
		if idx < 0 {
			b.WriteString(value[i:])
			break
		}
		b.WriteString(value[i : i+idx])
		startKey := i + idx + len(prefix)
		endKey := strings.IndexByte(value[startKey:], '}')
		if endKey < 0 {
			// no closing brace, keep the rest literal
			b.WriteString(value[i+idx:])
			break
		}
		key := value[startKey : startKey+endKey]
		valid := true
		for _, r := range key {
			if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
				valid = false
				break
			}
		}
		if valid {
			b.WriteString(os.Getenv(key))
			i = startKey + endKey + 1
			continue
		}
		// invalid expression, keep the prefix literal and keep scanning
		b.WriteString(value[i+idx : startKey])
		i = startKey
	}
	return b.String()
}
