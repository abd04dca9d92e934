// Package pool implements the priority-tiered resource pool: admission
// control through a circuit breaker and allocation cache, elastic grow and
// shrink, periodic staleness cleanup, and an edge-triggered health state
// machine.
package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/viant/taskpool/internal/clock"
	"github.com/viant/taskpool/internal/idgen"
	"github.com/viant/taskpool/model/priority"
	"github.com/viant/taskpool/model/resource"
	"github.com/viant/taskpool/service/breaker"
	"github.com/viant/taskpool/service/cache"
	"github.com/viant/taskpool/service/detector"
	"github.com/viant/taskpool/service/event"
	"github.com/viant/taskpool/tracing"
)

// Config represents pool configuration.
type Config struct {
	// MaxPoolSize is the per-tier resource ceiling.
	MaxPoolSize int `json:"maxPoolSize" yaml:"maxPoolSize"`
	// MinPoolSize is the per-tier floor the shrink path never goes below.
	MinPoolSize int `json:"minPoolSize" yaml:"minPoolSize"`
	// CleanupInterval is how often the staleness sweep runs.
	CleanupInterval time.Duration `json:"cleanupInterval" yaml:"cleanupInterval"`
	// ResourceTimeout is the unused-time window after which a resource is stale.
	ResourceTimeout time.Duration `json:"resourceTimeout" yaml:"resourceTimeout"`
	// CacheMaxSize bounds the allocation cache.
	CacheMaxSize int `json:"cacheMaxSize" yaml:"cacheMaxSize"`
	// EnableCircuitBreaker guards the allocation path when set.
	EnableCircuitBreaker bool `json:"enableCircuitBreaker" yaml:"enableCircuitBreaker"`
	// WarningThreshold and CriticalThreshold classify pool health from the
	// peak of memory, cpu and pool utilization.
	WarningThreshold  float64 `json:"warningThreshold" yaml:"warningThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold" yaml:"criticalThreshold"`
	// DefaultLeaseTimeout bounds in-flight leases without a per-request value.
	DefaultLeaseTimeout time.Duration `json:"defaultLeaseTimeout" yaml:"defaultLeaseTimeout"`
	// GrowUtilization and ShrinkUtilization drive the elastic optimize path.
	GrowUtilization   float64 `json:"growUtilization" yaml:"growUtilization"`
	ShrinkUtilization float64 `json:"shrinkUtilization" yaml:"shrinkUtilization"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxPoolSize:          10,
		MinPoolSize:          1,
		CleanupInterval:      30 * time.Second,
		ResourceTimeout:      5 * time.Minute,
		CacheMaxSize:         100,
		EnableCircuitBreaker: true,
		WarningThreshold:     0.7,
		CriticalThreshold:    0.9,
		DefaultLeaseTimeout:  2 * time.Minute,
		GrowUtilization:      0.8,
		ShrinkUtilization:    0.3,
	}
}

// HealthTransition is published when the pool health state changes. Delivery
// is edge-triggered: one event per transition, never per evaluation.
type HealthTransition struct {
	From        resource.Health `json:"from"`
	To          resource.Health `json:"to"`
	Utilization float64         `json:"utilization"`
	At          time.Time       `json:"at"`
}

// Status is the read-only view returned by Monitor.
type Status struct {
	Health        resource.Health `json:"health"`
	Utilization   float64         `json:"utilization"`
	ResourceCount int             `json:"resourceCount"`
	LastUpdated   time.Time       `json:"lastUpdated"`
}

// Service owns the priority tiers and serialises all mutations through its
// lock; background ticks take the same lock as callers.
type Service struct {
	config   Config
	detector detector.Service
	breaker  *breaker.CircuitBreaker
	cache    *cache.Service
	metrics  *Metrics

	publisher *event.Publisher[HealthTransition]

	mu           sync.Mutex
	tiers        map[priority.Priority]*tier
	keys         map[string]string // resource ID -> cache key
	health       resource.Health
	availability *detector.Availability
	lastUpdated  time.Time

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a pool service. A detector is required.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config:     DefaultConfig(),
		tiers:      map[priority.Priority]*tier{},
		keys:       map[string]string{},
		health:     resource.Healthy,
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.detector == nil {
		return nil, fmt.Errorf("resource detector is required")
	}
	if s.cache == nil {
		s.cache = cache.New(cache.Config{MaxSize: s.config.CacheMaxSize})
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.breaker == nil && s.config.EnableCircuitBreaker {
		s.breaker = breaker.New(breaker.DefaultConfig())
	}
	for _, p := range priority.All() {
		s.tiers[p] = &tier{priority: p, maxSize: s.config.MaxPoolSize}
	}
	return s, nil
}

// Start seeds each tier to the configured minimum and launches the periodic
// cleanup sweep.
func (s *Service) Start(ctx context.Context) error {
	sys, err := s.detector.GetCurrentResources(ctx)
	if err != nil {
		return fmt.Errorf("failed to read system resources: %w", err)
	}

	s.mu.Lock()
	now := clock.Now()
	for _, t := range s.tiers {
		for len(t.resources) < s.config.MinPoolSize && len(t.resources) < t.maxSize {
			t.resources = append(t.resources, s.newResource(sys, t.priority, now))
		}
		t.recompute(now, s.config.ResourceTimeout)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.cleanupLoop(ctx)
	return nil
}

// Allocate leases a resource for the request. It consults the allocation
// cache first, then runs the admission-checked tier scan through the circuit
// breaker.
func (s *Service) Allocate(ctx context.Context, request *Request) (ret *resource.Resource, err error) {
	ctx, span := tracing.StartSpan(ctx, "pool.Allocate", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	if request == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if !request.Priority.IsValid() {
		s.metrics.RecordFailure()
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, request.Priority)
	}
	started := clock.Now()
	key := request.fingerprint()

	if cached, ok := s.cache.Get(key); ok {
		s.mu.Lock()
		now := clock.Now()
		if !cached.Stale(now, s.config.ResourceTimeout) && !cached.LeaseExpired(now) {
			cached.LastUsedAt = now
			s.mu.Unlock()
			s.metrics.RecordAllocation(clock.Now().Sub(started))
			return cached, nil
		}
		s.mu.Unlock()
		s.cache.Remove(key)
	}

	allocate := func(ctx context.Context) error {
		ret, err = s.allocate(ctx, request)
		return err
	}
	if s.breaker != nil {
		if breakerErr := s.breaker.Execute(ctx, allocate); breakerErr != nil {
			s.metrics.RecordFailure()
			return nil, breakerErr
		}
	} else if err = allocate(ctx); err != nil {
		s.metrics.RecordFailure()
		return nil, err
	}

	s.mu.Lock()
	s.keys[ret.ID] = key
	s.mu.Unlock()
	s.cache.Put(key, ret)
	s.metrics.RecordAllocation(clock.Now().Sub(started))
	return ret, nil
}

// allocate performs the admission check and the tier scan. The external
// availability call happens before the lock is taken.
func (s *Service) allocate(ctx context.Context, request *Request) (*resource.Resource, error) {
	availability, err := s.detector.GetAvailability(ctx)
	if err != nil {
		return nil, fmt.Errorf("availability check failed: %w", err)
	}
	if availability.Memory.Available < request.MemoryMB || availability.CPU.Available < request.CPU {
		return nil, fmt.Errorf("%w: insufficient system capacity", ErrResourceExhausted)
	}
	sys, err := s.detector.GetCurrentResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read system resources: %w", err)
	}

	s.mu.Lock()
	s.availability = availability
	now := clock.Now()

	t, ok := s.tiers[request.Priority]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, request.Priority)
	}

	found := t.findAvailable(request, now, s.config.ResourceTimeout, s.metrics.AverageLatency())
	if found == nil {
		if len(t.resources) >= t.maxSize {
			t.recompute(now, s.config.ResourceTimeout)
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: tier %q at capacity", ErrResourceExhausted, request.Priority)
		}
		found = s.newResource(sys, request.Priority, now)
		found.Kind = request.Kind
		t.resources = append(t.resources, found)
	}

	leaseTimeout := request.LeaseTimeout
	if leaseTimeout <= 0 {
		leaseTimeout = s.config.DefaultLeaseTimeout
	}
	allocatedAt := now
	found.Available = false
	found.AllocatedAt = &allocatedAt
	found.LastUsedAt = now
	found.LeaseTimeout = leaseTimeout
	found.Status.Utilization = 1
	found.Status.UpdatedAt = now

	t.recompute(now, s.config.ResourceTimeout)
	transition := s.recomputeHealthLocked(now)
	s.mu.Unlock()

	s.publishTransition(transition)
	return found, nil
}

// Release returns a resource to its tier. A resource from an unknown tier
// fails with ErrInvalidPool; one no longer tracked, or already stale, fails
// with ErrResourceStale and nothing is mutated.
func (s *Service) Release(ctx context.Context, res *resource.Resource) error {
	if res == nil {
		return fmt.Errorf("resource cannot be nil")
	}

	s.mu.Lock()
	t, ok := s.tiers[res.Tier]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: tier %q", ErrInvalidPool, res.Tier)
	}
	i := t.index(res.ID)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: resource %s not tracked by tier %q", ErrResourceStale, res.ID, res.Tier)
	}
	now := clock.Now()
	if res.Stale(now, s.config.ResourceTimeout) {
		s.mu.Unlock()
		return fmt.Errorf("%w: resource %s", ErrResourceStale, res.ID)
	}

	res.Available = true
	res.AllocatedAt = nil
	res.LastUsedAt = now
	res.Status.Utilization = 0
	res.Status.UpdatedAt = now

	key := s.keys[res.ID]
	delete(s.keys, res.ID)

	t.recompute(now, s.config.ResourceTimeout)
	transition := s.recomputeHealthLocked(now)
	s.mu.Unlock()

	if key != "" {
		s.cache.Remove(key)
	}
	s.metrics.RecordRelease()
	s.publishTransition(transition)
	return nil
}

// Optimize grows the pool by one resource per tier with headroom when
// observed utilization exceeds the grow threshold, or shrinks each tier by up
// to 10% of its idle-and-stale resources when utilization drops below the
// shrink threshold, never below the configured minimum.
func (s *Service) Optimize(ctx context.Context, observed Snapshot) error {
	switch {
	case observed.UtilizationRate > s.config.GrowUtilization:
		sys, err := s.detector.GetCurrentResources(ctx)
		if err != nil {
			return fmt.Errorf("failed to read system resources: %w", err)
		}
		s.mu.Lock()
		now := clock.Now()
		for _, t := range s.tiers {
			if len(t.resources) < t.maxSize {
				t.resources = append(t.resources, s.newResource(sys, t.priority, now))
				t.recompute(now, s.config.ResourceTimeout)
			}
		}
		transition := s.recomputeHealthLocked(now)
		s.mu.Unlock()
		s.publishTransition(transition)

	case observed.UtilizationRate < s.config.ShrinkUtilization:
		s.mu.Lock()
		now := clock.Now()
		for _, t := range s.tiers {
			budget := len(t.resources) / 10
			if budget == 0 && len(t.resources) > s.config.MinPoolSize {
				budget = 1
			}
			for i := len(t.resources) - 1; i >= 0 && budget > 0; i-- {
				if len(t.resources) <= s.config.MinPoolSize {
					break
				}
				r := t.resources[i]
				if r.Available && r.Stale(now, s.config.ResourceTimeout) {
					t.remove(i)
					budget--
				}
			}
			t.recompute(now, s.config.ResourceTimeout)
		}
		transition := s.recomputeHealthLocked(now)
		s.mu.Unlock()
		s.publishTransition(transition)
	}
	return nil
}

// Monitor returns the current pool status without mutating membership.
func (s *Service) Monitor() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := clock.Now()
	busy, total := 0, 0
	for _, t := range s.tiers {
		b, n := t.counts(now, s.config.ResourceTimeout)
		busy += b
		total += n
	}
	utilization := 0.0
	if total > 0 {
		utilization = float64(busy) / float64(total)
	}
	return Status{
		Health:        s.health,
		Utilization:   utilization,
		ResourceCount: total,
		LastUpdated:   s.lastUpdated,
	}
}

// Metrics exposes the pool's rolling counters.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// TierSize returns the number of resources currently in the tier, stale or
// not. It exists for observability and tests.
func (s *Service) TierSize(p priority.Priority) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tiers[p]; ok {
		return len(t.resources)
	}
	return 0
}

// TierUtilization returns the tier's derived utilization.
func (s *Service) TierUtilization(p priority.Priority) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tiers[p]; ok {
		return t.utilization
	}
	return 0
}

// Shutdown stops the cleanup loop and clears cached state. Safe to call more
// than once.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		s.wg.Wait()
		s.cache.Clear()
		s.mu.Lock()
		s.keys = map[string]string{}
		s.mu.Unlock()
	})
}

// cleanupLoop runs the periodic staleness sweep. Failures are logged and the
// next tick retries.
func (s *Service) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			if err := s.cleanup(ctx); err != nil {
				log.Printf("pool cleanup failed: %v", err)
			}
		}
	}
}

// cleanup removes resources that are stale or whose lease expired, then
// recomputes tier utilization and the pool health state.
func (s *Service) cleanup(ctx context.Context) error {
	availability, err := s.detector.GetAvailability(ctx)

	s.mu.Lock()
	if err == nil {
		s.availability = availability
	}
	now := clock.Now()
	var evicted []string
	for _, t := range s.tiers {
		for i := len(t.resources) - 1; i >= 0; i-- {
			r := t.resources[i]
			if r.Stale(now, s.config.ResourceTimeout) || r.LeaseExpired(now) {
				t.remove(i)
				evicted = append(evicted, r.ID)
			}
		}
		t.recompute(now, s.config.ResourceTimeout)
	}
	var keys []string
	for _, id := range evicted {
		if key, ok := s.keys[id]; ok {
			keys = append(keys, key)
			delete(s.keys, id)
		}
	}
	transition := s.recomputeHealthLocked(now)
	s.mu.Unlock()

	for _, key := range keys {
		s.cache.Remove(key)
	}
	s.publishTransition(transition)
	return err
}

// recomputeHealthLocked derives the pool health state. External availability
// dominates when it is itself degraded; otherwise the peak of memory, cpu and
// pool utilization is compared against the thresholds. A non-nil transition
// is returned only when the state actually changed.
func (s *Service) recomputeHealthLocked(now time.Time) *HealthTransition {
	busy, total := 0, 0
	for _, t := range s.tiers {
		b, n := t.counts(now, s.config.ResourceTimeout)
		busy += b
		total += n
	}
	utilization := 0.0
	if total > 0 {
		utilization = float64(busy) / float64(total)
	}
	s.metrics.SetUtilization(utilization)

	next := resource.Healthy
	if s.availability != nil && s.availability.Status != resource.Healthy {
		next = s.availability.Status
	} else {
		peak := utilization
		if s.availability != nil {
			if s.availability.Memory.Utilization > peak {
				peak = s.availability.Memory.Utilization
			}
			if s.availability.CPU.Utilization > peak {
				peak = s.availability.CPU.Utilization
			}
		}
		switch {
		case peak >= s.config.CriticalThreshold:
			next = resource.Critical
		case peak >= s.config.WarningThreshold:
			next = resource.Warning
		}
	}

	s.lastUpdated = now
	if next == s.health {
		return nil
	}
	transition := &HealthTransition{From: s.health, To: next, Utilization: utilization, At: now}
	s.health = next
	return transition
}

// publishTransition delivers an edge-triggered health notification. Publish
// failures are logged; health consumers self-heal on the next transition.
func (s *Service) publishTransition(transition *HealthTransition) {
	if transition == nil || s.publisher == nil {
		return
	}
	eCtx := &event.Context{Component: "pool", Operation: "health", EventType: "stateChange"}
	if err := s.publisher.Publish(context.Background(), event.NewEvent(eCtx, *transition)); err != nil {
		log.Printf("failed to publish health transition: %v", err)
	}
}

// newResource synthesises a resource sized as a per-tier share of total
// system memory and cores.
func (s *Service) newResource(sys *detector.SystemResources, p priority.Priority, now time.Time) *resource.Resource {
	shareMB := 0.0
	cores := 0
	if sys != nil && s.config.MaxPoolSize > 0 {
		shareMB = sys.MemoryTotalMB / float64(s.config.MaxPoolSize)
		cores = sys.CPUCores
	}
	return &resource.Resource{
		ID:         idgen.New(),
		Kind:       resource.KindMemory,
		Tier:       p,
		Available:  true,
		LastUsedAt: now,
		Status: resource.Status{
			Health:    resource.Healthy,
			UpdatedAt: now,
		},
		Metrics: resource.Metrics{
			Memory: resource.MemoryMetrics{
				TotalMB:     shareMB,
				AvailableMB: shareMB,
			},
			CPU: resource.CPUMetrics{
				Threads: cores,
			},
		},
	}
}
