// Package allocator translates a routing decision into a concrete resource
// budget and reserves it against a single shared pool of memory, cpu and
// throughput units. Reservations are time-bounded; a background sweep returns
// expired ones to the pool.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/viant/taskpool/internal/clock"
	"github.com/viant/taskpool/internal/idgen"
	"github.com/viant/taskpool/model/route"
	"github.com/viant/taskpool/service/pool"
	"github.com/viant/taskpool/tracing"
)

// ErrUnknownReservation is returned when releasing a reservation the
// allocator does not track.
var ErrUnknownReservation = errors.New("unknown reservation")

// cpu budgets are tracked in thousandths of a core so the semaphore can stay
// integral
const milliCPU = 1000

// shortfall optimization factors, applied once per allocation attempt
const (
	memoryScaleFactor = 0.8
	cpuScaleFactor    = 0.85
	tokensScaleFactor = 0.9
)

// constraint ceilings hand the caller a small buffer over what was granted
const constraintBuffer = 1.1

// Config holds the allocator's budget ceilings and reservation timing.
type Config struct {
	MaxMemoryMB        float64       `json:"maxMemoryMB" yaml:"maxMemoryMB"`
	MaxCPU             float64       `json:"maxCPU" yaml:"maxCPU"`
	MaxTokensPerSecond float64       `json:"maxTokensPerSecond" yaml:"maxTokensPerSecond"`
	DefaultTimeout     time.Duration `json:"defaultTimeout" yaml:"defaultTimeout"`
	MaxTimeout         time.Duration `json:"maxTimeout" yaml:"maxTimeout"`
	MinTimeout         time.Duration `json:"minTimeout" yaml:"minTimeout"`
	// SweepInterval is how often expired reservations are returned to the pool.
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
}

// DefaultConfig returns allocator defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemoryMB:        8192,
		MaxCPU:             4,
		MaxTokensPerSecond: 1000,
		DefaultTimeout:     30 * time.Second,
		MaxTimeout:         5 * time.Minute,
		MinTimeout:         5 * time.Second,
		SweepInterval:      10 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MaxMemoryMB <= 0 || c.MaxCPU <= 0 || c.MaxTokensPerSecond <= 0 {
		return fmt.Errorf("budget ceilings must be positive: memoryMB=%v cpu=%v tokensPerSecond=%v",
			c.MaxMemoryMB, c.MaxCPU, c.MaxTokensPerSecond)
	}
	if c.MinTimeout > c.MaxTimeout {
		return fmt.Errorf("minTimeout %v exceeds maxTimeout %v", c.MinTimeout, c.MaxTimeout)
	}
	return nil
}

type reservation struct {
	id        string
	memoryMB  int64
	cpuMilli  int64
	tokens    int64
	expiresAt time.Time
	released  bool
}

// Service is the resource allocator.
type Service struct {
	config Config

	memory *semaphore.Weighted
	cpu    *semaphore.Weighted
	tokens *semaphore.Weighted

	mu           sync.Mutex
	reservations map[string]*reservation

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates an allocator with the supplied options.
func New(options ...Option) (*Service, error) {
	srv := &Service{
		config:       DefaultConfig(),
		reservations: make(map[string]*reservation),
		shutdownCh:   make(chan struct{}),
	}
	for _, option := range options {
		option(srv)
	}
	if err := srv.config.Validate(); err != nil {
		return nil, err
	}
	srv.memory = semaphore.NewWeighted(int64(math.Ceil(srv.config.MaxMemoryMB)))
	srv.cpu = semaphore.NewWeighted(int64(math.Ceil(srv.config.MaxCPU * milliCPU)))
	srv.tokens = semaphore.NewWeighted(int64(math.Ceil(srv.config.MaxTokensPerSecond)))
	return srv, nil
}

// Start launches the reservation expiry sweep.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.sweepLoop(ctx)
}

// Shutdown stops the sweep and returns all live reservations to the pool.
// Safe to call more than once.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.reservations {
		s.releaseLocked(entry)
	}
}

// AllocateResources computes a budget from the route's estimated costs and
// reserves it. On shortfall it scales the contended dimensions down once and
// retries; only when the scaled budget still cannot be met does it fail.
func (s *Service) AllocateResources(ctx context.Context, options *route.Options) (ret *route.AllocationResult, err error) {
	_, span := tracing.StartSpan(ctx, "allocator.AllocateResources", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	need := budgetFor(options, s.config)
	granted, ok := s.tryReserve(need)
	if !ok {
		need = optimizeBudget(need)
		granted, ok = s.tryReserve(need)
	}
	if !ok {
		return nil, fmt.Errorf("budget pool cannot satisfy memoryMB=%d cpuMilli=%d tokens=%d: %w",
			need.memoryMB, need.cpuMilli, need.tokens, pool.ErrResourceExhausted)
	}

	timeout := s.reservationTimeout(granted)
	entry := &reservation{
		id:        idgen.New(),
		memoryMB:  granted.memoryMB,
		cpuMilli:  granted.cpuMilli,
		tokens:    granted.tokens,
		expiresAt: clock.Now().Add(timeout),
	}
	s.mu.Lock()
	s.reservations[entry.id] = entry
	s.mu.Unlock()

	allocated := route.Budget{
		MemoryMB:        float64(granted.memoryMB),
		CPU:             float64(granted.cpuMilli) / milliCPU,
		TokensPerSecond: float64(granted.tokens),
	}
	return &route.AllocationResult{
		ReservationID: entry.id,
		Allocated:     allocated,
		Constraints: route.Budget{
			MemoryMB:        allocated.MemoryMB * constraintBuffer,
			CPU:             allocated.CPU * constraintBuffer,
			TokensPerSecond: allocated.TokensPerSecond * constraintBuffer,
		},
		Priority: options.Constraints.Priority,
		Timeout:  timeout,
	}, nil
}

// ReleaseResources returns a reservation's exact amounts to the pool.
// Releasing twice is a no-op the second time.
func (s *Service) ReleaseResources(reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.reservations[reservationID]
	if !ok {
		return fmt.Errorf("reservation %v: %w", reservationID, ErrUnknownReservation)
	}
	s.releaseLocked(entry)
	delete(s.reservations, reservationID)
	return nil
}

// Reserved returns the number of live reservations.
func (s *Service) Reserved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

type budget struct {
	memoryMB int64
	cpuMilli int64
	tokens   int64
}

// budgetFor derives integral budget units from the route's estimated costs,
// falling back to a small default slice of each ceiling when a cost is
// unspecified.
func budgetFor(options *route.Options, config Config) budget {
	memoryMB := options.Costs.MemoryMB
	if memoryMB <= 0 {
		memoryMB = config.MaxMemoryMB * 0.1
	}
	cpu := options.Costs.CPU
	if cpu <= 0 {
		cpu = config.MaxCPU * 0.1
	}
	tokens := options.Costs.TokensPerSecond
	if tokens <= 0 {
		tokens = config.MaxTokensPerSecond * 0.1
	}
	return budget{
		memoryMB: int64(math.Ceil(math.Min(memoryMB, config.MaxMemoryMB))),
		cpuMilli: int64(math.Ceil(math.Min(cpu, config.MaxCPU) * milliCPU)),
		tokens:   int64(math.Ceil(math.Min(tokens, config.MaxTokensPerSecond))),
	}
}

// optimizeBudget scales each dimension down by its contention factor. This is
// the one-shot renegotiation applied before giving up.
func optimizeBudget(need budget) budget {
	return budget{
		memoryMB: int64(math.Ceil(float64(need.memoryMB) * memoryScaleFactor)),
		cpuMilli: int64(math.Ceil(float64(need.cpuMilli) * cpuScaleFactor)),
		tokens:   int64(math.Ceil(float64(need.tokens) * tokensScaleFactor)),
	}
}

// tryReserve acquires all three dimensions or none.
func (s *Service) tryReserve(need budget) (budget, bool) {
	if !s.memory.TryAcquire(need.memoryMB) {
		return budget{}, false
	}
	if !s.cpu.TryAcquire(need.cpuMilli) {
		s.memory.Release(need.memoryMB)
		return budget{}, false
	}
	if !s.tokens.TryAcquire(need.tokens) {
		s.memory.Release(need.memoryMB)
		s.cpu.Release(need.cpuMilli)
		return budget{}, false
	}
	return need, true
}

func (s *Service) releaseLocked(entry *reservation) {
	if entry.released {
		return
	}
	entry.released = true
	s.memory.Release(entry.memoryMB)
	s.cpu.Release(entry.cpuMilli)
	s.tokens.Release(entry.tokens)
}

// reservationTimeout scales the default timeout with the reservation's cost
// relative to the configured maxima, clamped to [MinTimeout, MaxTimeout].
// Expensive reservations get proportionally longer to run.
func (s *Service) reservationTimeout(granted budget) time.Duration {
	memoryRatio := float64(granted.memoryMB) / s.config.MaxMemoryMB
	cpuRatio := float64(granted.cpuMilli) / (s.config.MaxCPU * milliCPU)
	tokensRatio := float64(granted.tokens) / s.config.MaxTokensPerSecond
	ratio := (memoryRatio + cpuRatio + tokensRatio) / 3
	timeout := time.Duration(float64(s.config.DefaultTimeout) * (1 + ratio))
	if timeout < s.config.MinTimeout {
		timeout = s.config.MinTimeout
	}
	if timeout > s.config.MaxTimeout {
		timeout = s.config.MaxTimeout
	}
	return timeout
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if count := s.sweepExpired(clock.Now()); count > 0 {
				log.Printf("allocator: returned %d expired reservations", count)
			}
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		}
	}
}

// sweepExpired returns expired reservations to the pool and reports how many
// were reclaimed.
func (s *Service) sweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	for id, entry := range s.reservations {
		if now.After(entry.expiresAt) {
			s.releaseLocked(entry)
			delete(s.reservations, id)
			count++
		}
	}
	return count
}
