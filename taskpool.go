package taskpool

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/viant/taskpool/model/node"
	"github.com/viant/taskpool/model/priority"
	"github.com/viant/taskpool/model/resource"
	"github.com/viant/taskpool/model/route"
	"github.com/viant/taskpool/model/task"
	"github.com/viant/taskpool/service/allocator"
	"github.com/viant/taskpool/service/balancer"
	"github.com/viant/taskpool/service/breaker"
	"github.com/viant/taskpool/service/cache"
	"github.com/viant/taskpool/service/detector"
	"github.com/viant/taskpool/service/event"
	"github.com/viant/taskpool/service/pool"
	"github.com/viant/taskpool/service/router"
)

// Service is the high level façade wiring the resource pool, routing engine,
// allocator and load balancer together.
type Service struct {
	config     *Config
	runtime    *Runtime
	detector   detector.Service
	events     *event.Service
	breaker    *breaker.CircuitBreaker
	registerer prometheus.Registerer
}

// Placement is the outcome of dispatching one task.
type Placement struct {
	TaskID     string
	Route      *route.Options
	Resource   *resource.Resource
	Allocation *route.AllocationResult
	NodeID     string
}

// New creates a fully wired service. Collaborators not supplied through
// options fall back to their package defaults.
func New(options ...Option) (*Service, error) {
	srv := &Service{runtime: &Runtime{}}
	for _, option := range options {
		option(srv)
	}
	if err := srv.init(); err != nil {
		return nil, err
	}
	return srv, nil
}

func (s *Service) init() error {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.detector == nil {
		s.detector = detector.NewSystem()
	}
	if s.events == nil {
		s.events = event.New()
	}
	if s.breaker == nil {
		s.breaker = breaker.New(s.config.Breaker)
	}

	poolOptions := []pool.Option{
		pool.WithConfig(s.config.Pool),
		pool.WithDetector(s.detector),
		pool.WithBreaker(s.breaker),
		pool.WithCache(cache.New(s.config.Cache)),
		pool.WithEventService(s.events),
	}
	if s.registerer != nil {
		poolOptions = append(poolOptions, pool.WithMetricsRegisterer(s.registerer))
	}
	var err error
	if s.runtime.pool, err = pool.New(poolOptions...); err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	if s.runtime.router, err = router.New(router.WithConfig(s.config.Router)); err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	if s.runtime.allocator, err = allocator.New(allocator.WithConfig(s.config.Allocator)); err != nil {
		return fmt.Errorf("failed to create allocator: %w", err)
	}
	if s.runtime.balancer, err = balancer.New(balancer.WithConfig(s.config.Balancer)); err != nil {
		return fmt.Errorf("failed to create balancer: %w", err)
	}
	s.runtime.events = s.events
	return nil
}

// Runtime exposes the wired components and their lifecycle.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// Dispatch routes a task, leases a pool resource for the chosen route,
// reserves a matching budget and places the task on a node. Whatever was
// acquired is returned before a failure surfaces.
func (s *Service) Dispatch(ctx context.Context, aTask *task.Task, candidates []route.Executor, nodes []node.Health) (*Placement, error) {
	options, err := s.runtime.router.CalculateRoutes(ctx, aTask, candidates)
	if err != nil {
		return nil, err
	}
	leased, err := s.runtime.pool.Allocate(ctx, poolRequest(aTask))
	if err != nil {
		return nil, err
	}
	allocation, err := s.runtime.allocator.AllocateResources(ctx, options)
	if err != nil {
		if releaseErr := s.runtime.pool.Release(ctx, leased); releaseErr != nil {
			err = fmt.Errorf("%w (release failed: %v)", err, releaseErr)
		}
		return nil, err
	}
	distribution, err := s.runtime.balancer.DistributeLoad(ctx, []*task.Task{aTask}, nodes)
	if err == nil && len(distribution.Unassigned) > 0 {
		err = fmt.Errorf("no node can take task %v", aTask.ID)
	}
	if err != nil {
		if releaseErr := s.runtime.allocator.ReleaseResources(allocation.ReservationID); releaseErr != nil {
			err = fmt.Errorf("%w (release failed: %v)", err, releaseErr)
		}
		if releaseErr := s.runtime.pool.Release(ctx, leased); releaseErr != nil {
			err = fmt.Errorf("%w (release failed: %v)", err, releaseErr)
		}
		return nil, err
	}
	return &Placement{
		TaskID:     aTask.ID,
		Route:      options,
		Resource:   leased,
		Allocation: allocation,
		NodeID:     distribution.Assignments[aTask.ID],
	}, nil
}

// Complete returns a placement's resource and budget and feeds the observed
// outcome back into the routing engine's history.
func (s *Service) Complete(ctx context.Context, placement *Placement, success bool, latency time.Duration) error {
	if placement == nil {
		return nil
	}
	s.runtime.router.RecordOutcome(placement.Route.Primary, success, latency)
	if err := s.runtime.pool.Release(ctx, placement.Resource); err != nil {
		return err
	}
	return s.runtime.allocator.ReleaseResources(placement.Allocation.ReservationID)
}

// poolRequest derives a pool lease request from a task.
func poolRequest(aTask *task.Task) *pool.Request {
	p := aTask.Constraints.Priority
	if !p.IsValid() {
		p = priority.Medium
	}
	capabilities := make([]string, 0, 1+len(aTask.Requirements.Secondary))
	if aTask.Requirements.Primary != "" {
		capabilities = append(capabilities, aTask.Requirements.Primary)
	}
	capabilities = append(capabilities, aTask.Requirements.Secondary...)
	return &pool.Request{
		Kind:         resource.KindMemory,
		Priority:     p,
		Capabilities: capabilities,
		MemoryMB:     aTask.Requirements.MemoryMB,
		CPU:          aTask.Requirements.CPU,
		MaxLatency:   aTask.Constraints.MaxLatency,
	}
}
