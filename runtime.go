package taskpool

import (
	"context"
	"sync"

	"github.com/viant/taskpool/service/allocator"
	"github.com/viant/taskpool/service/balancer"
	"github.com/viant/taskpool/service/event"
	"github.com/viant/taskpool/service/pool"
	"github.com/viant/taskpool/service/router"
)

// Runtime owns the wired components and their background loops.
type Runtime struct {
	pool      *pool.Service
	router    *router.Service
	allocator *allocator.Service
	balancer  *balancer.Service
	events    *event.Service

	shutdownOnce sync.Once
}

// Pool returns the resource pool.
func (r *Runtime) Pool() *pool.Service { return r.pool }

// Router returns the routing engine.
func (r *Runtime) Router() *router.Service { return r.router }

// Allocator returns the resource allocator.
func (r *Runtime) Allocator() *allocator.Service { return r.allocator }

// Balancer returns the load balancer.
func (r *Runtime) Balancer() *balancer.Service { return r.balancer }

// Events returns the event service carrying health transitions.
func (r *Runtime) Events() *event.Service { return r.events }

// Start seeds the pool and launches the background loops: pool cleanup and
// the allocator's reservation expiry sweep.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.pool.Start(ctx); err != nil {
		return err
	}
	r.allocator.Start(ctx)
	return nil
}

// Shutdown stops background loops and releases all held state. Safe to call
// more than once.
func (r *Runtime) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.pool.Shutdown()
		r.allocator.Shutdown()
		r.events.Shutdown()
	})
}
