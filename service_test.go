package taskpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/taskpool/model/node"
	"github.com/viant/taskpool/model/priority"
	"github.com/viant/taskpool/model/resource"
	"github.com/viant/taskpool/model/route"
	"github.com/viant/taskpool/model/task"
	"github.com/viant/taskpool/service/detector"
	"github.com/viant/taskpool/service/router"
)

type testExecutor struct {
	id           string
	capabilities map[string]route.Capability
	metrics      route.ExecutorMetrics
}

func (e *testExecutor) ID() string                                { return e.id }
func (e *testExecutor) Capabilities() map[string]route.Capability { return e.capabilities }
func (e *testExecutor) Metrics() route.ExecutorMetrics            { return e.metrics }

func newTestDetector() *detector.Static {
	return detector.NewStatic(detector.Availability{
		Status: resource.Healthy,
		Memory: detector.Utilization{Utilization: 0.2, Available: 8192},
		CPU:    detector.Utilization{Utilization: 0.1, Available: 8},
	}, detector.SystemResources{MemoryTotalMB: 8192, CPUCores: 8})
}

func newTestService(t *testing.T) *Service {
	srv, err := New(WithDetector(newTestDetector()))
	require.NoError(t, err)
	return srv
}

func TestDispatchEndToEnd(t *testing.T) {
	srv := newTestService(t)

	aTask := &task.Task{
		ID:   "t1",
		Type: "compute",
		Requirements: task.Requirements{
			Primary:  "translate",
			MemoryMB: 256,
			CPU:      0.25,
		},
		Constraints: task.Constraints{Priority: priority.High},
	}
	candidates := []route.Executor{
		&testExecutor{
			id:           "exec1",
			capabilities: map[string]route.Capability{"translate": {Score: 0.9, Confidence: 0.9}},
			metrics:      route.ExecutorMetrics{Latency: 100 * time.Millisecond, CPU: 0.2, MemoryMB: 512},
		},
	}
	nodes := []node.Health{{ID: "n1", Status: node.Healthy}}

	placement, err := srv.Dispatch(context.Background(), aTask, candidates, nodes)
	require.NoError(t, err)
	assert.Equal(t, "t1", placement.TaskID)
	assert.Equal(t, "exec1", placement.Route.Primary)
	assert.Equal(t, "n1", placement.NodeID)
	require.NotNil(t, placement.Resource)
	assert.False(t, placement.Resource.Available)
	assert.NotEmpty(t, placement.Allocation.ReservationID)
	assert.Equal(t, 1, srv.Runtime().Allocator().Reserved())

	require.NoError(t, srv.Complete(context.Background(), placement, true, 50*time.Millisecond))
	assert.Equal(t, 0, srv.Runtime().Allocator().Reserved())
	assert.True(t, placement.Resource.Available)
}

func TestDispatchNoViableRoute(t *testing.T) {
	srv := newTestService(t)

	aTask := &task.Task{
		ID:           "t1",
		Requirements: task.Requirements{Primary: "translate"},
	}
	_, err := srv.Dispatch(context.Background(), aTask, nil, nil)
	assert.ErrorIs(t, err, router.ErrNoViableRoute)
}

func TestDispatchReleasesBudgetOnPlacementFailure(t *testing.T) {
	srv := newTestService(t)

	aTask := &task.Task{
		ID:           "t1",
		Requirements: task.Requirements{Primary: "translate"},
	}
	candidates := []route.Executor{
		&testExecutor{
			id:           "exec1",
			capabilities: map[string]route.Capability{"translate": {Score: 0.9}},
			metrics:      route.ExecutorMetrics{Latency: 100 * time.Millisecond, CPU: 0.2, MemoryMB: 512},
		},
	}
	// every node is down, placement must fail and return the reservation
	nodes := []node.Health{{ID: "n1", Status: node.Failed}}

	_, err := srv.Dispatch(context.Background(), aTask, candidates, nodes)
	require.Error(t, err)
	assert.Equal(t, 0, srv.Runtime().Allocator().Reserved())
	assert.Zero(t, srv.Runtime().Pool().Monitor().Utilization)
}

func TestRuntimeLifecycle(t *testing.T) {
	srv := newTestService(t)
	rt := srv.Runtime()

	require.NoError(t, rt.Start(context.Background()))
	assert.Positive(t, rt.Pool().Monitor().ResourceCount)

	rt.Shutdown()
	assert.NotPanics(t, rt.Shutdown)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Pool.MaxPoolSize = 0
	_, err := New(WithConfig(config), WithDetector(newTestDetector()))
	assert.Error(t, err)
}
