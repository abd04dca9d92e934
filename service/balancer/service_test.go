package balancer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/taskpool/internal/clock"
	"github.com/viant/taskpool/model/node"
	"github.com/viant/taskpool/model/priority"
	"github.com/viant/taskpool/model/task"
)

func stubClock(t *testing.T) *time.Time {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := clock.NowFunc
	clock.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { clock.NowFunc = prev })
	return &now
}

func newBalancer(t *testing.T, options ...Option) *Service {
	service, err := New(options...)
	require.NoError(t, err)
	return service
}

func simpleTask(id string, p priority.Priority) *task.Task {
	return &task.Task{
		ID:          id,
		Type:        "compute",
		Constraints: task.Constraints{Priority: p},
	}
}

func TestDistributeLoadSpreadsAcrossNodes(t *testing.T) {
	service := newBalancer(t)
	tasks := []*task.Task{
		simpleTask("t1", priority.Medium),
		simpleTask("t2", priority.Medium),
		simpleTask("t3", priority.Medium),
	}
	nodes := []node.Health{
		{ID: "n1", Status: node.Healthy},
		{ID: "n2", Status: node.Healthy},
	}

	distribution, err := service.DistributeLoad(context.Background(), tasks, nodes)
	require.NoError(t, err)
	assert.Len(t, distribution.Assignments, 3)
	assert.Empty(t, distribution.Unassigned)
	assert.InDelta(t, 3.0, distribution.Loads["n1"]+distribution.Loads["n2"], 1e-9)
	// greedy lowest-load placement keeps the spread within one task
	assert.LessOrEqual(t, distribution.Loads["n1"], 2.0)
	assert.LessOrEqual(t, distribution.Loads["n2"], 2.0)
}

func TestDistributeLoadExcludesFailedNodes(t *testing.T) {
	service := newBalancer(t)
	nodes := []node.Health{
		{ID: "dead", Status: node.Failed},
		{ID: "alive", Status: node.Healthy},
	}

	distribution, err := service.DistributeLoad(context.Background(), []*task.Task{simpleTask("t1", priority.Low)}, nodes)
	require.NoError(t, err)
	assert.Equal(t, "alive", distribution.Assignments["t1"])
	_, tracked := distribution.Loads["dead"]
	assert.False(t, tracked)
}

func TestDistributeLoadDegradedNodesOnlyTakeLowPriority(t *testing.T) {
	service := newBalancer(t)
	nodes := []node.Health{{ID: "shaky", Status: node.Degraded}}

	distribution, err := service.DistributeLoad(context.Background(), []*task.Task{
		simpleTask("urgent", priority.Critical),
		simpleTask("routine", priority.Low),
	}, nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent"}, distribution.Unassigned)
	assert.Equal(t, "shaky", distribution.Assignments["routine"])
}

func TestDistributeLoadHonorsCapacity(t *testing.T) {
	service := newBalancer(t)
	nodes := []node.Health{{ID: "small", Status: node.Healthy, CapacityUnits: 1}}

	distribution, err := service.DistributeLoad(context.Background(), []*task.Task{
		simpleTask("t1", priority.Medium),
		simpleTask("t2", priority.Medium),
	}, nodes)
	require.NoError(t, err)
	assert.Len(t, distribution.Assignments, 1)
	assert.Len(t, distribution.Unassigned, 1)
}

func TestDistributeLoadHonorsLatencyConstraint(t *testing.T) {
	service := newBalancer(t)
	nodes := []node.Health{
		{ID: "slow", Status: node.Healthy, ResponseTime: time.Second},
		{ID: "fast", Status: node.Healthy, ResponseTime: 10 * time.Millisecond},
	}
	aTask := simpleTask("t1", priority.Medium)
	aTask.Constraints.MaxLatency = 100 * time.Millisecond

	distribution, err := service.DistributeLoad(context.Background(), []*task.Task{aTask}, nodes)
	require.NoError(t, err)
	assert.Equal(t, "fast", distribution.Assignments["t1"])
}

func TestRebalanceBelowTargetsReturnsNil(t *testing.T) {
	stubClock(t)
	service := newBalancer(t)
	plan := service.Rebalance(map[string]NodeLoad{
		"n1": {Utilization: 0.5},
		"n2": {Utilization: 0.5},
	})
	assert.Nil(t, plan)
}

func TestRebalanceProposesMovesOnSkew(t *testing.T) {
	now := stubClock(t)
	service := newBalancer(t)
	observed := map[string]NodeLoad{
		"hot":  {Utilization: 0.9},
		"cold": {Utilization: 0.1},
	}

	plan := service.Rebalance(observed)
	require.NotNil(t, plan)
	require.Len(t, plan.Moves, 1)
	assert.Equal(t, "hot", plan.Moves[0].From)
	assert.Equal(t, "cold", plan.Moves[0].To)
	assert.InDelta(t, 0.2, plan.Moves[0].Load, 1e-9)
	assert.GreaterOrEqual(t, plan.Improvement, service.config.MinImprovement)

	// a second proposal inside the minimum interval is suppressed
	assert.Nil(t, service.Rebalance(observed))

	*now = now.Add(service.config.RebalanceInterval + time.Second)
	assert.NotNil(t, service.Rebalance(observed))
}

func TestRebalanceRequiresMinimumImprovement(t *testing.T) {
	stubClock(t)
	config := DefaultConfig()
	config.MinImprovement = 0.5
	service := newBalancer(t, WithConfig(config))

	plan := service.Rebalance(map[string]NodeLoad{
		"hot":  {Utilization: 0.9},
		"cold": {Utilization: 0.1},
	})
	assert.Nil(t, plan)
}

func TestApplyIsIdempotent(t *testing.T) {
	service := newBalancer(t)
	plan := &RebalancePlan{ID: "plan-1"}
	assert.True(t, service.Apply(plan))
	assert.False(t, service.Apply(plan))
	assert.False(t, service.Apply(nil))
}

func TestHandleSpikes(t *testing.T) {
	config := DefaultConfig()
	config.SpikeThreshold = 100
	service := newBalancer(t, WithConfig(config))

	testCases := []struct {
		rate     float64
		action   Action
		throttle priority.Priority
	}{
		{rate: 50, action: ActionNone},
		{rate: 100, action: ActionNone},
		{rate: 120, action: ActionRedistribute},
		{rate: 180, action: ActionThrottle, throttle: priority.Low},
		{rate: 250, action: ActionScale, throttle: priority.Low},
	}
	for _, testCase := range testCases {
		strategy := service.HandleSpikes(testCase.rate)
		assert.Equal(t, testCase.action, strategy.Action, "rate %v", testCase.rate)
		assert.Equal(t, testCase.throttle, strategy.ThrottleFirst, "rate %v", testCase.rate)
		assert.Equal(t, testCase.rate, strategy.Rate)
	}
}

func TestAdmitEnforcesRate(t *testing.T) {
	config := DefaultConfig()
	config.SpikeThreshold = 2
	service := newBalancer(t, WithConfig(config))

	// burst of two, then the limiter pushes back
	assert.True(t, service.AdmitNow())
	assert.True(t, service.AdmitNow())
	assert.False(t, service.AdmitNow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, service.Admit(ctx))
}
