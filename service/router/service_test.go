package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/taskpool/model/node"
	"github.com/viant/taskpool/model/route"
	"github.com/viant/taskpool/model/task"
)

type testExecutor struct {
	id           string
	capabilities map[string]route.Capability
	metrics      route.ExecutorMetrics
}

func (e *testExecutor) ID() string                                { return e.id }
func (e *testExecutor) Capabilities() map[string]route.Capability { return e.capabilities }
func (e *testExecutor) Metrics() route.ExecutorMetrics            { return e.metrics }

func newExecutor(id string, capabilities map[string]route.Capability) *testExecutor {
	return &testExecutor{
		id:           id,
		capabilities: capabilities,
		metrics: route.ExecutorMetrics{
			Latency:  100 * time.Millisecond,
			CPU:      0.2,
			MemoryMB: 512,
		},
	}
}

func newTask(id, primary string) *task.Task {
	return &task.Task{
		ID:   id,
		Type: "compute",
		Requirements: task.Requirements{
			Primary: primary,
		},
	}
}

func TestCalculateRoutesMissingPrimaryCapability(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)

	withPrimary := newExecutor("with", map[string]route.Capability{
		"translate": {Score: 0.9, Confidence: 0.9},
	})
	withoutPrimary := newExecutor("without", map[string]route.Capability{
		"summarize": {Score: 0.9, Confidence: 0.9},
	})

	options, err := srv.CalculateRoutes(context.Background(), newTask("t1", "translate"), []route.Executor{withoutPrimary, withPrimary})
	require.NoError(t, err)
	assert.Equal(t, "with", options.Primary)
	assert.Empty(t, options.Alternatives)
}

func TestCalculateRoutesRanksAlternatives(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)

	candidates := []route.Executor{
		newExecutor("low", map[string]route.Capability{"translate": {Score: 0.5}}),
		newExecutor("high", map[string]route.Capability{"translate": {Score: 0.95}}),
		newExecutor("mid", map[string]route.Capability{"translate": {Score: 0.7}}),
		newExecutor("lowest", map[string]route.Capability{"translate": {Score: 0.4}}),
	}

	options, err := srv.CalculateRoutes(context.Background(), newTask("t1", "translate"), candidates)
	require.NoError(t, err)
	assert.Equal(t, "high", options.Primary)
	assert.Equal(t, []string{"mid", "low"}, options.Alternatives)
	assert.Len(t, options.Confidence, 4)
	assert.Greater(t, options.Confidence["high"], options.Confidence["mid"])
}

func TestCalculateRoutesNoViableRoute(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)

	candidate := newExecutor("weak", map[string]route.Capability{
		"translate": {Score: 0.1},
	})
	_, err = srv.CalculateRoutes(context.Background(), newTask("t1", "translate"), []route.Executor{candidate})
	assert.ErrorIs(t, err, ErrNoViableRoute)
}

func TestCalculateRoutesHardFloorOnConstraints(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)

	heavy := newExecutor("heavy", map[string]route.Capability{"translate": {Score: 0.9}})
	heavy.metrics.MemoryMB = 4096
	light := newExecutor("light", map[string]route.Capability{"translate": {Score: 0.6}})

	aTask := newTask("t1", "translate")
	aTask.Constraints.MaxMemoryMB = 1024

	options, err := srv.CalculateRoutes(context.Background(), aTask, []route.Executor{heavy, light})
	require.NoError(t, err)
	assert.Equal(t, "light", options.Primary)
}

func TestCalculateRoutesCachesDecision(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)

	candidate := newExecutor("only", map[string]route.Capability{"translate": {Score: 0.9}})
	first, err := srv.CalculateRoutes(context.Background(), newTask("t1", "translate"), []route.Executor{candidate})
	require.NoError(t, err)

	// second call must come from the cache even with no candidates supplied
	second, err := srv.CalculateRoutes(context.Background(), newTask("t1", "translate"), nil)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, srv.CacheSize())
}

func TestRouteCacheEvictsLeastUsed(t *testing.T) {
	cache := newRouteCache(2)
	cache.put("a", &route.Options{Primary: "a"})
	cache.put("b", &route.Options{Primary: "b"})

	_, ok := cache.get("a")
	require.True(t, ok)
	_, ok = cache.get("a")
	require.True(t, ok)
	_, ok = cache.get("b")
	require.True(t, ok)

	// "b" has the lower use count and goes first
	cache.put("c", &route.Options{Primary: "c"})
	_, ok = cache.get("b")
	assert.False(t, ok)
	_, ok = cache.get("a")
	assert.True(t, ok)
	_, ok = cache.get("c")
	assert.True(t, ok)
}

func TestUpdateRoutingWeights(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)
	initial := srv.Weights()

	updated := srv.UpdateRoutingWeights(ObservedPerformance{
		AverageLatency: 10 * time.Second,
		SuccessRate:    0.95,
		ErrorRate:      0.05,
	})
	assert.Greater(t, updated.Latency, initial.Latency)
	assert.InDelta(t, 1.0, updated.Latency+updated.Reliability+updated.ErrorRate, 1e-9)

	// within thresholds nothing moves
	stable := srv.UpdateRoutingWeights(ObservedPerformance{
		AverageLatency: time.Second,
		SuccessRate:    0.99,
		ErrorRate:      0.01,
	})
	assert.InDelta(t, updated.Latency, stable.Latency, 1e-9)
	assert.InDelta(t, updated.Reliability, stable.Reliability, 1e-9)
	assert.InDelta(t, updated.ErrorRate, stable.ErrorRate, 1e-9)
}

func TestOptimizeAllocation(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)
	options := &route.Options{
		Primary: "exec",
		Costs: route.EstimatedCosts{
			MemoryMB: 1000,
			Latency:  time.Second,
		},
		Constraints: task.Constraints{
			MaxMemoryMB: 2000,
			MaxLatency:  2 * time.Second,
		},
	}

	relaxed := srv.OptimizeAllocation(options, 0.9)
	assert.InDelta(t, 800.0, relaxed.Costs.MemoryMB, 1e-9)
	assert.Equal(t, 1200*time.Millisecond, relaxed.Costs.Latency)
	assert.InDelta(t, 1600.0, relaxed.Constraints.MaxMemoryMB, 1e-9)
	assert.Equal(t, 2400*time.Millisecond, relaxed.Constraints.MaxLatency)

	// original untouched
	assert.InDelta(t, 1000.0, options.Costs.MemoryMB, 1e-9)

	unchanged := srv.OptimizeAllocation(options, 0.5)
	assert.Equal(t, options.Costs, unchanged.Costs)
}

func TestValidateRoute(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)
	options := &route.Options{
		Primary: "exec",
		Costs: route.EstimatedCosts{
			Latency: time.Second,
			CPU:     0.5,
		},
	}

	testCases := []struct {
		description string
		options     *route.Options
		reports     []node.Health
		valid       bool
	}{
		{
			description: "healthy nodes pass",
			options:     options,
			reports:     []node.Health{{ID: "n1", Status: node.Healthy, ErrorRate: 0.01}},
			valid:       true,
		},
		{
			description: "degraded node invalidates",
			options:     options,
			reports:     []node.Health{{ID: "n1", Status: node.Degraded}},
		},
		{
			description: "failed node invalidates",
			options:     options,
			reports:     []node.Health{{ID: "n1", Status: node.Failed}},
		},
		{
			description: "error rate above threshold invalidates",
			options:     options,
			reports:     []node.Health{{ID: "n1", Status: node.Healthy, ErrorRate: 0.5}},
		},
		{
			description: "latency over ceiling invalidates",
			options: &route.Options{
				Costs: route.EstimatedCosts{Latency: time.Minute},
			},
		},
		{
			description: "cpu over full core invalidates",
			options: &route.Options{
				Costs: route.EstimatedCosts{CPU: 1.5},
			},
		},
	}
	for _, testCase := range testCases {
		err := srv.ValidateRoute(testCase.options, testCase.reports)
		if testCase.valid {
			assert.NoError(t, err, testCase.description)
		} else {
			assert.ErrorIs(t, err, ErrNoViableRoute, testCase.description)
		}
	}
}

func TestRecordOutcomeAffectsRanking(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)

	capabilities := map[string]route.Capability{"translate": {Score: 0.8}}
	flaky := newExecutor("flaky", capabilities)
	steady := newExecutor("steady", capabilities)

	for i := 0; i < 10; i++ {
		srv.RecordOutcome("flaky", false, 10*time.Second)
		srv.RecordOutcome("steady", true, 100*time.Millisecond)
	}

	options, err := srv.CalculateRoutes(context.Background(), newTask("t1", "translate"), []route.Executor{flaky, steady})
	require.NoError(t, err)
	assert.Equal(t, "steady", options.Primary)
	assert.Equal(t, []string{"flaky"}, options.Alternatives)
}

func TestHistoricalScoreDefaultsToOne(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, srv.historicalScore("unknown"), 1e-9)

	srv.RecordOutcome("seen", true, 100*time.Millisecond)
	assert.InDelta(t, 1.0, srv.historicalScore("seen"), 1e-9)

	srv.RecordOutcome("seen", false, 10*time.Second)
	assert.Less(t, srv.historicalScore("seen"), 1.0)
}
