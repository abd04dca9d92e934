// Package router scores candidate executors for a task and produces a ranked
// routing decision, caching repeat decisions and adapting its scoring weights
// from observed outcomes.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viant/taskpool/model/node"
	"github.com/viant/taskpool/model/route"
	"github.com/viant/taskpool/model/task"
	"github.com/viant/taskpool/tracing"
)

// ErrNoViableRoute is returned when every candidate fails a hard floor.
var ErrNoViableRoute = errors.New("no viable route")

const (
	capabilityWeight  = 0.4
	performanceWeight = 0.3
	efficiencyWeight  = 0.2
	historyWeight     = 0.1

	// normalization ceilings for performance blending
	latencyCeiling  = 10 * time.Second
	memoryCeilingMB = 8192.0

	bottleneckUtilization = 0.8
	memoryShrinkFactor    = 0.8
	latencyExtendFactor   = 1.2
)

// Config holds routing engine settings.
type Config struct {
	// MinConfidenceScore is the hard floor a required capability must meet.
	MinConfidenceScore float64 `json:"minConfidenceScore" yaml:"minConfidenceScore"`
	// RouteCacheSize bounds the route decision cache.
	RouteCacheSize int           `json:"routeCacheSize" yaml:"routeCacheSize"`
	MaxLatency     time.Duration `json:"maxLatency" yaml:"maxLatency"`
	MinSuccessRate float64       `json:"minSuccessRate" yaml:"minSuccessRate"`
	MaxErrorRate   float64       `json:"maxErrorRate" yaml:"maxErrorRate"`
}

// DefaultConfig returns routing defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidenceScore: 0.3,
		RouteCacheSize:     100,
		MaxLatency:         5 * time.Second,
		MinSuccessRate:     0.9,
		MaxErrorRate:       0.1,
	}
}

// Weights blends the observed-quality signals backing the historical score.
// They always sum to 1 so that an executor with no recorded history scores a
// neutral 1.0.
type Weights struct {
	Latency     float64 `json:"latency" yaml:"latency"`
	Reliability float64 `json:"reliability" yaml:"reliability"`
	ErrorRate   float64 `json:"errorRate" yaml:"errorRate"`
}

func defaultWeights() Weights {
	return Weights{Latency: 0.4, Reliability: 0.4, ErrorRate: 0.2}
}

// ObservedPerformance carries aggregate metrics used to adapt the weights.
type ObservedPerformance struct {
	AverageLatency time.Duration `json:"averageLatency" yaml:"averageLatency"`
	SuccessRate    float64       `json:"successRate" yaml:"successRate"`
	ErrorRate      float64       `json:"errorRate" yaml:"errorRate"`
}

// history accumulates per-executor outcome observations.
type history struct {
	total         int
	successes     int
	withinLatency int
	errors        int
}

// Service is the routing engine.
type Service struct {
	config Config

	mu      sync.RWMutex
	weights Weights
	cache   *routeCache
	records map[string]*history
}

// New creates a routing engine with the supplied options.
func New(options ...Option) (*Service, error) {
	srv := &Service{
		config:  DefaultConfig(),
		weights: defaultWeights(),
		records: make(map[string]*history),
	}
	for _, option := range options {
		option(srv)
	}
	if srv.config.RouteCacheSize <= 0 {
		return nil, fmt.Errorf("routeCacheSize must be positive, got %d", srv.config.RouteCacheSize)
	}
	srv.cache = newRouteCache(srv.config.RouteCacheSize)
	return srv, nil
}

// CalculateRoutes ranks candidates for the task and returns the decision.
// Candidates failing a hard floor are excluded before ranking; the top
// survivor becomes the primary route and the next two the alternatives.
func (s *Service) CalculateRoutes(ctx context.Context, aTask *task.Task, candidates []route.Executor) (ret *route.Options, err error) {
	_, span := tracing.StartSpan(ctx, "router.CalculateRoutes", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	key := routeKey(aTask)
	if cached, ok := s.cache.get(key); ok {
		return cached, nil
	}

	type scored struct {
		executor route.Executor
		score    float64
	}
	var viable []scored
	for _, candidate := range candidates {
		if !s.passesHardFloor(aTask, candidate) {
			continue
		}
		viable = append(viable, scored{executor: candidate, score: s.score(aTask, candidate)})
	}
	if len(viable) == 0 {
		return nil, fmt.Errorf("task %v: %w", aTask.ID, ErrNoViableRoute)
	}
	sort.SliceStable(viable, func(i, j int) bool {
		return viable[i].score > viable[j].score
	})

	confidence := make(map[string]float64, len(viable))
	for _, item := range viable {
		confidence[item.executor.ID()] = item.score
	}
	var alternatives []string
	for i := 1; i < len(viable) && i <= 2; i++ {
		alternatives = append(alternatives, viable[i].executor.ID())
	}
	ret = &route.Options{
		Primary:      viable[0].executor.ID(),
		Alternatives: alternatives,
		Costs:        estimateCosts(viable[0].executor),
		Confidence:   confidence,
		Constraints:  aTask.Constraints,
	}
	s.cache.put(key, ret)
	return ret, nil
}

// UpdateRoutingWeights nudges each weight proportionally to how far the
// observed metric exceeds its configured threshold, then renormalizes so
// the weights keep summing to 1. This is an online adjustment, not a
// learning algorithm.
func (s *Service) UpdateRoutingWeights(observed ObservedPerformance) Weights {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.MaxLatency > 0 && observed.AverageLatency > s.config.MaxLatency {
		excess := float64(observed.AverageLatency-s.config.MaxLatency) / float64(s.config.MaxLatency)
		s.weights.Latency += 0.1 * min(excess, 1)
	}
	if observed.SuccessRate > 0 && observed.SuccessRate < s.config.MinSuccessRate {
		shortfall := (s.config.MinSuccessRate - observed.SuccessRate) / s.config.MinSuccessRate
		s.weights.Reliability += 0.1 * min(shortfall, 1)
	}
	if s.config.MaxErrorRate > 0 && observed.ErrorRate > s.config.MaxErrorRate {
		excess := (observed.ErrorRate - s.config.MaxErrorRate) / s.config.MaxErrorRate
		s.weights.ErrorRate += 0.1 * min(excess, 1)
	}
	total := s.weights.Latency + s.weights.Reliability + s.weights.ErrorRate
	if total > 0 {
		s.weights.Latency /= total
		s.weights.Reliability /= total
		s.weights.ErrorRate /= total
	}
	return s.weights
}

// Weights returns the current adaptive weights.
func (s *Service) Weights() Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// OptimizeAllocation recomputes a route's cost against the current combined
// load and, past the bottleneck threshold, shrinks the memory budget and
// extends the latency budget to trade speed for fit. The input is not
// mutated.
func (s *Service) OptimizeAllocation(options *route.Options, currentLoad float64) *route.Options {
	optimized := *options
	if currentLoad > bottleneckUtilization {
		optimized.Costs.MemoryMB *= memoryShrinkFactor
		optimized.Costs.Latency = time.Duration(float64(optimized.Costs.Latency) * latencyExtendFactor)
		if optimized.Constraints.MaxMemoryMB > 0 {
			optimized.Constraints.MaxMemoryMB *= memoryShrinkFactor
		}
		if optimized.Constraints.MaxLatency > 0 {
			optimized.Constraints.MaxLatency = time.Duration(float64(optimized.Constraints.MaxLatency) * latencyExtendFactor)
		}
	}
	return &optimized
}

// ValidateRoute checks a decision against node health reports and the
// engine's own latency and cpu ceilings. Any failed or degraded node, or a
// node whose error rate exceeds the configured maximum, invalidates the
// route.
func (s *Service) ValidateRoute(options *route.Options, reports []node.Health) error {
	for i := range reports {
		report := &reports[i]
		if report.Status != node.Healthy {
			return fmt.Errorf("node %v is %v: %w", report.ID, report.Status, ErrNoViableRoute)
		}
		if report.ErrorRate > s.config.MaxErrorRate {
			return fmt.Errorf("node %v error rate %.3f exceeds %.3f: %w", report.ID, report.ErrorRate, s.config.MaxErrorRate, ErrNoViableRoute)
		}
	}
	if s.config.MaxLatency > 0 && options.Costs.Latency > s.config.MaxLatency {
		return fmt.Errorf("estimated latency %v exceeds %v: %w", options.Costs.Latency, s.config.MaxLatency, ErrNoViableRoute)
	}
	if options.Costs.CPU > 1.0 {
		return fmt.Errorf("estimated cpu %.2f exceeds full core budget: %w", options.Costs.CPU, ErrNoViableRoute)
	}
	return nil
}

// RecordOutcome feeds one completed execution back into the per-executor
// history behind the historical score.
func (s *Service) RecordOutcome(executorID string, success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[executorID]
	if !ok {
		record = &history{}
		s.records[executorID] = record
	}
	record.total++
	if success {
		record.successes++
	} else {
		record.errors++
	}
	if s.config.MaxLatency == 0 || latency <= s.config.MaxLatency {
		record.withinLatency++
	}
}

// CacheSize returns the number of cached route decisions.
func (s *Service) CacheSize() int {
	return s.cache.len()
}

// ClearCache drops all cached route decisions.
func (s *Service) ClearCache() {
	s.cache.clear()
}

func (s *Service) passesHardFloor(aTask *task.Task, candidate route.Executor) bool {
	capabilities := candidate.Capabilities()
	required := make([]string, 0, 1+len(aTask.Constraints.RequiredCapabilities))
	if aTask.Requirements.Primary != "" {
		required = append(required, aTask.Requirements.Primary)
	}
	required = append(required, aTask.Constraints.RequiredCapabilities...)
	for _, name := range required {
		capability, ok := capabilities[name]
		if !ok || capability.Score < s.config.MinConfidenceScore {
			return false
		}
	}
	metrics := candidate.Metrics()
	if aTask.Constraints.MaxMemoryMB > 0 && metrics.MemoryMB > aTask.Constraints.MaxMemoryMB {
		return false
	}
	if aTask.Constraints.MaxLatency > 0 && metrics.Latency > aTask.Constraints.MaxLatency {
		return false
	}
	return true
}

func (s *Service) score(aTask *task.Task, candidate route.Executor) float64 {
	metrics := candidate.Metrics()
	return capabilityWeight*capabilityMatch(aTask, candidate.Capabilities()) +
		performanceWeight*performanceScore(metrics) +
		efficiencyWeight*resourceEfficiency(metrics) +
		historyWeight*s.historicalScore(candidate.ID())
}

// capabilityMatch averages the executor's scores over the task's primary and
// secondary capabilities; an absent capability contributes 0.
func capabilityMatch(aTask *task.Task, capabilities map[string]route.Capability) float64 {
	names := make([]string, 0, 1+len(aTask.Requirements.Secondary))
	if aTask.Requirements.Primary != "" {
		names = append(names, aTask.Requirements.Primary)
	}
	names = append(names, aTask.Requirements.Secondary...)
	if len(names) == 0 {
		return 1
	}
	var sum float64
	for _, name := range names {
		if capability, ok := capabilities[name]; ok {
			sum += capability.Score
		}
	}
	return sum / float64(len(names))
}

// performanceScore blends normalized latency, cpu and memory; lower resource
// use yields a higher score. Each dimension clips at its ceiling.
func performanceScore(metrics route.ExecutorMetrics) float64 {
	latencyScore := 1 - min(float64(metrics.Latency)/float64(latencyCeiling), 1)
	cpuScore := 1 - min(metrics.CPU, 1)
	memoryScore := 1 - min(metrics.MemoryMB/memoryCeilingMB, 1)
	return (latencyScore + cpuScore + memoryScore) / 3
}

// resourceEfficiency penalizes joint memory and cpu pressure.
func resourceEfficiency(metrics route.ExecutorMetrics) float64 {
	pressure := (min(metrics.CPU, 1) + min(metrics.MemoryMB/memoryCeilingMB, 1)) / 2
	return 1 - pressure
}

// historicalScore blends the executor's recorded latency compliance, success
// rate and inverse error rate using the adaptive weights. With no recorded
// outcomes every signal reads 1, so the score defaults to 1.
func (s *Service) historicalScore(executorID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[executorID]
	if !ok || record.total == 0 {
		return 1
	}
	total := float64(record.total)
	latencySignal := float64(record.withinLatency) / total
	successSignal := float64(record.successes) / total
	errorSignal := 1 - float64(record.errors)/total
	return s.weights.Latency*latencySignal +
		s.weights.Reliability*successSignal +
		s.weights.ErrorRate*errorSignal
}

// routeKey builds the composite cache key over task id, type and
// requirements. Secondary capabilities are sorted so equivalent tasks hash
// identically.
func routeKey(aTask *task.Task) string {
	secondary := make([]string, len(aTask.Requirements.Secondary))
	copy(secondary, aTask.Requirements.Secondary)
	sort.Strings(secondary)
	var builder strings.Builder
	builder.WriteString(aTask.ID)
	builder.WriteByte('|')
	builder.WriteString(aTask.Type)
	builder.WriteByte('|')
	builder.WriteString(aTask.Requirements.Primary)
	builder.WriteByte('|')
	builder.WriteString(strings.Join(secondary, ","))
	fmt.Fprintf(&builder, "|mem=%g|cpu=%g", aTask.Requirements.MemoryMB, aTask.Requirements.CPU)
	return builder.String()
}

// estimateCosts projects a route's resource consumption from the chosen
// executor's current metrics.
func estimateCosts(executor route.Executor) route.EstimatedCosts {
	metrics := executor.Metrics()
	return route.EstimatedCosts{
		MemoryMB:        metrics.MemoryMB,
		CPU:             metrics.CPU,
		Latency:         metrics.Latency,
		TokensPerSecond: metrics.TokensPerSecond,
	}
}
