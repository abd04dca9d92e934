// Package balancer assigns batches of tasks to executor nodes, proposes
// rebalancing moves when load drifts apart and picks a mitigation strategy
// for traffic spikes. All three are decision functions over a snapshot;
// applying a decision is a separate, idempotent step.
package balancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/viant/taskpool/internal/clock"
	"github.com/viant/taskpool/internal/idgen"
	"github.com/viant/taskpool/model/node"
	"github.com/viant/taskpool/model/priority"
	"github.com/viant/taskpool/model/task"
	"github.com/viant/taskpool/tracing"
)

// Action is a spike mitigation strategy.
type Action string

const (
	ActionNone         Action = "none"
	ActionRedistribute Action = "redistribute"
	ActionThrottle     Action = "throttle"
	ActionScale        Action = "scale"
)

// Config holds load balancer settings.
type Config struct {
	// SpikeThreshold is the incoming tasks-per-second rate above which
	// mitigation kicks in.
	SpikeThreshold float64 `json:"spikeThreshold" yaml:"spikeThreshold"`
	// RebalanceInterval is the minimum time between accepted rebalance plans.
	RebalanceInterval time.Duration `json:"rebalanceInterval" yaml:"rebalanceInterval"`
	// MinImprovement is the variance reduction a plan must promise.
	MinImprovement    float64 `json:"minImprovement" yaml:"minImprovement"`
	TargetVariance    float64 `json:"targetVariance" yaml:"targetVariance"`
	TargetUtilization float64 `json:"targetUtilization" yaml:"targetUtilization"`
	MaxErrorRate      float64 `json:"maxErrorRate" yaml:"maxErrorRate"`
}

// DefaultConfig returns balancer defaults.
func DefaultConfig() Config {
	return Config{
		SpikeThreshold:    100,
		RebalanceInterval: 30 * time.Second,
		MinImprovement:    0.05,
		TargetVariance:    0.05,
		TargetUtilization: 0.8,
		MaxErrorRate:      0.1,
	}
}

// Distribution is the outcome of one placement pass.
type Distribution struct {
	// Assignments maps task id to the chosen node id.
	Assignments map[string]string `json:"assignments" yaml:"assignments"`
	// Loads is the projected load per node after placement.
	Loads map[string]float64 `json:"loads" yaml:"loads"`
	// Unassigned lists tasks no node could take.
	Unassigned []string `json:"unassigned,omitempty" yaml:"unassigned,omitempty"`
}

// NodeLoad is one node's observed load sample.
type NodeLoad struct {
	Utilization float64 `json:"utilization" yaml:"utilization"`
	ErrorRate   float64 `json:"errorRate" yaml:"errorRate"`
}

// Move shifts load from one node to another.
type Move struct {
	From string  `json:"from" yaml:"from"`
	To   string  `json:"to" yaml:"to"`
	Load float64 `json:"load" yaml:"load"`
}

// RebalancePlan is a proposed set of moves. It is advisory until applied.
type RebalancePlan struct {
	ID          string  `json:"id" yaml:"id"`
	Moves       []Move  `json:"moves" yaml:"moves"`
	Improvement float64 `json:"improvement" yaml:"improvement"`
}

// SpikeStrategy is the mitigation picked for an observed incoming rate.
type SpikeStrategy struct {
	Action Action `json:"action" yaml:"action"`
	// ThrottleFirst names the priority class to throttle first; lower
	// priority work yields before higher.
	ThrottleFirst priority.Priority `json:"throttleFirst,omitempty" yaml:"throttleFirst,omitempty"`
	Rate          float64           `json:"rate" yaml:"rate"`
}

// Service is the load balancer.
type Service struct {
	config  Config
	limiter *rate.Limiter

	mu            sync.Mutex
	lastRebalance time.Time
	appliedPlans  map[string]bool
}

// New creates a load balancer with the supplied options.
func New(options ...Option) (*Service, error) {
	srv := &Service{
		config:       DefaultConfig(),
		appliedPlans: make(map[string]bool),
	}
	for _, option := range options {
		option(srv)
	}
	if srv.config.SpikeThreshold <= 0 {
		return nil, fmt.Errorf("spikeThreshold must be positive, got %v", srv.config.SpikeThreshold)
	}
	burst := int(srv.config.SpikeThreshold)
	if burst < 1 {
		burst = 1
	}
	srv.limiter = rate.NewLimiter(rate.Limit(srv.config.SpikeThreshold), burst)
	return srv, nil
}

// DistributeLoad assigns each task to the eligible node with the lowest
// projected load, tracking the running total per node. Failed nodes never
// take work; degraded nodes only take work below high priority.
func (s *Service) DistributeLoad(ctx context.Context, tasks []*task.Task, nodes []node.Health) (ret *Distribution, err error) {
	_, span := tracing.StartSpan(ctx, "balancer.DistributeLoad", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	ret = &Distribution{
		Assignments: make(map[string]string, len(tasks)),
		Loads:       make(map[string]float64, len(nodes)),
	}
	for i := range nodes {
		if nodes[i].Accepting() {
			ret.Loads[nodes[i].ID] = 0
		}
	}
	for _, aTask := range tasks {
		best := s.pickNode(aTask, nodes, ret.Loads)
		if best == nil {
			ret.Unassigned = append(ret.Unassigned, aTask.ID)
			continue
		}
		ret.Assignments[aTask.ID] = best.ID
		ret.Loads[best.ID] += taskLoad(aTask)
	}
	return ret, nil
}

func (s *Service) pickNode(aTask *task.Task, nodes []node.Health, loads map[string]float64) *node.Health {
	var best *node.Health
	var bestLoad float64
	for i := range nodes {
		candidate := &nodes[i]
		if !s.eligible(aTask, candidate) {
			continue
		}
		projected := loads[candidate.ID] + taskLoad(aTask)
		if candidate.CapacityUnits > 0 && projected > candidate.CapacityUnits {
			continue
		}
		if best == nil || loads[candidate.ID] < bestLoad {
			best = candidate
			bestLoad = loads[candidate.ID]
		}
	}
	return best
}

func (s *Service) eligible(aTask *task.Task, candidate *node.Health) bool {
	if !candidate.Accepting() {
		return false
	}
	if candidate.Status == node.Degraded && aTask.Constraints.Priority.AtLeast(priority.High) {
		return false
	}
	if candidate.ErrorRate > s.config.MaxErrorRate {
		return false
	}
	if aTask.Constraints.MaxLatency > 0 && candidate.ResponseTime > aTask.Constraints.MaxLatency {
		return false
	}
	return true
}

// taskLoad weighs a task by its resource demands, with a floor of one unit.
func taskLoad(aTask *task.Task) float64 {
	load := aTask.Requirements.CPU + aTask.Requirements.MemoryMB/1024
	if load < 1 {
		load = 1
	}
	return load
}

// Rebalance proposes moves from the most to the least loaded nodes when the
// observed spread exceeds the configured targets. A plan is only produced
// when its projected variance reduction clears MinImprovement and the
// minimum interval since the last accepted plan has passed.
func (s *Service) Rebalance(observed map[string]NodeLoad) *RebalancePlan {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := clock.Now()
	if !s.lastRebalance.IsZero() && now.Sub(s.lastRebalance) < s.config.RebalanceInterval {
		return nil
	}
	if len(observed) < 2 || !s.exceedsTargets(observed) {
		return nil
	}

	mean := meanUtilization(observed)
	before := utilizationVariance(observed, mean)

	var moves []Move
	projected := make(map[string]float64, len(observed))
	for id, sample := range observed {
		projected[id] = sample.Utilization
	}
	for id, sample := range observed {
		if sample.Utilization <= mean {
			continue
		}
		excess := sample.Utilization - mean
		target := leastLoaded(projected, id)
		if target == "" {
			continue
		}
		moves = append(moves, Move{From: id, To: target, Load: excess / 2})
		projected[id] -= excess / 2
		projected[target] += excess / 2
	}
	if len(moves) == 0 {
		return nil
	}
	after := varianceOf(projected)
	improvement := before - after
	if improvement < s.config.MinImprovement {
		return nil
	}
	s.lastRebalance = now
	return &RebalancePlan{ID: idgen.New(), Moves: moves, Improvement: improvement}
}

// Apply marks a plan as executed. Applying the same plan twice is a no-op
// and reports false.
func (s *Service) Apply(plan *RebalancePlan) bool {
	if plan == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appliedPlans[plan.ID] {
		return false
	}
	s.appliedPlans[plan.ID] = true
	return true
}

func (s *Service) exceedsTargets(observed map[string]NodeLoad) bool {
	mean := meanUtilization(observed)
	if utilizationVariance(observed, mean) > s.config.TargetVariance {
		return true
	}
	if mean > s.config.TargetUtilization {
		return true
	}
	for _, sample := range observed {
		if sample.ErrorRate > s.config.MaxErrorRate {
			return true
		}
	}
	return false
}

func meanUtilization(observed map[string]NodeLoad) float64 {
	var sum float64
	for _, sample := range observed {
		sum += sample.Utilization
	}
	return sum / float64(len(observed))
}

func utilizationVariance(observed map[string]NodeLoad, mean float64) float64 {
	var sum float64
	for _, sample := range observed {
		delta := sample.Utilization - mean
		sum += delta * delta
	}
	return sum / float64(len(observed))
}

func varianceOf(values map[string]float64) float64 {
	var sum float64
	for _, value := range values {
		sum += value
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, value := range values {
		delta := value - mean
		variance += delta * delta
	}
	return variance / float64(len(values))
}

func leastLoaded(projected map[string]float64, exclude string) string {
	var best string
	var bestLoad float64
	for id, load := range projected {
		if id == exclude {
			continue
		}
		if best == "" || load < bestLoad {
			best = id
			bestLoad = load
		}
	}
	return best
}

// HandleSpikes picks a mitigation for the observed incoming rate. Below the
// threshold nothing happens; moderate overload redistributes, heavier
// overload throttles low priority work first, and past twice the threshold
// the only answer is scaling out.
func (s *Service) HandleSpikes(incomingRate float64) SpikeStrategy {
	strategy := SpikeStrategy{Action: ActionNone, Rate: incomingRate}
	switch {
	case incomingRate <= s.config.SpikeThreshold:
	case incomingRate <= s.config.SpikeThreshold*1.5:
		strategy.Action = ActionRedistribute
	case incomingRate <= s.config.SpikeThreshold*2:
		strategy.Action = ActionThrottle
		strategy.ThrottleFirst = priority.Low
	default:
		strategy.Action = ActionScale
		strategy.ThrottleFirst = priority.Low
	}
	return strategy
}

// Admit blocks until the rate limiter grants one admission slot, or the
// context is cancelled. It is the enforcement half of a throttle strategy.
func (s *Service) Admit(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// AdmitNow reports whether one admission slot is available right away.
func (s *Service) AdmitNow() bool {
	return s.limiter.Allow()
}
