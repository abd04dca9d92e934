// Package route defines the routing engine's output types and the executor
// collaborator contract it scores against.
package route

import (
	"time"

	"github.com/viant/taskpool/model/priority"
	"github.com/viant/taskpool/model/task"
)

// Capability is an executor's self-reported competence for one capability.
type Capability struct {
	Score      float64 `json:"score" yaml:"score"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// ExecutorMetrics is the resource snapshot an executor exposes.
type ExecutorMetrics struct {
	Latency         time.Duration `json:"latency" yaml:"latency"`
	CPU             float64       `json:"cpu" yaml:"cpu"`
	MemoryMB        float64       `json:"memoryMB" yaml:"memoryMB"`
	TokensPerSecond float64       `json:"tokensPerSecond" yaml:"tokensPerSecond"`
}

// Executor is the per-executor collaborator consumed by the routing engine.
type Executor interface {
	ID() string
	Capabilities() map[string]Capability
	Metrics() ExecutorMetrics
}

// EstimatedCosts is the projected resource consumption of a route.
type EstimatedCosts struct {
	MemoryMB        float64       `json:"memoryMB" yaml:"memoryMB"`
	CPU             float64       `json:"cpu" yaml:"cpu"`
	Latency         time.Duration `json:"latency" yaml:"latency"`
	TokensPerSecond float64       `json:"tokensPerSecond" yaml:"tokensPerSecond"`
}

// Options is a ranked routing decision for a single task.
type Options struct {
	Primary      string             `json:"primary" yaml:"primary"`
	Alternatives []string           `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`
	Costs        EstimatedCosts     `json:"costs" yaml:"costs"`
	Confidence   map[string]float64 `json:"confidence" yaml:"confidence"`
	Constraints  task.Constraints   `json:"constraints" yaml:"constraints"`
}

// Budget is a concrete resource budget in pool units.
type Budget struct {
	MemoryMB        float64 `json:"memoryMB" yaml:"memoryMB"`
	CPU             float64 `json:"cpu" yaml:"cpu"`
	TokensPerSecond float64 `json:"tokensPerSecond" yaml:"tokensPerSecond"`
}

// AllocationResult is the allocator's answer to a route: the reserved budget,
// a buffered copy used as enforcement ceiling, and the reservation timeout.
type AllocationResult struct {
	ReservationID string            `json:"reservationID" yaml:"reservationID"`
	Allocated     Budget            `json:"allocated" yaml:"allocated"`
	Constraints   Budget            `json:"constraints" yaml:"constraints"`
	Priority      priority.Priority `json:"priority" yaml:"priority"`
	Timeout       time.Duration     `json:"timeout" yaml:"timeout"`
}
