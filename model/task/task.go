// Package task defines the unit of work routed and placed by the engine.
package task

import (
	"time"

	"github.com/viant/taskpool/model/priority"
)

// Requirements describes what a task needs from its executor.
type Requirements struct {
	// Primary is the capability the task cannot run without.
	Primary string `json:"primary" yaml:"primary"`
	// Secondary capabilities improve the match but are not mandatory.
	Secondary []string `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	MemoryMB  float64  `json:"memoryMB" yaml:"memoryMB"`
	// CPU is a fraction of a single core, 0..1 per core requested.
	CPU float64 `json:"cpu" yaml:"cpu"`
}

// Constraints bounds how a task may be placed.
type Constraints struct {
	MaxLatency  time.Duration     `json:"maxLatency,omitempty" yaml:"maxLatency,omitempty"`
	MaxMemoryMB float64           `json:"maxMemoryMB,omitempty" yaml:"maxMemoryMB,omitempty"`
	Priority    priority.Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	// RequiredCapabilities must all be present on a candidate executor at or
	// above the configured confidence floor.
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty" yaml:"requiredCapabilities,omitempty"`
}

// Task is the routed unit of work.
type Task struct {
	ID           string       `json:"id" yaml:"id"`
	Type         string       `json:"type" yaml:"type"`
	Requirements Requirements `json:"requirements" yaml:"requirements"`
	Constraints  Constraints  `json:"constraints" yaml:"constraints"`
}
