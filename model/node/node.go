// Package node defines executor-node health reports consumed by the load
// balancer and route validation.
package node

import "time"

// Status classifies a node's ability to take work.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
	Failed   Status = "failed"
)

// Health is a single node health report.
type Health struct {
	ID           string        `json:"id" yaml:"id"`
	Status       Status        `json:"status" yaml:"status"`
	ErrorRate    float64       `json:"errorRate" yaml:"errorRate"`
	ResponseTime time.Duration `json:"responseTime" yaml:"responseTime"`
	// CapacityUnits is the load the node can carry; 0 means uncapped.
	CapacityUnits float64 `json:"capacityUnits,omitempty" yaml:"capacityUnits,omitempty"`
}

// Accepting reports whether the node can take new work at all.
func (h *Health) Accepting() bool {
	return h.Status != Failed
}
