// Package resource defines the leasable resource unit managed by the pool
// together with its health and metrics snapshots.
package resource

import (
	"time"

	"github.com/viant/taskpool/model/priority"
)

// Kind identifies what a resource represents.
type Kind string

const (
	KindMemory  Kind = "memory"
	KindCPU     Kind = "cpu"
	KindStorage Kind = "storage"
)

// Health represents a coarse health classification.
type Health string

const (
	Healthy  Health = "healthy"
	Warning  Health = "warning"
	Critical Health = "critical"
)

// Status captures the current health of a single resource.
type Status struct {
	Health      Health    `json:"health" yaml:"health"`
	Utilization float64   `json:"utilization" yaml:"utilization"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// MemoryMetrics is a point-in-time memory snapshot in megabytes.
type MemoryMetrics struct {
	TotalMB     float64 `json:"totalMB" yaml:"totalMB"`
	UsedMB      float64 `json:"usedMB" yaml:"usedMB"`
	AvailableMB float64 `json:"availableMB" yaml:"availableMB"`
}

// CPUMetrics is a point-in-time CPU snapshot.
type CPUMetrics struct {
	Utilization float64 `json:"utilization" yaml:"utilization"`
	Load        float64 `json:"load" yaml:"load"`
	QueueDepth  int     `json:"queueDepth" yaml:"queueDepth"`
	Threads     int     `json:"threads" yaml:"threads"`
}

// CacheMetrics is a point-in-time cache snapshot.
type CacheMetrics struct {
	HitRate   float64 `json:"hitRate" yaml:"hitRate"`
	Size      int     `json:"size" yaml:"size"`
	Evictions int     `json:"evictions" yaml:"evictions"`
}

// Metrics groups all per-resource metric snapshots.
type Metrics struct {
	Memory MemoryMetrics `json:"memory" yaml:"memory"`
	CPU    CPUMetrics    `json:"cpu" yaml:"cpu"`
	Cache  CacheMetrics  `json:"cache" yaml:"cache"`
}

// Resource is a leasable unit owned by exactly one pool tier. It is never
// shared outside the pool that owns it; callers hold it only between Allocate
// and Release.
type Resource struct {
	ID           string            `json:"id" yaml:"id"`
	Kind         Kind              `json:"kind" yaml:"kind"`
	Tier         priority.Priority `json:"tier" yaml:"tier"`
	Available    bool              `json:"available" yaml:"available"`
	LastUsedAt   time.Time         `json:"lastUsedAt" yaml:"lastUsedAt"`
	AllocatedAt  *time.Time        `json:"allocatedAt,omitempty" yaml:"allocatedAt,omitempty"`
	LeaseTimeout time.Duration     `json:"leaseTimeout,omitempty" yaml:"leaseTimeout,omitempty"`
	Status       Status            `json:"status" yaml:"status"`
	Metrics      Metrics           `json:"metrics" yaml:"metrics"`
}

// Stale reports whether the resource has been unused for longer than timeout.
func (r *Resource) Stale(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(r.LastUsedAt) > timeout
}

// LeaseExpired reports whether an in-flight lease exceeded its own timeout.
func (r *Resource) LeaseExpired(now time.Time) bool {
	if r.AllocatedAt == nil || r.LeaseTimeout <= 0 {
		return false
	}
	return now.Sub(*r.AllocatedAt) > r.LeaseTimeout
}
