// Package detector exposes the external resource-availability collaborator
// consulted by the pool before admitting an allocation.
package detector

import (
	"context"

	"github.com/viant/taskpool/model/resource"
)

// Utilization reports one dimension of system capacity.
type Utilization struct {
	// Fraction in use, 0..1.
	Utilization float64 `json:"utilization" yaml:"utilization"`
	// AvailableMB is the absolute headroom; for CPU this is free core count.
	Available float64 `json:"available" yaml:"available"`
}

// Availability is an external system-availability report.
type Availability struct {
	Status resource.Health `json:"status" yaml:"status"`
	Memory Utilization     `json:"memory" yaml:"memory"`
	CPU    Utilization     `json:"cpu" yaml:"cpu"`
	Disk   Utilization     `json:"disk" yaml:"disk"`
}

// SystemResources describes total system capacity.
type SystemResources struct {
	MemoryTotalMB float64 `json:"memoryTotalMB" yaml:"memoryTotalMB"`
	CPUCores      int     `json:"cpuCores" yaml:"cpuCores"`
}

// Service is the resource-detector collaborator contract. The availability
// check may suspend on real I/O, so the pool calls it before acquiring any
// resource-mutating section.
type Service interface {
	GetAvailability(ctx context.Context) (*Availability, error)
	GetCurrentResources(ctx context.Context) (*SystemResources, error)
}
