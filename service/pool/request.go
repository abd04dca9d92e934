package pool

import (
	"strconv"
	"time"

	"github.com/viant/taskpool/model/priority"
	"github.com/viant/taskpool/model/resource"
	"github.com/viant/taskpool/service/cache"
)

// Request describes a resource allocation request.
type Request struct {
	Kind         resource.Kind     `json:"kind" yaml:"kind"`
	Priority     priority.Priority `json:"priority" yaml:"priority"`
	Capabilities []string          `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	MemoryMB     float64           `json:"memoryMB,omitempty" yaml:"memoryMB,omitempty"`
	CPU          float64           `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	MaxLatency   time.Duration     `json:"maxLatency,omitempty" yaml:"maxLatency,omitempty"`
	// LeaseTimeout overrides the pool default for this allocation.
	LeaseTimeout time.Duration `json:"leaseTimeout,omitempty" yaml:"leaseTimeout,omitempty"`
}

// fingerprint derives the canonical, order-independent cache key.
func (r *Request) fingerprint() string {
	constraints := map[string]string{
		"priority": string(r.Priority),
	}
	if r.MemoryMB > 0 {
		constraints["memoryMB"] = formatFloat(r.MemoryMB)
	}
	if r.CPU > 0 {
		constraints["cpu"] = formatFloat(r.CPU)
	}
	if r.MaxLatency > 0 {
		constraints["maxLatency"] = r.MaxLatency.String()
	}
	return cache.Fingerprint{
		Kind:         string(r.Kind),
		Capabilities: r.Capabilities,
		Constraints:  constraints,
	}.Key()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
