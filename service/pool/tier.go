package pool

import (
	"time"

	"github.com/viant/taskpool/model/priority"
	"github.com/viant/taskpool/model/resource"
)

// tier is a priority-scoped sub-pool. All access is serialised through the
// owning service's lock.
type tier struct {
	priority    priority.Priority
	resources   []*resource.Resource
	maxSize     int
	utilization float64
}

// recompute derives utilization from current membership: busy over total,
// counting non-stale resources only.
func (t *tier) recompute(now time.Time, staleTimeout time.Duration) {
	busy, total := 0, 0
	for _, r := range t.resources {
		if r.Stale(now, staleTimeout) {
			continue
		}
		total++
		if !r.Available {
			busy++
		}
	}
	if total == 0 {
		t.utilization = 0
		return
	}
	t.utilization = float64(busy) / float64(total)
}

// findAvailable scans for an available, non-stale resource meeting the
// request's memory ceiling; the latency ceiling is checked against the pool's
// rolling average latency.
func (t *tier) findAvailable(req *Request, now time.Time, staleTimeout time.Duration, avgLatency time.Duration) *resource.Resource {
	for _, r := range t.resources {
		if !r.Available || r.Stale(now, staleTimeout) {
			continue
		}
		if req.MemoryMB > 0 && r.Metrics.Memory.AvailableMB < req.MemoryMB {
			continue
		}
		if req.MaxLatency > 0 && avgLatency > req.MaxLatency {
			continue
		}
		return r
	}
	return nil
}

// index returns the position of the resource with the given id, or -1.
func (t *tier) index(id string) int {
	for i, r := range t.resources {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// remove drops the resource at position i.
func (t *tier) remove(i int) {
	t.resources = append(t.resources[:i], t.resources[i+1:]...)
}

// counts returns busy and total non-stale resource counts.
func (t *tier) counts(now time.Time, staleTimeout time.Duration) (busy, total int) {
	for _, r := range t.resources {
		if r.Stale(now, staleTimeout) {
			continue
		}
		total++
		if !r.Available {
			busy++
		}
	}
	return busy, total
}
