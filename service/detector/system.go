package detector

import (
	"context"
	"runtime"
	"sync"

	"github.com/viant/taskpool/model/resource"
)

// System reports availability from the Go runtime. Memory use comes from
// runtime.MemStats against a configured total; CPU load is approximated from
// the goroutine count relative to core capacity.
type System struct {
	mu            sync.Mutex
	memoryTotalMB float64
	cores         int
	warning       float64
	critical      float64
}

// SystemOption customises the system detector.
type SystemOption func(*System)

// WithMemoryTotalMB overrides the assumed total system memory.
func WithMemoryTotalMB(totalMB float64) SystemOption {
	return func(s *System) {
		s.memoryTotalMB = totalMB
	}
}

// WithThresholds overrides the warning/critical utilization cut-offs.
func WithThresholds(warning, critical float64) SystemOption {
	return func(s *System) {
		s.warning = warning
		s.critical = critical
	}
}

// NewSystem creates a runtime-backed detector.
func NewSystem(opts ...SystemOption) *System {
	ret := &System{
		memoryTotalMB: 8192,
		cores:         runtime.NumCPU(),
		warning:       0.7,
		critical:      0.9,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// GetAvailability returns the current system availability report.
func (s *System) GetAvailability(ctx context.Context) (*Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	usedMB := float64(memStats.Sys-memStats.HeapReleased) / (1024 * 1024)
	if usedMB > s.memoryTotalMB {
		usedMB = s.memoryTotalMB
	}
	memUtil := usedMB / s.memoryTotalMB

	// goroutines per core as a coarse load proxy; 10 per core saturates
	goroutines := float64(runtime.NumGoroutine())
	cpuUtil := goroutines / float64(s.cores*10)
	if cpuUtil > 1 {
		cpuUtil = 1
	}

	status := resource.Healthy
	switch peak := max(memUtil, cpuUtil); {
	case peak >= s.critical:
		status = resource.Critical
	case peak >= s.warning:
		status = resource.Warning
	}

	return &Availability{
		Status: status,
		Memory: Utilization{Utilization: memUtil, Available: s.memoryTotalMB - usedMB},
		CPU:    Utilization{Utilization: cpuUtil, Available: float64(s.cores) * (1 - cpuUtil)},
		Disk:   Utilization{},
	}, nil
}

// GetCurrentResources returns total system capacity.
func (s *System) GetCurrentResources(ctx context.Context) (*SystemResources, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &SystemResources{
		MemoryTotalMB: s.memoryTotalMB,
		CPUCores:      s.cores,
	}, nil
}
