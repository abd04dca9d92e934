package detector

import (
	"context"
	"sync"

	"github.com/viant/taskpool/model/resource"
)

// Static serves a fixed availability report. It is used by tests and by
// embedders that source availability from their own monitoring.
type Static struct {
	mu           sync.Mutex
	availability Availability
	resources    SystemResources
}

// NewStatic creates a static detector with the supplied report.
func NewStatic(availability Availability, resources SystemResources) *Static {
	if availability.Status == "" {
		availability.Status = resource.Healthy
	}
	return &Static{availability: availability, resources: resources}
}

// GetAvailability returns the configured availability report.
func (s *Static) GetAvailability(ctx context.Context) (*Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := s.availability
	return &ret, nil
}

// GetCurrentResources returns the configured capacity.
func (s *Static) GetCurrentResources(ctx context.Context) (*SystemResources, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := s.resources
	return &ret, nil
}

// SetAvailability swaps the served report.
func (s *Static) SetAvailability(availability Availability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.availability = availability
}

// SetResources swaps the served capacity.
func (s *Static) SetResources(resources SystemResources) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = resources
}
