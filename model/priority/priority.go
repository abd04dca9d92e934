// Package priority defines the closed set of priority classes used by the
// resource pool and the routing layer. Priorities are compared through their
// ordinal, never through string comparison.
package priority

import "fmt"

// Priority identifies a priority class.
type Priority string

const (
	Low      Priority = "low"
	Medium   Priority = "medium"
	High     Priority = "high"
	Critical Priority = "critical"
)

var ordinals = map[Priority]int{
	Low:      0,
	Medium:   1,
	High:     2,
	Critical: 3,
}

// All returns every priority in ascending ordinal order.
func All() []Priority {
	return []Priority{Low, Medium, High, Critical}
}

// IsValid reports whether p is a member of the closed priority set.
func (p Priority) IsValid() bool {
	_, ok := ordinals[p]
	return ok
}

// Ordinal returns the rank of the priority, Low being 0. Invalid priorities
// rank below Low.
func (p Priority) Ordinal() int {
	if ord, ok := ordinals[p]; ok {
		return ord
	}
	return -1
}

// FromOrdinal maps a rank back to its priority.
func FromOrdinal(ordinal int) (Priority, error) {
	for p, ord := range ordinals {
		if ord == ordinal {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid priority ordinal: %d", ordinal)
}

// AtLeast reports whether p ranks at or above other.
func (p Priority) AtLeast(other Priority) bool {
	return p.Ordinal() >= other.Ordinal()
}
