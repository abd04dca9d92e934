package pool

import "errors"

var (
	// ErrInvalidPool is returned when a released resource does not belong to
	// any tier known to this pool.
	ErrInvalidPool = errors.New("resource does not belong to this pool")

	// ErrInvalidPriority is returned when a request names a priority with no
	// backing tier.
	ErrInvalidPriority = errors.New("invalid priority tier")

	// ErrResourceExhausted is returned when no resource can satisfy the
	// request and the tier has no headroom to grow.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrResourceStale is returned when a resource is released that is no
	// longer tracked, or whose staleness window already elapsed.
	ErrResourceStale = errors.New("resource is stale")
)
