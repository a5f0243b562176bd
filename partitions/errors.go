package partitions

import "errors"

var (
	// ErrPartitionerUnavailable is returned by NewEngine when no usable
	// partitioner backs the configured strategy.
	ErrPartitionerUnavailable = errors.New("partitioner unavailable")
	ErrBadGraph               = errors.New("malformed partition graph")
	ErrBadHierarchy           = errors.New("invalid process hierarchy")
	ErrIncomplete             = errors.New("element without target process")
)
