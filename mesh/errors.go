package mesh

import "errors"

var (
	// ErrUnknownShape is returned for shapes outside the dispatch table.
	ErrUnknownShape = errors.New("unknown element shape")

	// ErrVertexCount is returned when a cell has the wrong number of corners.
	ErrVertexCount = errors.New("wrong number of vertices for shape")

	// ErrBadReference is returned when an index points outside its slice.
	ErrBadReference = errors.New("element reference out of range")

	// ErrInvalidMesh is returned when a multigrid is used after an aborted
	// redistribution.
	ErrInvalidMesh = errors.New("mesh invalid, redistribution must be re-run")
)
