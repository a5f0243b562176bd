package comm

import "errors"

var (
	// ErrBadRank is returned when a peer rank is outside the world.
	ErrBadRank = errors.New("rank out of range")

	// ErrNotMember is returned when a rank builds a group it is not part of.
	ErrNotMember = errors.New("rank is not a member of the group")

	// ErrBadFrame is returned when a collective payload cannot be decoded.
	ErrBadFrame = errors.New("malformed collective frame")
)
