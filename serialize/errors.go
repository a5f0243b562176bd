package serialize

import "github.com/pkg/errors"

var (
	// ErrShortStream is returned when a stream ends before its declared size.
	ErrShortStream = errors.New("short stream")

	// ErrCorruptStream is returned for a bad header, checksum, count,
	// reference or trailing bytes.
	ErrCorruptStream = errors.New("corrupt stream")

	// ErrInterfaceMismatch is returned when two neighbours disagree on the
	// length of a shared interface.
	ErrInterfaceMismatch = errors.New("interface length mismatch")

	// ErrDanglingReference is returned by the encoder when an element refers
	// to an entity the layout does not hold.
	ErrDanglingReference = errors.New("dangling reference")
)
