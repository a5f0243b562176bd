package layout

import "errors"

var (
	ErrLocalIDOverflow = errors.New("local id does not fit an interface entry")
	ErrAsymmetric      = errors.New("asymmetric interface")
	ErrBadEntry        = errors.New("interface entry out of range")
)
