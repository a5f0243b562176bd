package config

import "errors"

// ErrInvalidConfig is returned for out-of-range or unknown settings.
var ErrInvalidConfig = errors.New("invalid configuration")
