package operation

import "errors"

// ErrNotRegistered is returned when a plugin name resolves to nothing.
var ErrNotRegistered = errors.New("operation not registered")
