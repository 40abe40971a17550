package jsonmap

import "errors"

// Sentinel errors callers branch on.
var (
	// ErrNilRoot is returned when the mutation target pointer is nil.
	ErrNilRoot = errors.New("nil root")
	// ErrBadPath is returned for structurally invalid paths.
	ErrBadPath = errors.New("bad path")
	// ErrNotFound is returned when an intermediate or terminal step is missing.
	ErrNotFound = errors.New("path not found")
	// ErrTypeMismatch is returned when a step or replacement has the wrong kind.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrCannotExtendScalar is returned when Add hits a scalar terminal.
	ErrCannotExtendScalar = errors.New("cannot extend scalar")
)
