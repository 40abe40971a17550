package template

import "errors"

var (
	// ErrTemplate is returned when parsing or executing a template fails.
	ErrTemplate = errors.New("template error")
	// ErrBadCondition is returned for malformed boolean expressions.
	ErrBadCondition = errors.New("bad condition")
)
