package reference

import (
	"errors"
	"fmt"
)

// Reference error reasons. Use errors.Is to test an *Error against them.
var (
	ErrMalformed              = errors.New("malformed key vault reference")
	ErrUnknownEntity          = errors.New("unknown key vault entity type")
	ErrUnrecognizedProperties = errors.New("unrecognized key vault reference properties")
	ErrUnsupportedInput       = errors.New("unsupported key vault reference input")
)

// Error describes why an input could not be turned into a Reference.
type Error struct {
	Op     string // parse step: "uri", "string", "properties", "convert", ...
	Input  string
	Reason error
	Detail string
}

func (e *Error) Error() string {
	msg := e.Reason.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Input != "" {
		msg += fmt.Sprintf(" (input %q)", e.Input)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Reason
}
