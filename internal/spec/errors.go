package spec

import (
	"errors"
	"fmt"
)

var (
	// ErrParse indicates the spec text is not well-formed JSON.
	ErrParse = errors.New("parse error")

	// ErrSchema indicates well-formed JSON that does not match the spec
	// grammar: a non-object root, a `data` member that is not an array, and so on.
	ErrSchema = errors.New("schema error")
)

// ParseError represents a JSON decoding failure. It wraps ErrParse.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrParse.Error(), e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrParse.Error(), e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// SchemaError represents a grammar violation at a specific location. It
// wraps ErrSchema.
type SchemaError struct {
	Path string
	Msg  string
}

func (e *SchemaError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrSchema.Error(), e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", ErrSchema.Error(), e.Path, e.Msg)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }
