package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated reports input that ends before the frame it declares.
	ErrTruncated = errors.New("wire: truncated input")
	// ErrMalformed reports input whose structure is invalid.
	ErrMalformed = errors.New("wire: malformed input")
)

// CodecError describes a decode failure. It matches ErrTruncated or
// ErrMalformed through errors.Is.
type CodecError struct {
	Kind   error
	Offset int
	Detail string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

func (e *CodecError) Unwrap() error {
	return e.Kind
}

func truncated(offset int, format string, args ...interface{}) error {
	return &CodecError{Kind: ErrTruncated, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

func malformed(offset int, format string, args ...interface{}) error {
	return &CodecError{Kind: ErrMalformed, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}
