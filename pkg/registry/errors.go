package registry

import "errors"

var (
	ErrFunctionNotFound = errors.New("function not found")
	ErrTagNotFound      = errors.New("tag not found")
	ErrDigestNotFound   = errors.New("digest not found")
	ErrInvalidReference = errors.New("invalid reference format")
	ErrVersionNotFound  = errors.New("version not found")
)

// IsNotFound reports whether err means the reference does not resolve.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFunctionNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrTagNotFound) ||
		errors.Is(err, ErrDigestNotFound)
}
