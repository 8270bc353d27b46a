package position

import "errors"

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrProviderUnavailable = errors.New("location provider unavailable")
	ErrProviderTimeout     = errors.New("location provider timeout")
	ErrBufferFull          = errors.New("position buffer full")
)

// IsProviderError reports whether err is one of the recoverable provider
// failures that should degrade tracking rather than stop it.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProviderTimeout)
}
