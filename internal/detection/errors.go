package detection

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means no usable endpoint or credential is available
	ErrConfiguration = errors.New("detector is not configured")

	// ErrInvalidInput means the image payload is not canonical base64
	ErrInvalidInput = errors.New("invalid image payload")
)

// TransportError reports a failed call to the remote vision endpoint.
// StatusCode is zero when the failure happened before a response arrived.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vision endpoint returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("calling vision endpoint: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is or wraps a *TransportError
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
