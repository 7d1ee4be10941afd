package gateway

import (
	"fmt"

	"acquiring-service/internal/signer"
)

// ErrInvalidPayload marks requests rejected locally before anything is sent.
var ErrInvalidPayload = signer.ErrInvalidPayload

// TransportError means the gateway could not be reached or did not answer
// with a usable response. The outcome of the operation is unknown and it is
// never retried here.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: unexpected status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
