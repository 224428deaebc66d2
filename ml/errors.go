package ml

import "github.com/pkg/errors"

// Error kinds returned by the engine, the wrapper and the repositories.
// Callers classify with errors.Is; messages carry the detail.
var (
	// ErrInvalidInput marks a caller error: wrong pixel count or a label outside 0..9.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSerialization marks a ModelState whose tensor lengths do not match the network.
	ErrSerialization = errors.New("serialization error")
	// ErrPersistence marks a storage read/write or decode failure.
	ErrPersistence = errors.New("persistence error")
	// ErrInternal marks a failed background computation (panic, timeout, cancellation).
	ErrInternal = errors.New("internal error")
)
