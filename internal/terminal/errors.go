package terminal

import (
	"errors"
	"fmt"
)

// Error taxonomy. Login failures are fatal to the whole run, symbol failures
// are fatal to one strategy, volume/order failures abort a single attempt.
var (
	ErrLogin          = errors.New("terminal login failed")
	ErrSymbol         = errors.New("symbol unavailable")
	ErrVolume         = errors.New("volume out of range")
	ErrOrder          = errors.New("order rejected")
	ErrNotInitialized = errors.New("symbol not initialized")
)

// TransientError marks a connectivity-class failure the gateway may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient terminal failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the gateway retries it. A nil err returns nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is retryable by the gateway.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryExhaustedError surfaces a transient failure that outlived all attempts.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
