package serper

import (
	"errors"
	"fmt"
)

// TransientError marks a search failure worth retrying: timeouts, connection
// errors, HTTP 5xx and 429. The client retries these itself; one escaping
// here means retries were exhausted.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient search error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a search failure that retrying cannot fix: HTTP 4xx
// (other than 429) and malformed response bodies.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent search error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
