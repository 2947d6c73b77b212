package fetch

import (
	"errors"
	"fmt"
)

// StatusError reports an HTTP response outside 2xx/304.
type StatusError struct {
	Code   int
	Status string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("unexpected status: %s", e.Status)
	}
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// ExhaustedError is returned once every attempt in the budget has failed.
// Last is the error from the final attempt.
type ExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s: giving up after %d attempt(s): %v", e.URL, e.Attempts, e.Last)
}

// Unwrap exposes the last attempt's error to errors.Is/As.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// errBodyTooLarge is returned when a response exceeds MaxBodyBytes.
var errBodyTooLarge = errors.New("response body exceeds size limit")

// errUnsolicitedNotModified is returned for a 304 to an unconditional request.
var errUnsolicitedNotModified = errors.New("304 Not Modified for unconditional request")

// IsStatus reports whether err wraps a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
