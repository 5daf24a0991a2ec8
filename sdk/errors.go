package voice

import (
	"errors"
	"fmt"
)

// Sentinel errors for recoverable client-side failures.
var (
	// ErrNotConnected is returned when audio is sent without an open transport.
	ErrNotConnected = errors.New("session is not connected")

	// ErrRetryBudgetExhausted is terminal: the reconnect budget is spent and
	// a fresh Connect is required.
	ErrRetryBudgetExhausted = errors.New("reconnect attempts exhausted")

	// ErrRecording is returned by operations that are rejected while a
	// recording is in progress (mode toggle, double start).
	ErrRecording = errors.New("recording in progress")

	// ErrMicBusy is returned when the microphone lease is already held.
	ErrMicBusy = errors.New("microphone is in use")
)

// TransportError wraps a connectivity failure with the endpoint it hit.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
