package domain

import "errors"

// Error kinds. Callers wrap these with context and test with errors.Is.
var (
	// ErrInvalidInput marks a missing or malformed pair or interval at the query boundary.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable marks a failed or timed out historical or market fetch.
	// Callers substitute empty defaults.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrTransientStreamFault marks a single unprocessable ingest event.
	// The event is dropped and the ingest loop continues.
	ErrTransientStreamFault = errors.New("transient stream fault")

	// ErrConnectionLost marks a closed streaming transport.
	ErrConnectionLost = errors.New("connection lost")
)
