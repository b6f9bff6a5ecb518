// Package errs defines the error kinds shared across the plant engine.
// Call sites wrap these with fmt.Errorf("...: %w", ...) and callers match
// with errors.Is.
package errs

import "errors"

var (
	ErrInvalid       = errors.New("invalid argument")
	ErrNotFound      = errors.New("not found")
	ErrNotConfigured = errors.New("not configured")
	ErrOffline       = errors.New("offline")
	ErrMisconfigured = errors.New("misconfigured")
	ErrExists        = errors.New("already exists")
	ErrEmpty         = errors.New("empty")
	ErrTooBig        = errors.New("too big")
	ErrGeneric       = errors.New("failure")
	ErrMismatch      = errors.New("mismatch")

	// ErrDeadband and ErrDeadzone are "no action this cycle" signals, not
	// failures. They are consumed inside the valve and control layers and
	// never surface past the plant tick.
	ErrDeadband = errors.New("within actuator deadband")
	ErrDeadzone = errors.New("within control deadzone")
)
