// Package errdefs defines the error categories shared across the fleet
// packages. Callers classify failures with errors.Is and wrap these
// sentinels with context using fmt.Errorf and %w.
package errdefs

import "errors"

var (
	// ErrConfiguration marks errors raised before any host or process
	// exists: unknown strategy names, missing required parameters,
	// malformed experiment files. Nothing to roll back.
	ErrConfiguration = errors.New("configuration error")

	// ErrResourceUnavailable marks a destination or host that could not
	// be reached within its timeout. Fails only the stream or host
	// operation it belongs to.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrProcessFailure marks a spawned process that exited nonzero.
	ErrProcessFailure = errors.New("process failure")

	// ErrStateCorruption marks a control record that exists but cannot
	// be read or decoded. A missing record is not corruption; it reads
	// as "never started".
	ErrStateCorruption = errors.New("state corruption")
)
