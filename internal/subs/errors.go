package subs

import "errors"

var (
	// ErrInvalidInterval rejects non-positive tick intervals.
	ErrInvalidInterval = errors.New("interval must be positive")

	// ErrInvalidLimit rejects negative per-tick item counts.
	// A zero limit is not an error; it defaults to one item per tick.
	ErrInvalidLimit = errors.New("limit must be positive")

	// ErrNotStarted is returned when registering against a stopped service.
	ErrNotStarted = errors.New("scheduler not started")
)
