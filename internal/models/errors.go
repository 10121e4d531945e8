package models

import "errors"

// Closed set of error kinds for the terminal core. Callers branch with
// errors.Is instead of matching message strings.
var (
	// ErrNotFound indicates the session, recording, or connection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a duplicate create (PTY for a session that
	// already has one, recording for a session that is already being recorded).
	ErrAlreadyExists = errors.New("already exists")

	// ErrTerminated indicates an operation against a PTY whose process has exited.
	ErrTerminated = errors.New("process terminated")

	// ErrProcess wraps spawn and post-start process I/O failures.
	ErrProcess = errors.New("process error")

	// ErrInvalidTransition indicates a recording status change the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidConfig indicates configuration outside accepted bounds.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrActive indicates an operation that requires the resource to be
	// finished first, such as deleting a recording still being written.
	ErrActive = errors.New("still active")
)
