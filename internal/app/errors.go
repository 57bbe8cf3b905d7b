package app

import "errors"

var (
	// ErrValidation marks a rejected event with a missing or empty required
	// field. No side effects, no broadcast.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateDocument marks an upload whose (name, room) pair already
	// exists. Surfaced to the uploading client only.
	ErrDuplicateDocument = errors.New("document already exists")
	// ErrNotBound marks an event from a connection with no joined user.
	ErrNotBound = errors.New("no user bound to connection")
)
