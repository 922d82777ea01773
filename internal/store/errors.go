package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrInvalidPath is returned when a script path escapes the scripts directory
	ErrInvalidPath = errors.New("invalid script path")
)
