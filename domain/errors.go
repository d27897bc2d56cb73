package domain

import "errors"

var (
	// ErrNotFound indicates that no task matches the requested id.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidInput indicates a missing, malformed or mistyped field.
	ErrInvalidInput = errors.New("invalid input")
)
