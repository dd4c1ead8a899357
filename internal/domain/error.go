package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPopTimeout      = errors.New("queue pop timed out")
	ErrAlreadyTerminal = errors.New("job already in a terminal state")
)
