package models

import (
	"errors"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")

	// ErrInsufficientPoints is a producer-side precondition failure: no job
	// is created and nothing is charged.
	ErrInsufficientPoints = errors.New("insufficient points balance")

	// ErrJobTerminal is returned when an operation (cancel) targets a job
	// that already reached a terminal status.
	ErrJobTerminal = errors.New("job already in terminal state")
)
