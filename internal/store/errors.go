package store

import "errors"

var (
	ErrNotFound  = errors.New("store: resource not found")
	ErrDuplicate = errors.New("store: duplicate resource")
	// ErrConflict is returned when a write would violate terminal-status
	// monotonicity (a terminal job never transitions again).
	ErrConflict = errors.New("store: conflicting resource state")
)
