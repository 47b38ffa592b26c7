package repository

import "errors"

var (
	ErrAlreadyExists = errors.New("error already exists")
	ErrNotFound      = errors.New("error not found")

	// ErrStaleStatus is returned when a conditional status update matched no
	// row: the record moved on since the caller last read it.
	ErrStaleStatus = errors.New("error stale status")

	// ErrNegativeQuantity is returned when a holding decrement would take the
	// quantity below zero. The row is left untouched.
	ErrNegativeQuantity = errors.New("error quantity would go negative")
)
