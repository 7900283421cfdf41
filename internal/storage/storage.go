// Package storage holds the sentinel errors shared by the store backends.
package storage

import "errors"

var (
	// ErrNotFound is returned when a product, alert or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for records that violate entity invariants.
	ErrInvalidInput = errors.New("invalid input")
)
