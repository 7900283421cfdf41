// Package queue holds the errors shared by check queue implementations.
package queue

import "errors"

var (
	// ErrQueueFull is returned by TryEnqueue when no capacity is left.
	ErrQueueFull = errors.New("check queue full")
	// ErrQueueClosed is returned once the queue has been closed.
	ErrQueueClosed = errors.New("check queue closed")
)
