package tracker

import (
	"context"
	"errors"
	"fmt"
)

// Stage is a state of the check state machine.
type Stage string

// Check stages.
const (
	StagePending    Stage = "pending"
	StageFetching   Stage = "fetching"
	StageExtracting Stage = "extracting"
	StagePersisting Stage = "persisting"
	StageAnalyzing  Stage = "analyzing"
	StageNotifying  Stage = "notifying"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Terminal reports whether no further transitions follow the stage.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// FailureKind classifies why a check attempt failed.
type FailureKind string

// Failure kinds.
const (
	KindNetwork             FailureKind = "network_failure"
	KindBlocked             FailureKind = "blocked"
	KindIncompleteData      FailureKind = "incomplete_data"
	KindUnsupportedPlatform FailureKind = "unsupported_platform"
	KindProductUnavailable  FailureKind = "product_unavailable"
	KindPersistence         FailureKind = "persistence_failure"
	KindNotification        FailureKind = "notification_failure"
	KindTimeout             FailureKind = "timeout_exceeded"
)

// Retryable reports the default retry classification of the kind.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindNetwork, KindBlocked, KindIncompleteData, KindPersistence, KindTimeout:
		return true
	default:
		return false
	}
}

// Failure is a classified check failure.
type Failure struct {
	Kind      FailureKind
	Stage     Stage
	Retryable bool
	Err       error
}

// NewFailure classifies err with the kind's default retryability.
func NewFailure(kind FailureKind, stage Stage, err error) *Failure {
	return &Failure{
		Kind:      kind,
		Stage:     stage,
		Retryable: kind.Retryable(),
		Err:       err,
	}
}

// Permanent returns a copy of the failure that must not be retried.
func (f *Failure) Permanent() *Failure {
	cp := *f
	cp.Retryable = false
	return &cp
}

func (f *Failure) Error() string {
	if f.Stage == "" {
		if f.Err == nil {
			return string(f.Kind)
		}
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	if f.Err == nil {
		return fmt.Sprintf("%s during %s", f.Kind, f.Stage)
	}
	return fmt.Sprintf("%s during %s: %v", f.Kind, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsRetryable reports whether err is a retryable Failure.
func IsRetryable(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Retryable
}

// KindOf returns the failure kind of err, or an empty kind if unclassified.
func KindOf(err error) FailureKind {
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return ""
}

// ClassifyFetchError maps a fetch error to a network or timeout failure.
func ClassifyFetchError(ctx context.Context, err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewFailure(KindTimeout, StageFetching, err)
	}
	return NewFailure(KindNetwork, StageFetching, err)
}
