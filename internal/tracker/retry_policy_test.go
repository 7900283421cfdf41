package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	retryable := NewFailure(KindIncompleteData, StageExtracting, nil)
	permanent := NewFailure(KindUnsupportedPlatform, StagePending, nil)

	require.True(t, p.ShouldRetry(retryable, 1))
	require.True(t, p.ShouldRetry(retryable, 2))
	require.False(t, p.ShouldRetry(retryable, 3))
	require.False(t, p.ShouldRetry(permanent, 1))
	require.False(t, p.ShouldRetry(errors.New("unclassified"), 1))
	require.False(t, p.ShouldRetry(nil, 1))
}

func TestRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	fixed := DefaultRetryPolicy()
	require.Equal(t, time.Minute, fixed.Backoff(1))
	require.Equal(t, time.Minute, fixed.Backoff(2))

	exp := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 3 * time.Second}
	require.Equal(t, time.Second, exp.Backoff(1))
	require.Equal(t, 2*time.Second, exp.Backoff(2))
	require.Equal(t, 3*time.Second, exp.Backoff(3))

	require.Zero(t, RetryPolicy{}.Backoff(1))
}
