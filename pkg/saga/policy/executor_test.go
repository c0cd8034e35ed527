// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/sagakit/pkg/saga"
)

func TestExecuteNilPolicyInvokesOnce(t *testing.T) {
	exec := NewExecutor(nil)

	calls := 0
	outcome, err := exec.Execute(context.Background(), func(ctx context.Context) (saga.StepOutcome, error) {
		calls++
		return saga.OutcomeAwaiting, nil
	})

	require.NoError(t, err)
	assert.Equal(t, saga.OutcomeAwaiting, outcome)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesMaxRetriesPlusOne(t *testing.T) {
	exec := NewExecutor(&saga.StepPolicy{MaxRetries: 2}, WithStepType("flaky"))

	calls := 0
	stepErr := errors.New("boom")
	_, err := exec.Execute(context.Background(), func(ctx context.Context) (saga.StepOutcome, error) {
		calls++
		return saga.OutcomeContinue, stepErr
	})

	assert.Equal(t, 3, calls, "MaxRetries=2 allows 3 total attempts")
	require.Error(t, err)
	assert.True(t, saga.IsRetryExhausted(err))
	assert.True(t, errors.Is(err, stepErr), "exhaustion error must wrap the last attempt error")
}

func TestExecuteSucceedsAfterRetry(t *testing.T) {
	exec := NewExecutor(&saga.StepPolicy{MaxRetries: 3})

	calls := 0
	outcome, err := exec.Execute(context.Background(), func(ctx context.Context) (saga.StepOutcome, error) {
		calls++
		if calls < 3 {
			return saga.OutcomeContinue, errors.New("transient")
		}
		return saga.OutcomeContinue, nil
	})

	require.NoError(t, err)
	assert.Equal(t, saga.OutcomeContinue, outcome)
	assert.Equal(t, 3, calls)
}

func TestExecuteZeroRetriesReturnsBareError(t *testing.T) {
	exec := NewExecutor(&saga.StepPolicy{MaxRetries: 0})

	stepErr := errors.New("fatal")
	_, err := exec.Execute(context.Background(), func(ctx context.Context) (saga.StepOutcome, error) {
		return saga.OutcomeContinue, stepErr
	})

	assert.ErrorIs(t, err, stepErr)
	assert.False(t, saga.IsRetryExhausted(err), "single-attempt failures are not retry exhaustion")
}

func TestExecuteCancellationStopsRetries(t *testing.T) {
	exec := NewExecutor(&saga.StepPolicy{MaxRetries: 5, RetryDelay: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := exec.Execute(ctx, func(c context.Context) (saga.StepOutcome, error) {
		calls++
		cancel()
		return saga.OutcomeContinue, errors.New("failing")
	})

	assert.ErrorIs(t, err, context.Canceled, "cancellation must surface unchanged")
	assert.Equal(t, 1, calls)
}

func TestExecuteCancelledBeforeFirstAttempt(t *testing.T) {
	exec := NewExecutor(&saga.StepPolicy{MaxRetries: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := exec.Execute(ctx, func(c context.Context) (saga.StepOutcome, error) {
		calls++
		return saga.OutcomeContinue, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestExecutePerAttemptTimeout(t *testing.T) {
	exec := NewExecutor(&saga.StepPolicy{MaxRetries: 1, Timeout: 20 * time.Millisecond})

	calls := 0
	_, err := exec.Execute(context.Background(), func(ctx context.Context) (saga.StepOutcome, error) {
		calls++
		select {
		case <-ctx.Done():
			return saga.OutcomeContinue, ctx.Err()
		case <-time.After(time.Second):
			return saga.OutcomeContinue, nil
		}
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "per-attempt timeout counts as a step failure")
	assert.Equal(t, 2, calls, "a timed-out attempt is retried")
}

func TestExecuteDetectsSwallowedDeadline(t *testing.T) {
	exec := NewExecutor(&saga.StepPolicy{MaxRetries: 0, Timeout: 10 * time.Millisecond})

	_, err := exec.Execute(context.Background(), func(ctx context.Context) (saga.StepOutcome, error) {
		time.Sleep(30 * time.Millisecond)
		// Step ignores the deadline and reports success.
		return saga.OutcomeContinue, nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteOnRetryCallback(t *testing.T) {
	var attempts []int
	exec := NewExecutor(
		&saga.StepPolicy{MaxRetries: 2},
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		}),
	)

	_, _ = exec.Execute(context.Background(), func(ctx context.Context) (saga.StepOutcome, error) {
		return saga.OutcomeContinue, errors.New("always")
	})

	assert.Equal(t, []int{1, 2}, attempts, "callback fires before each retry, not after the last failure")
}

func TestRetryDelayBackoff(t *testing.T) {
	policy := &saga.StepPolicy{
		RetryDelay:    100 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      500 * time.Millisecond,
	}

	assert.Equal(t, 100*time.Millisecond, retryDelay(policy, 1))
	assert.Equal(t, 200*time.Millisecond, retryDelay(policy, 2))
	assert.Equal(t, 400*time.Millisecond, retryDelay(policy, 3))
	assert.Equal(t, 500*time.Millisecond, retryDelay(policy, 4), "delay is capped by MaxDelay")
	assert.Equal(t, 500*time.Millisecond, retryDelay(policy, 10))
}

func TestRetryDelayFixedInterval(t *testing.T) {
	policy := &saga.StepPolicy{RetryDelay: 50 * time.Millisecond}

	assert.Equal(t, 50*time.Millisecond, retryDelay(policy, 1))
	assert.Equal(t, 50*time.Millisecond, retryDelay(policy, 5), "factor below 1 means fixed interval")

	assert.Zero(t, retryDelay(nil, 1))
	assert.Zero(t, retryDelay(&saga.StepPolicy{}, 1))
}
