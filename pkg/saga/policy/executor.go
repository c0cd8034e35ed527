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

// Package policy wraps saga step execution with the per-step retry and
// timeout policy. The timeout is the innermost bound, applied per attempt;
// retry wraps it, re-invoking on any error up to MaxRetries additional
// times. When retries are exhausted the last error propagates to the
// orchestrator's failure handling.
package policy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/sagakit/pkg/logger"
	"github.com/innovationmech/sagakit/pkg/saga"
)

// StepFunc is one step invocation bound to its saga context.
type StepFunc func(ctx context.Context) (saga.StepOutcome, error)

// Executor executes a step function under a saga.StepPolicy.
type Executor struct {
	policy   *saga.StepPolicy
	stepType string
	logger   *zap.Logger

	// onRetry is called before each retry attempt (optional)
	onRetry func(attempt int, err error, delay time.Duration)
}

// ExecutorOption is a functional option for configuring the Executor.
type ExecutorOption func(*Executor)

// WithLogger sets a custom logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStepType tags the executor with the step-type identity it wraps, used
// in logs and exhausted-retry errors.
func WithStepType(stepType string) ExecutorOption {
	return func(e *Executor) {
		e.stepType = stepType
	}
}

// WithOnRetry sets a callback invoked before each retry attempt.
func WithOnRetry(callback func(attempt int, err error, delay time.Duration)) ExecutorOption {
	return func(e *Executor) {
		e.onRetry = callback
	}
}

// NewExecutor creates an executor for the given policy. A nil policy yields
// an executor that invokes the step directly with no retry/timeout wrapping.
func NewExecutor(policy *saga.StepPolicy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		policy: policy,
		logger: logger.GetLogger().Named("policy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the step function under the configured policy. The context is
// the saga's cancellation signal; per-attempt timeouts are derived from it.
func (e *Executor) Execute(ctx context.Context, fn StepFunc) (saga.StepOutcome, error) {
	if e.policy == nil {
		return fn(ctx)
	}

	maxAttempts := e.policy.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// The saga's cancellation takes precedence over the retry budget.
		if err := ctx.Err(); err != nil {
			return saga.OutcomeContinue, err
		}

		outcome, err := e.executeAttempt(ctx, fn)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("step succeeded after retry",
					zap.Int("attempt", attempt),
				)
			}
			return outcome, nil
		}
		lastErr = err

		// A cancelled parent context is not a step failure; surface it
		// unchanged so the orchestrator parks the saga instead of
		// compensating.
		if ctx.Err() != nil {
			return saga.OutcomeContinue, ctx.Err()
		}

		if attempt == maxAttempts {
			break
		}

		delay := retryDelay(e.policy, attempt)
		e.logger.Warn("step attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if e.onRetry != nil {
			e.onRetry(attempt, err, delay)
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				return saga.OutcomeContinue, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	e.logger.Error("step retry attempts exhausted",
		zap.String("step_type", e.stepType),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	if e.policy.MaxRetries > 0 {
		return saga.OutcomeContinue, saga.NewRetryExhaustedError(e.stepType, maxAttempts, lastErr)
	}
	return saga.OutcomeContinue, lastErr
}

// executeAttempt runs a single attempt, bounded by the per-attempt timeout
// when one is configured.
func (e *Executor) executeAttempt(ctx context.Context, fn StepFunc) (saga.StepOutcome, error) {
	if e.policy.Timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.policy.Timeout)
	defer cancel()

	outcome, err := fn(attemptCtx)
	if err == nil && attemptCtx.Err() != nil && ctx.Err() == nil {
		// The step swallowed the deadline; treat the attempt as timed out.
		return saga.OutcomeContinue, context.DeadlineExceeded
	}
	return outcome, err
}
