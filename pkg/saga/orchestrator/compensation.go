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

package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/sagakit/pkg/saga"
)

// compensate transitions the saga into Compensating and rolls back every
// step before the failed one. The failed step's own forward action did not
// complete, so it is never compensated.
func (o *Orchestrator[T]) compensate(ctx context.Context, entity *saga.Entity, failedIndex int) error {
	entity.Status = saga.StatusCompensating
	if err := o.store.UpdateStatus(ctx, entity.SagaID, saga.StatusCompensating); err != nil {
		return err
	}
	o.emitSagaEvent(ctx, saga.EventCompensationStarted, entity, nil)

	return o.runCompensation(ctx, entity, failedIndex-1)
}

// runCompensation invokes compensations from the given index down to zero,
// persisting after each so that the stored index always names the last step
// whose compensation ran. Compensation is best-effort: a failing or
// unresolvable compensation is logged and the rollback of earlier steps
// continues.
//
// Rollback progress is persisted on a detached context: once a compensation
// has run, losing its persist to a cancellation would replay it on recovery
// for no reason.
func (o *Orchestrator[T]) runCompensation(ctx context.Context, entity *saga.Entity, from int) error {
	pctx := context.WithoutCancel(ctx)

	for index := from; index >= 0; index-- {
		// Cancellation leaves the saga Compensating at its persisted index;
		// the recovery sweep will finish the rollback later. Like the
		// forward-path park this is a normal return, not an error.
		if err := ctx.Err(); err != nil {
			o.logger.Warn("compensation cancelled, parked for recovery",
				zap.String("saga_id", entity.SagaID.String()),
				zap.Int("step_index", entity.CurrentStepIndex),
			)
			o.metrics.RecordSagaCancelled(o.sagaType)
			o.emitSagaEvent(pctx, saga.EventSagaCancelled, entity, err)
			return nil
		}

		o.compensateStep(ctx, entity, index)

		entity.CurrentStepIndex = index
		if err := o.store.UpdateStepIndex(pctx, entity.SagaID, index); err != nil {
			return err
		}
		if err := o.store.UpdateContextData(pctx, entity.SagaID, entity.ContextData); err != nil {
			return err
		}
	}

	entity.Status = saga.StatusCompensated
	entity.CurrentStepIndex = 0
	if err := o.store.Update(pctx, entity); err != nil {
		return err
	}
	o.logger.Info("saga compensated",
		zap.String("saga_id", entity.SagaID.String()),
	)
	o.metrics.RecordSagaCompensated(o.sagaType, time.Since(entity.CreatedAt))
	o.emitSagaEvent(ctx, saga.EventCompensationCompleted, entity, nil)
	return nil
}

// compensateStep runs a single step's compensation against a fresh
// deserialization of the persisted context. Failures are recorded and
// swallowed.
func (o *Orchestrator[T]) compensateStep(ctx context.Context, entity *saga.Entity, index int) {
	def := o.steps[index]

	stepCtx, span := o.telemetry.StartStepSpan(ctx, entity.SagaID, def.StepType, index)
	defer span.End()

	sagaCtx := new(T)
	if err := o.codec.Unmarshal(entity.ContextData, sagaCtx); err != nil {
		o.logCompensationFailure(stepCtx, entity, index, saga.NewSerializationError("unmarshal", err))
		return
	}

	step, err := o.resolver.Resolve(def.StepType)
	if err != nil {
		o.logCompensationFailure(stepCtx, entity, index, err)
		return
	}

	start := time.Now()
	err = step.Compensate(stepCtx, sagaCtx)
	o.metrics.RecordCompensationExecuted(o.sagaType, def.StepType, err == nil, time.Since(start))
	if err != nil {
		o.logCompensationFailure(stepCtx, entity, index, saga.NewCompensationFailedError(def.StepType, index, err))
		return
	}

	if data, merr := o.codec.Marshal(sagaCtx); merr == nil {
		entity.ContextData = data
	} else {
		o.logger.Error("failed to serialize context after compensation",
			zap.String("saga_id", entity.SagaID.String()),
			zap.String("step_type", def.StepType),
			zap.Error(merr),
		)
	}

	o.emitStepEvent(stepCtx, saga.EventStepCompensated, entity, index, saga.OutcomeContinue, nil)
}

func (o *Orchestrator[T]) logCompensationFailure(ctx context.Context, entity *saga.Entity, index int, err error) {
	o.logger.Error("step compensation failed, continuing rollback",
		zap.String("saga_id", entity.SagaID.String()),
		zap.String("step_type", o.steps[index].StepType),
		zap.Int("step_index", index),
		zap.Error(err),
	)
	o.emitStepEvent(ctx, saga.EventStepCompensationFailed, entity, index, saga.OutcomeContinue, err)
}
