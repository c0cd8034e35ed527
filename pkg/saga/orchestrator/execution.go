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

// runForward drives the saga from its current step index to completion, an
// Awaiting pause, or a failure hand-off into compensation.
//
// Each iteration persists the step index and the context blob before the
// step is invoked, so that a crash at any point leaves the persisted triple
// pointing at a step that is safe to re-execute. Context mutations made by a
// step are held in memory and persisted at the top of the next iteration, or
// as part of the full update on an Awaiting or terminal transition.
func (o *Orchestrator[T]) runForward(ctx context.Context, entity *saga.Entity) error {
	for entity.CurrentStepIndex < len(o.steps) {
		// A cancelled run parks the saga InProgress at its current index; it
		// is not a failure and must not trigger compensation.
		if err := ctx.Err(); err != nil {
			return o.parkCancelled(ctx, entity, err)
		}

		index := entity.CurrentStepIndex
		if err := o.store.UpdateStepIndex(ctx, entity.SagaID, index); err != nil {
			return err
		}
		if err := o.store.UpdateContextData(ctx, entity.SagaID, entity.ContextData); err != nil {
			return err
		}

		outcome, err := o.executeStep(ctx, entity, index)
		if err != nil {
			if ctx.Err() != nil {
				return o.parkCancelled(ctx, entity, err)
			}
			o.logger.Error("saga step failed, starting compensation",
				zap.String("saga_id", entity.SagaID.String()),
				zap.String("step_type", o.steps[index].StepType),
				zap.Int("step_index", index),
				zap.Error(err),
			)
			o.emitSagaEvent(ctx, saga.EventSagaFailed, entity, err)
			return o.compensate(ctx, entity, index)
		}

		if outcome == saga.OutcomeAwaiting {
			entity.Status = saga.StatusAwaiting
			if err := o.store.Update(ctx, entity); err != nil {
				return err
			}
			o.logger.Info("saga awaiting external trigger",
				zap.String("saga_id", entity.SagaID.String()),
				zap.String("step_type", o.steps[index].StepType),
				zap.Int("step_index", index),
			)
			o.metrics.RecordSagaAwaiting(o.sagaType)
			o.emitSagaEvent(ctx, saga.EventSagaStatusChanged, entity, nil)
			return nil
		}

		entity.CurrentStepIndex++
	}

	entity.Status = saga.StatusCompleted
	if err := o.store.Update(ctx, entity); err != nil {
		return err
	}
	o.logger.Info("saga completed",
		zap.String("saga_id", entity.SagaID.String()),
		zap.Int("steps", len(o.steps)),
	)
	o.metrics.RecordSagaCompleted(o.sagaType, time.Since(entity.CreatedAt))
	o.emitSagaEvent(ctx, saga.EventSagaCompleted, entity, nil)
	return nil
}

// executeStep runs one forward step: deserialize the persisted context,
// resolve the step instance, execute under the step's policy, then
// re-serialize the context into the entity for the next persistence point.
func (o *Orchestrator[T]) executeStep(ctx context.Context, entity *saga.Entity, index int) (saga.StepOutcome, error) {
	def := o.steps[index]

	stepCtx, span := o.telemetry.StartStepSpan(ctx, entity.SagaID, def.StepType, index)
	defer span.End()

	sagaCtx := new(T)
	if err := o.codec.Unmarshal(entity.ContextData, sagaCtx); err != nil {
		return saga.OutcomeContinue, saga.NewSerializationError("unmarshal", err)
	}

	step, err := o.resolver.Resolve(def.StepType)
	if err != nil {
		return saga.OutcomeContinue, err
	}

	o.emitStepEvent(stepCtx, saga.EventStepStarted, entity, index, saga.OutcomeContinue, nil)

	invoke := func(c context.Context) (saga.StepOutcome, error) {
		return step.Execute(c, sagaCtx)
	}

	start := time.Now()
	var outcome saga.StepOutcome
	if exec := o.executors[index]; exec != nil {
		outcome, err = exec.Execute(stepCtx, invoke)
	} else {
		outcome, err = invoke(stepCtx)
	}
	o.metrics.RecordStepExecuted(o.sagaType, def.StepType, err == nil, time.Since(start))

	if err != nil {
		o.emitStepEvent(stepCtx, saga.EventStepFailed, entity, index, outcome, err)
		return outcome, saga.NewStepExecutionError(def.StepType, index, err)
	}

	data, err := o.codec.Marshal(sagaCtx)
	if err != nil {
		return outcome, saga.NewSerializationError("marshal", err)
	}
	entity.ContextData = data

	o.emitStepEvent(stepCtx, saga.EventStepCompleted, entity, index, outcome, nil)
	return outcome, nil
}

// parkCancelled persists the saga as-is, still InProgress at its current
// index, so the recovery sweep can pick it up later. The persist runs on a
// detached context because the triggering context is already cancelled.
//
// Parking is a normal outcome, not a failure: the call returns nil and the
// caller learns the saga is still InProgress from the persisted entity.
func (o *Orchestrator[T]) parkCancelled(ctx context.Context, entity *saga.Entity, cause error) error {
	pctx := context.WithoutCancel(ctx)
	if err := o.store.UpdateStepIndex(pctx, entity.SagaID, entity.CurrentStepIndex); err != nil {
		o.logger.Error("failed to persist step index while parking cancelled saga",
			zap.String("saga_id", entity.SagaID.String()),
			zap.Error(err),
		)
	}
	if err := o.store.UpdateContextData(pctx, entity.SagaID, entity.ContextData); err != nil {
		o.logger.Error("failed to persist context while parking cancelled saga",
			zap.String("saga_id", entity.SagaID.String()),
			zap.Error(err),
		)
	}

	o.logger.Warn("saga run cancelled, parked for recovery",
		zap.String("saga_id", entity.SagaID.String()),
		zap.Int("step_index", entity.CurrentStepIndex),
		zap.Error(cause),
	)
	o.metrics.RecordSagaCancelled(o.sagaType)
	o.emitSagaEvent(pctx, saga.EventSagaCancelled, entity, cause)
	return nil
}
