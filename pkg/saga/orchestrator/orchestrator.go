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

// Package orchestrator implements the saga state machine: forward step
// execution, pause/resume on external events, failure-triggered reverse
// compensation, and the entity-resume path used by crash recovery.
//
// The orchestrator is stateless between calls; all instance state lives in
// the persisted saga.Entity. Many saga instances may run concurrently
// against a shared orchestrator, one step at a time within each instance.
package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/innovationmech/sagakit/pkg/logger"
	"github.com/innovationmech/sagakit/pkg/saga"
	"github.com/innovationmech/sagakit/pkg/saga/policy"
	"github.com/innovationmech/sagakit/pkg/saga/telemetry"
)

var (
	// ErrStoreNotConfigured indicates the Store is not configured.
	ErrStoreNotConfigured = errors.New("saga store not configured")

	// ErrResolverNotConfigured indicates the StepResolver is not configured.
	ErrResolverNotConfigured = errors.New("step resolver not configured")

	// ErrNoStepsDefined indicates the saga has no step definitions.
	ErrNoStepsDefined = errors.New("no saga steps defined")

	// ErrNilContext indicates a nil initial context was passed to Start.
	ErrNilContext = errors.New("initial saga context is nil")

	// ErrNilPatch indicates a nil patch was passed to ResumeWithPatch.
	ErrNilPatch = errors.New("context patch is nil")

	// ErrSagaTypeMismatch indicates an entity was routed to the wrong orchestrator.
	ErrSagaTypeMismatch = errors.New("entity saga type does not match orchestrator")
)

// Patch mutates a saga context in place before a resume. The patch receives
// a pointer to the deserialized context; substituting a different value is
// unrepresentable by construction, which closes the aliasing hazard of
// returning a replacement context.
type Patch[T any] func(sagaCtx *T)

// Config configures an Orchestrator for one saga type.
type Config[T any] struct {
	// SagaType names the saga type for routing and telemetry. If empty, the
	// name of T is used.
	SagaType string

	// Store persists saga entities. Required.
	Store saga.Store

	// Resolver resolves step-type identities to step instances. Required.
	Resolver saga.StepResolver[T]

	// Steps is the ordered step list. Order defines both forward execution
	// and reverse compensation order. Required, immutable after construction.
	Steps []saga.StepDefinition

	// Codec serializes contexts. Defaults to the JSON codec.
	Codec saga.ContextCodec

	// Telemetry receives spans and lifecycle events. Defaults to a no-op sink.
	Telemetry saga.TelemetrySink

	// Metrics collects runtime metrics. Defaults to a no-op collector.
	Metrics saga.MetricsCollector

	// Logger is the structured logger. Defaults to the global logger.
	Logger *zap.Logger
}

// Validate checks if the configuration is valid.
func (c *Config[T]) Validate() error {
	if c.Store == nil {
		return ErrStoreNotConfigured
	}
	if c.Resolver == nil {
		return ErrResolverNotConfigured
	}
	if len(c.Steps) == 0 {
		return ErrNoStepsDefined
	}
	for i, def := range c.Steps {
		if def.StepType == "" {
			return saga.NewConfigurationError("step definition has empty step type").
				WithDetail("step_index", i)
		}
		if err := def.Policy.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Orchestrator drives saga instances of a single type through their step
// definitions, persisting status, step index, and serialized context
// together at every transition so that the persisted triple is always a
// valid resume point.
type Orchestrator[T any] struct {
	sagaType  string
	store     saga.Store
	resolver  saga.StepResolver[T]
	steps     []saga.StepDefinition
	executors []*policy.Executor
	codec     saga.ContextCodec
	telemetry saga.TelemetrySink
	metrics   saga.MetricsCollector
	logger    *zap.Logger
}

// New creates an orchestrator from the given configuration.
func New[T any](config *Config[T]) (*Orchestrator[T], error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	sagaType := config.SagaType
	if sagaType == "" {
		sagaType = reflect.TypeOf((*T)(nil)).Elem().Name()
	}

	codec := config.Codec
	if codec == nil {
		codec = saga.NewJSONCodec()
	}
	sink := config.Telemetry
	if sink == nil {
		sink = telemetry.NewNopSink()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	log := config.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.With(zap.String("saga_type", sagaType))

	o := &Orchestrator[T]{
		sagaType:  sagaType,
		store:     config.Store,
		resolver:  config.Resolver,
		steps:     config.Steps,
		codec:     codec,
		telemetry: sink,
		metrics:   metrics,
		logger:    log,
	}

	// Policy executors are fixed per step definition; build them once.
	o.executors = make([]*policy.Executor, len(config.Steps))
	for i, def := range config.Steps {
		if def.Policy == nil {
			continue
		}
		stepType := def.StepType
		o.executors[i] = policy.NewExecutor(def.Policy,
			policy.WithLogger(log),
			policy.WithStepType(stepType),
			policy.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				metrics.RecordStepRetried(sagaType, stepType, attempt)
			}),
		)
	}

	return o, nil
}

// SagaTypeName returns the saga-type name this orchestrator handles.
func (o *Orchestrator[T]) SagaTypeName() string {
	return o.sagaType
}

// Start begins execution of a new saga with the given initial context. It
// persists a NotStarted entity, transitions it to InProgress, and runs the
// forward loop. The new saga id is returned in all cases once the entity
// has been persisted, including when execution paused on Awaiting or was
// parked by cancellation.
func (o *Orchestrator[T]) Start(ctx context.Context, initial *T) (uuid.UUID, error) {
	if initial == nil {
		return uuid.Nil, ErrNilContext
	}

	data, err := o.codec.Marshal(initial)
	if err != nil {
		return uuid.Nil, saga.NewSerializationError("marshal", err)
	}

	sagaID := uuid.New()
	now := time.Now()
	entity := &saga.Entity{
		SagaID:           sagaID,
		SagaType:         o.sagaType,
		Status:           saga.StatusNotStarted,
		CurrentStepIndex: saga.StepIndexNotStarted,
		ContextData:      data,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	ctx, span := o.telemetry.StartSagaSpan(ctx, sagaID, o.sagaType, "start")
	defer span.End()

	if err := o.store.Save(ctx, entity); err != nil {
		return uuid.Nil, err
	}

	o.logger.Info("saga started", zap.String("saga_id", sagaID.String()))
	o.metrics.RecordSagaStarted(o.sagaType)
	o.emitSagaEvent(ctx, saga.EventSagaStarted, entity, nil)

	entity.Status = saga.StatusInProgress
	entity.CurrentStepIndex = 0
	if err := o.store.Update(ctx, entity); err != nil {
		return sagaID, err
	}

	return sagaID, o.runForward(ctx, entity)
}

// Resume loads the saga and continues it according to its persisted status.
// It fails with a not-found error for unknown ids and an invalid-state
// error for terminal or not-started sagas.
func (o *Orchestrator[T]) Resume(ctx context.Context, sagaID uuid.UUID) error {
	entity, err := o.store.FindByID(ctx, sagaID)
	if err != nil {
		return err
	}
	return o.ResumeEntity(ctx, entity)
}

// ResumeWithPatch applies an in-place mutation to the persisted context
// (e.g., recording that an external callback fired), persists the patched
// blob, then proceeds exactly as Resume. The patch runs only after the
// entity's status has been validated as resumable, so an invalid resume
// performs no mutation.
func (o *Orchestrator[T]) ResumeWithPatch(ctx context.Context, sagaID uuid.UUID, patch Patch[T]) error {
	if patch == nil {
		return ErrNilPatch
	}

	entity, err := o.store.FindByID(ctx, sagaID)
	if err != nil {
		return err
	}
	if err := o.checkResumable(entity); err != nil {
		return err
	}

	sagaCtx := new(T)
	if err := o.codec.Unmarshal(entity.ContextData, sagaCtx); err != nil {
		return saga.NewSerializationError("unmarshal", err)
	}
	patch(sagaCtx)
	data, err := o.codec.Marshal(sagaCtx)
	if err != nil {
		return saga.NewSerializationError("marshal", err)
	}
	entity.ContextData = data
	if err := o.store.UpdateContextData(ctx, entity.SagaID, data); err != nil {
		return err
	}
	o.emitSagaEvent(ctx, saga.EventSagaContextUpdated, entity, nil)

	return o.resumeLoaded(ctx, entity)
}

// ResumeEntity resumes an already-loaded entity. This is the path the
// recovery sweep uses, avoiding a second load of an entity it has just
// queried.
func (o *Orchestrator[T]) ResumeEntity(ctx context.Context, entity *saga.Entity) error {
	if entity == nil {
		return errors.New("entity cannot be nil")
	}
	if entity.SagaType != o.sagaType {
		return ErrSagaTypeMismatch
	}
	if err := o.checkResumable(entity); err != nil {
		return err
	}
	return o.resumeLoaded(ctx, entity)
}

// checkResumable rejects resumes on terminal or not-started sagas without
// any state change.
func (o *Orchestrator[T]) checkResumable(entity *saga.Entity) error {
	if !entity.Status.IsResumable() {
		return saga.NewInvalidSagaStateError(entity.SagaID, entity.Status, "resumed")
	}
	return nil
}

// resumeLoaded dispatches a validated entity on its persisted status.
func (o *Orchestrator[T]) resumeLoaded(ctx context.Context, entity *saga.Entity) error {
	ctx, span := o.telemetry.StartSagaSpan(ctx, entity.SagaID, o.sagaType, "resume")
	defer span.End()

	o.logger.Info("saga resumed",
		zap.String("saga_id", entity.SagaID.String()),
		zap.Stringer("status", entity.Status),
		zap.Int("step_index", entity.CurrentStepIndex),
	)
	o.metrics.RecordSagaResumed(o.sagaType)
	o.emitSagaEvent(ctx, saga.EventSagaResumed, entity, nil)

	switch entity.Status {
	case saga.StatusAwaiting:
		// The awaited step is now considered complete; advance past it.
		entity.Status = saga.StatusInProgress
		entity.CurrentStepIndex++
		if err := o.store.Update(ctx, entity); err != nil {
			return err
		}
		return o.runForward(ctx, entity)

	case saga.StatusInProgress:
		// Crash recovery: the step at the persisted index may re-execute.
		return o.runForward(ctx, entity)

	case saga.StatusCompensating:
		// Crash during rollback: the persisted index is the last step whose
		// compensation ran; continue below it.
		return o.runCompensation(ctx, entity, entity.CurrentStepIndex-1)

	default:
		return saga.NewInvalidSagaStateError(entity.SagaID, entity.Status, "resumed")
	}
}

// emitSagaEvent sends a saga-level lifecycle event to the telemetry sink.
func (o *Orchestrator[T]) emitSagaEvent(ctx context.Context, eventType saga.EventType, entity *saga.Entity, err error) {
	o.telemetry.RecordSagaEvent(ctx, &saga.Event{
		Type:      eventType,
		SagaID:    entity.SagaID,
		SagaType:  o.sagaType,
		Status:    entity.Status,
		Timestamp: time.Now(),
		Error:     err,
	})
}

// emitStepEvent sends a step-level lifecycle event to the telemetry sink.
func (o *Orchestrator[T]) emitStepEvent(ctx context.Context, eventType saga.EventType, entity *saga.Entity, stepIndex int, outcome saga.StepOutcome, err error) {
	o.telemetry.RecordStepEvent(ctx, &saga.StepEvent{
		Type:      eventType,
		SagaID:    entity.SagaID,
		SagaType:  o.sagaType,
		StepType:  o.steps[stepIndex].StepType,
		StepIndex: stepIndex,
		Outcome:   outcome,
		Timestamp: time.Now(),
		Error:     err,
	})
}
