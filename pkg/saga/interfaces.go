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

// Package saga defines the core types and contracts of the saga orchestration
// engine: the durable entity, the store and step contracts consumed by the
// orchestrator, and the telemetry surface. The state machine itself lives in
// the orchestrator subpackage.
package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Store abstracts durable saga state storage. Implementations must enforce
// optimistic concurrency on Update via the entity's ConcurrencyToken; the
// partial field writes intentionally bypass the version check as a
// performance shortcut for write-heavy loop iterations.
type Store interface {
	// Save inserts a new entity. It fails with a saga-already-exists error
	// if the id is already present.
	Save(ctx context.Context, entity *Entity) error

	// Update overwrites the full entity, version-checked. It fails with a
	// concurrency-conflict error when the stored token does not match.
	Update(ctx context.Context, entity *Entity) error

	// UpdateStatus writes only the status field, without a version check.
	UpdateStatus(ctx context.Context, sagaID uuid.UUID, status Status) error

	// UpdateStepIndex writes only the current step index, without a version check.
	UpdateStepIndex(ctx context.Context, sagaID uuid.UUID, stepIndex int) error

	// UpdateContextData writes only the serialized context, without a version check.
	UpdateContextData(ctx context.Context, sagaID uuid.UUID, contextData []byte) error

	// FindByID retrieves an entity, or a saga-not-found error if absent.
	FindByID(ctx context.Context, sagaID uuid.UUID) (*Entity, error)

	// FindByStatus retrieves all entities with the given status.
	FindByStatus(ctx context.Context, status Status) ([]*Entity, error)
}

// Step is a single unit of work in a saga: one forward action plus its
// paired compensation. Implementations must be safe to re-execute — the
// engine provides at-least-once semantics across crash recovery, so steps
// are required to be idempotent or de-duplicate on their own.
type Step[T any] interface {
	// Execute runs the step's forward action against the saga context.
	// Returning OutcomeAwaiting pauses the saga for an external trigger;
	// returning an error signals an unrecoverable failure.
	Execute(ctx context.Context, sagaCtx *T) (StepOutcome, error)

	// Compensate undoes the step's effects, best-effort. Errors are logged
	// by the caller and never abort the rollback of earlier steps.
	Compensate(ctx context.Context, sagaCtx *T) error
}

// StepResolver resolves a step-type identity to a concrete step instance at
// invocation time. Resolved instances are stateless per call, which lets
// steps carry their own dependencies without the orchestrator knowing them.
type StepResolver[T any] interface {
	Resolve(stepType string) (Step[T], error)
}

// Resumer is the non-generic resume surface of an orchestrator, used by the
// recovery sweep to route loaded entities back into the matching state
// machine without knowing its context type.
type Resumer interface {
	// SagaTypeName returns the saga-type name this resumer handles.
	SagaTypeName() string

	// ResumeEntity resumes an already-loaded entity.
	ResumeEntity(ctx context.Context, entity *Entity) error
}

// ContextCodec serializes saga contexts to and from the entity's stored blob.
type ContextCodec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// TelemetrySink receives lifecycle spans and structured events from the
// orchestrator. Implementations must be safe for concurrent use; the engine
// defaults to a no-op sink.
type TelemetrySink interface {
	// StartSagaSpan opens a span covering one orchestrator operation
	// (start, resume, compensation) on a saga instance.
	StartSagaSpan(ctx context.Context, sagaID uuid.UUID, sagaType, operation string) (context.Context, trace.Span)

	// StartStepSpan opens a span covering a single step invocation.
	StartStepSpan(ctx context.Context, sagaID uuid.UUID, stepType string, stepIndex int) (context.Context, trace.Span)

	// RecordSagaEvent emits a saga-level lifecycle event.
	RecordSagaEvent(ctx context.Context, event *Event)

	// RecordStepEvent emits a step-level lifecycle event.
	RecordStepEvent(ctx context.Context, event *StepEvent)
}

// MetricsCollector collects orchestrator runtime metrics. Implementations
// can publish to Prometheus or other monitoring systems; a no-op collector
// is used when none is configured.
type MetricsCollector interface {
	// RecordSagaStarted increments the count of started sagas.
	RecordSagaStarted(sagaType string)

	// RecordSagaCompleted increments the count of completed sagas.
	RecordSagaCompleted(sagaType string, duration time.Duration)

	// RecordSagaCompensated increments the count of compensated (rolled back) sagas.
	RecordSagaCompensated(sagaType string, duration time.Duration)

	// RecordSagaAwaiting increments the count of sagas paused on an external event.
	RecordSagaAwaiting(sagaType string)

	// RecordSagaResumed increments the count of resumed sagas.
	RecordSagaResumed(sagaType string)

	// RecordSagaCancelled increments the count of sagas parked by cancellation.
	RecordSagaCancelled(sagaType string)

	// RecordStepExecuted records one step invocation and its result.
	RecordStepExecuted(sagaType, stepType string, success bool, duration time.Duration)

	// RecordStepRetried records a retry attempt for a step.
	RecordStepRetried(sagaType, stepType string, attempt int)

	// RecordCompensationExecuted records one compensation invocation and its result.
	RecordCompensationExecuted(sagaType, stepType string, success bool, duration time.Duration)
}
