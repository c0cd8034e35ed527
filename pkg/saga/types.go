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

package saga

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the overall execution status of a saga instance.
type Status int

const (
	// StatusNotStarted indicates the saga entity was created but no steps have executed yet.
	StatusNotStarted Status = iota

	// StatusInProgress indicates the saga is actively running through its steps.
	StatusInProgress

	// StatusAwaiting indicates the saga has paused waiting for an external event or callback.
	StatusAwaiting

	// StatusCompleted indicates all steps completed successfully.
	StatusCompleted

	// StatusCompensating indicates an error occurred and the saga is running compensation steps.
	StatusCompensating

	// StatusCompensated indicates all compensation steps have run; the saga has been rolled back.
	StatusCompensated

	// StatusFailed indicates the saga failed without (or before) completing compensation.
	// It is reserved for operator intervention and is never produced by the normal flow.
	StatusFailed
)

// String returns the string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusInProgress:
		return "in_progress"
	case StatusAwaiting:
		return "awaiting"
	case StatusCompleted:
		return "completed"
	case StatusCompensating:
		return "compensating"
	case StatusCompensated:
		return "compensated"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus converts a string-encoded status back to a Status value.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "not_started":
		return StatusNotStarted, nil
	case "in_progress":
		return StatusInProgress, nil
	case "awaiting":
		return StatusAwaiting, nil
	case "completed":
		return StatusCompleted, nil
	case "compensating":
		return StatusCompensating, nil
	case "compensated":
		return StatusCompensated, nil
	case "failed":
		return StatusFailed, nil
	default:
		return StatusNotStarted, fmt.Errorf("unknown saga status %q", s)
	}
}

// IsTerminal returns true if the status admits no further execution.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

// IsResumable returns true if a saga in this status may be resumed.
// NotStarted sagas are driven by Start, never by Resume.
func (s Status) IsResumable() bool {
	return s == StatusInProgress || s == StatusAwaiting || s == StatusCompensating
}

// MarshalJSON encodes the status as its string form so persisted entities
// remain readable across engine versions.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a string-encoded status.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StepOutcome indicates the result of a successful step execution.
// Step failure is communicated by returning an error, not by an outcome value.
type StepOutcome int

const (
	// OutcomeContinue indicates the step completed; the saga advances immediately.
	OutcomeContinue StepOutcome = iota

	// OutcomeAwaiting indicates the step started an asynchronous process; the
	// saga pauses until an external trigger resumes it.
	OutcomeAwaiting
)

// String returns the string representation of the StepOutcome.
func (o StepOutcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeAwaiting:
		return "awaiting"
	default:
		return "unknown"
	}
}

// StepIndexNotStarted is the sentinel step index persisted before the first
// step transition.
const StepIndexNotStarted = -1

// Entity is the durable record of one saga instance. The (Status,
// CurrentStepIndex, ContextData) triple is updated together such that
// resuming from the persisted triple is always a valid point to continue
// from; this is the crash-recovery contract of the engine.
type Entity struct {
	// SagaID uniquely identifies the saga instance.
	SagaID uuid.UUID `json:"saga_id"`

	// SagaType routes the entity to the orchestrator registered for it.
	SagaType string `json:"saga_type"`

	// Status is the current execution status.
	Status Status `json:"status"`

	// CurrentStepIndex is the index of the step in progress or about to run.
	// It is StepIndexNotStarted before the first transition and equals the
	// step count once the saga completes.
	CurrentStepIndex int `json:"current_step_index"`

	// ContextData is the serialized saga context.
	ContextData []byte `json:"context_data"`

	// ConcurrencyToken is an opaque version incremented by the store on
	// version-checked writes, used to detect conflicting updates.
	ConcurrencyToken int64 `json:"concurrency_token"`

	// CreatedAt is when the entity was first persisted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the entity was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	clone := *e
	if e.ContextData != nil {
		clone.ContextData = make([]byte, len(e.ContextData))
		copy(clone.ContextData, e.ContextData)
	}
	return &clone
}

// ErrorType represents the category of an error.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeData         ErrorType = "data"
	ErrorTypeSystem       ErrorType = "system"
	ErrorTypeBusiness     ErrorType = "business"
	ErrorTypeCompensation ErrorType = "compensation"
)

// EventType identifies a saga or step lifecycle event emitted to the
// telemetry sink.
type EventType string

const (
	// Saga lifecycle events
	EventSagaStarted            EventType = "saga.started"
	EventSagaResumed            EventType = "saga.resumed"
	EventSagaStatusChanged      EventType = "saga.status_changed"
	EventSagaCompleted          EventType = "saga.completed"
	EventSagaFailed             EventType = "saga.failed"
	EventSagaCancelled          EventType = "saga.cancelled"
	EventSagaContextUpdated     EventType = "saga.context_updated"
	EventCompensationStarted    EventType = "saga.compensation.started"
	EventCompensationCompleted  EventType = "saga.compensation.completed"

	// Step lifecycle events
	EventStepStarted            EventType = "saga.step.started"
	EventStepCompleted          EventType = "saga.step.completed"
	EventStepFailed             EventType = "saga.step.failed"
	EventStepCompensated        EventType = "saga.step.compensated"
	EventStepCompensationFailed EventType = "saga.step.compensation_failed"
)

// Event is a saga-level lifecycle event.
type Event struct {
	Type      EventType `json:"type"`
	SagaID    uuid.UUID `json:"saga_id"`
	SagaType  string    `json:"saga_type"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	Error     error     `json:"-"`
}

// StepEvent is a step-level lifecycle event.
type StepEvent struct {
	Type      EventType   `json:"type"`
	SagaID    uuid.UUID   `json:"saga_id"`
	SagaType  string      `json:"saga_type"`
	StepType  string      `json:"step_type"`
	StepIndex int         `json:"step_index"`
	Outcome   StepOutcome `json:"outcome"`
	Timestamp time.Time   `json:"timestamp"`
	Error     error       `json:"-"`
}

// StepPolicy configures retry and timeout behavior for a single step.
// A nil policy means the step executes directly with no wrapping.
type StepPolicy struct {
	// MaxRetries is the number of additional attempts after the first, so
	// MaxRetries of 2 allows up to 3 total attempts.
	MaxRetries int

	// Timeout bounds each individual attempt. Zero means no timeout.
	Timeout time.Duration

	// RetryDelay is the base delay between attempts. Zero means immediate retry.
	RetryDelay time.Duration

	// BackoffFactor multiplies the delay after each failed attempt. Values
	// below 1 are treated as 1 (fixed interval).
	BackoffFactor float64

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration
}

// Validate checks the policy for coherent settings.
func (p *StepPolicy) Validate() error {
	if p == nil {
		return nil
	}
	if p.MaxRetries < 0 {
		return NewConfigurationError("step policy MaxRetries must be >= 0")
	}
	if p.Timeout < 0 || p.RetryDelay < 0 || p.MaxDelay < 0 {
		return NewConfigurationError("step policy durations must be >= 0")
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.RetryDelay {
		return NewConfigurationError("step policy MaxDelay must be >= RetryDelay")
	}
	return nil
}

// StepDefinition binds a step-type identity to its execution policy. The
// definition never holds a live step instance; the orchestrator resolves one
// per invocation through its StepResolver.
type StepDefinition struct {
	// StepType identifies the step implementation to the resolver.
	StepType string

	// Policy is the optional retry/timeout policy for this step.
	Policy *StepPolicy
}
