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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// predefined error codes
const (
	ErrCodeSagaNotFound        = "SAGA_NOT_FOUND"
	ErrCodeSagaAlreadyExists   = "SAGA_ALREADY_EXISTS"
	ErrCodeInvalidSagaState    = "INVALID_SAGA_STATE"
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrCodeStepExecutionFailed = "STEP_EXECUTION_FAILED"
	ErrCodeCompensationFailed  = "COMPENSATION_FAILED"
	ErrCodeStorageError        = "STORAGE_ERROR"
	ErrCodeSerializationError  = "SERIALIZATION_ERROR"
	ErrCodeConfigurationError  = "CONFIGURATION_ERROR"
	ErrCodeRetryExhausted      = "RETRY_EXHAUSTED"
	ErrCodeStepNotRegistered   = "STEP_NOT_REGISTERED"
)

// SagaError is the structured error type used across the engine. It carries
// a stable code for programmatic handling, an error category, optional
// details, and the wrapped cause.
type SagaError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Type      ErrorType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
}

// NewSagaError creates a new SagaError with the specified parameters.
func NewSagaError(code, message string, errorType ErrorType) *SagaError {
	return &SagaError{
		Code:      code,
		Message:   message,
		Type:      errorType,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error into a SagaError.
func WrapError(err error, code, message string, errorType ErrorType) *SagaError {
	if err == nil {
		return nil
	}
	sagaErr := NewSagaError(code, message, errorType)
	sagaErr.Cause = err
	return sagaErr
}

// Error implements the error interface for SagaError.
func (e *SagaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *SagaError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the SagaError.
func (e *SagaError) WithDetail(key string, value interface{}) *SagaError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error constructors

// NewSagaNotFoundError creates an error for when a saga is not found.
func NewSagaNotFoundError(sagaID uuid.UUID) *SagaError {
	return NewSagaError(ErrCodeSagaNotFound, fmt.Sprintf("saga %s not found", sagaID), ErrorTypeData).
		WithDetail("saga_id", sagaID.String())
}

// NewSagaAlreadyExistsError creates an error for when a saga id collides on insert.
func NewSagaAlreadyExistsError(sagaID uuid.UUID) *SagaError {
	return NewSagaError(ErrCodeSagaAlreadyExists, fmt.Sprintf("saga %s already exists", sagaID), ErrorTypeData).
		WithDetail("saga_id", sagaID.String())
}

// NewInvalidSagaStateError creates an error for an operation attempted on a
// saga whose status does not permit it.
func NewInvalidSagaStateError(sagaID uuid.UUID, status Status, operation string) *SagaError {
	return NewSagaError(ErrCodeInvalidSagaState,
		fmt.Sprintf("saga %s in status %s cannot be %s", sagaID, status, operation),
		ErrorTypeValidation).
		WithDetail("saga_id", sagaID.String()).
		WithDetail("status", status.String()).
		WithDetail("operation", operation)
}

// NewConcurrencyConflictError creates an error for an optimistic-concurrency
// conflict detected by the store on a full-entity update.
func NewConcurrencyConflictError(sagaID uuid.UUID) *SagaError {
	return NewSagaError(ErrCodeConcurrencyConflict,
		fmt.Sprintf("saga %s was modified concurrently", sagaID),
		ErrorTypeData).
		WithDetail("saga_id", sagaID.String())
}

// NewStepExecutionError creates an error for a step execution failure.
func NewStepExecutionError(stepType string, stepIndex int, err error) *SagaError {
	return WrapError(err, ErrCodeStepExecutionFailed,
		fmt.Sprintf("step %s (index %d) execution failed", stepType, stepIndex),
		ErrorTypeBusiness).
		WithDetail("step_type", stepType).
		WithDetail("step_index", stepIndex)
}

// NewCompensationFailedError creates an error for a compensation failure.
func NewCompensationFailedError(stepType string, stepIndex int, err error) *SagaError {
	return WrapError(err, ErrCodeCompensationFailed,
		fmt.Sprintf("compensation for step %s (index %d) failed", stepType, stepIndex),
		ErrorTypeCompensation).
		WithDetail("step_type", stepType).
		WithDetail("step_index", stepIndex)
}

// NewStorageError creates an error for storage operation failures.
func NewStorageError(operation string, err error) *SagaError {
	return WrapError(err, ErrCodeStorageError,
		fmt.Sprintf("storage operation %s failed", operation),
		ErrorTypeSystem).
		WithDetail("operation", operation)
}

// NewSerializationError creates an error for context (de)serialization failures.
func NewSerializationError(operation string, err error) *SagaError {
	return WrapError(err, ErrCodeSerializationError,
		fmt.Sprintf("context %s failed", operation),
		ErrorTypeData).
		WithDetail("operation", operation)
}

// NewConfigurationError creates an error for configuration issues.
func NewConfigurationError(message string) *SagaError {
	return NewSagaError(ErrCodeConfigurationError, message, ErrorTypeSystem)
}

// NewRetryExhaustedError creates an error when a step's retry attempts are
// exhausted. The last attempt's error is the wrapped cause.
func NewRetryExhaustedError(stepType string, attempts int, lastErr error) *SagaError {
	return WrapError(lastErr, ErrCodeRetryExhausted,
		fmt.Sprintf("step %s failed after %d attempts", stepType, attempts),
		ErrorTypeBusiness).
		WithDetail("step_type", stepType).
		WithDetail("attempts", attempts)
}

// NewStepNotRegisteredError creates an error for an unresolvable step type.
func NewStepNotRegisteredError(stepType string) *SagaError {
	return NewSagaError(ErrCodeStepNotRegistered,
		fmt.Sprintf("no step registered for type %q", stepType),
		ErrorTypeValidation).
		WithDetail("step_type", stepType)
}

// hasCode reports whether err carries the given SagaError code anywhere in
// its chain.
func hasCode(err error, code string) bool {
	var sagaErr *SagaError
	for errors.As(err, &sagaErr) {
		if sagaErr.Code == code {
			return true
		}
		err = sagaErr.Cause
		sagaErr = nil
	}
	return false
}

// IsSagaNotFound checks if an error indicates a missing saga.
func IsSagaNotFound(err error) bool {
	return hasCode(err, ErrCodeSagaNotFound)
}

// IsSagaAlreadyExists checks if an error indicates an id collision on insert.
func IsSagaAlreadyExists(err error) bool {
	return hasCode(err, ErrCodeSagaAlreadyExists)
}

// IsInvalidSagaState checks if an error indicates a non-resumable status.
func IsInvalidSagaState(err error) bool {
	return hasCode(err, ErrCodeInvalidSagaState)
}

// IsConcurrencyConflict checks if an error indicates a lost-update conflict.
func IsConcurrencyConflict(err error) bool {
	return hasCode(err, ErrCodeConcurrencyConflict)
}

// IsRetryExhausted checks if an error indicates exhausted step retries.
func IsRetryExhausted(err error) bool {
	return hasCode(err, ErrCodeRetryExhausted)
}
