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

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/innovationmech/sagakit/pkg/logger"
	"github.com/innovationmech/sagakit/pkg/saga"
)

var _ saga.TelemetrySink = (*NATSSink)(nil)

// DefaultNATSSubjectPrefix is the subject prefix for published saga events.
const DefaultNATSSubjectPrefix = "saga.events"

// NATSPublisher is the subset of *nats.Conn the sink needs.
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes saga lifecycle events to NATS subjects so external
// consumers (dashboards, audit trails, workflow triggers) can observe saga
// progress. Span handling is delegated to an inner sink. Publishing is
// fire-and-forget: a publish failure is logged and never affects saga
// execution.
//
// Subjects follow <prefix>.<saga_type>.<event_type>, e.g.
// "saga.events.OrderContext.saga.step.completed".
type NATSSink struct {
	conn   NATSPublisher
	inner  saga.TelemetrySink
	prefix string
	logger *zap.Logger
}

// NATSSinkOption configures a NATSSink.
type NATSSinkOption func(*NATSSink)

// WithInnerSink sets the sink that handles spans and receives a copy of
// every event. Defaults to a no-op sink.
func WithInnerSink(inner saga.TelemetrySink) NATSSinkOption {
	return func(s *NATSSink) {
		if inner != nil {
			s.inner = inner
		}
	}
}

// WithSubjectPrefix overrides the published subject prefix.
func WithSubjectPrefix(prefix string) NATSSinkOption {
	return func(s *NATSSink) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithNATSLogger sets the logger for publish failures.
func WithNATSLogger(l *zap.Logger) NATSSinkOption {
	return func(s *NATSSink) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewNATSSink creates a sink publishing to the given connection. *nats.Conn
// satisfies NATSPublisher directly.
func NewNATSSink(conn NATSPublisher, opts ...NATSSinkOption) (*NATSSink, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	s := &NATSSink{
		conn:   conn,
		inner:  NewNopSink(),
		prefix: DefaultNATSSubjectPrefix,
		logger: logger.GetLogger().Named("saga-nats"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect dials a NATS server and wraps the connection in a sink.
func Connect(url string, opts ...NATSSinkOption) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("sagakit"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return NewNATSSink(conn, opts...)
}

// StartSagaSpan delegates to the inner sink.
func (s *NATSSink) StartSagaSpan(ctx context.Context, sagaID uuid.UUID, sagaType, operation string) (context.Context, trace.Span) {
	return s.inner.StartSagaSpan(ctx, sagaID, sagaType, operation)
}

// StartStepSpan delegates to the inner sink.
func (s *NATSSink) StartStepSpan(ctx context.Context, sagaID uuid.UUID, stepType string, stepIndex int) (context.Context, trace.Span) {
	return s.inner.StartStepSpan(ctx, sagaID, stepType, stepIndex)
}

// RecordSagaEvent publishes the event and forwards it to the inner sink.
func (s *NATSSink) RecordSagaEvent(ctx context.Context, event *saga.Event) {
	s.publish(event.SagaType, event.Type, sagaEventPayload(event))
	s.inner.RecordSagaEvent(ctx, event)
}

// RecordStepEvent publishes the event and forwards it to the inner sink.
func (s *NATSSink) RecordStepEvent(ctx context.Context, event *saga.StepEvent) {
	s.publish(event.SagaType, event.Type, stepEventPayload(event))
	s.inner.RecordStepEvent(ctx, event)
}

func (s *NATSSink) publish(sagaType string, eventType saga.EventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal saga event", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", s.prefix, sagaType, eventType)
	if err := s.conn.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish saga event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// sagaEventPayload flattens the error into a string for the wire.
func sagaEventPayload(event *saga.Event) interface{} {
	payload := struct {
		*saga.Event
		ErrorMessage string `json:"error,omitempty"`
	}{Event: event}
	if event.Error != nil {
		payload.ErrorMessage = event.Error.Error()
	}
	return payload
}

func stepEventPayload(event *saga.StepEvent) interface{} {
	payload := struct {
		*saga.StepEvent
		ErrorMessage string `json:"error,omitempty"`
	}{StepEvent: event}
	if event.Error != nil {
		payload.ErrorMessage = event.Error.Error()
	}
	return payload
}
