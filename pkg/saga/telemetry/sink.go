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

// Package telemetry provides the built-in saga.TelemetrySink and
// saga.MetricsCollector implementations: no-op defaults, an
// OpenTelemetry+zap sink, a Prometheus collector, and a NATS event
// publisher.
package telemetry

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/innovationmech/sagakit/pkg/logger"
	"github.com/innovationmech/sagakit/pkg/saga"
)

var (
	_ saga.TelemetrySink = (*NopSink)(nil)
	_ saga.TelemetrySink = (*ZapSink)(nil)
)

// NopSink discards all telemetry. It is the default sink when none is
// configured.
type NopSink struct {
	tracer trace.Tracer
}

// NewNopSink creates a sink that records nothing.
func NewNopSink() *NopSink {
	return &NopSink{tracer: tracenoop.NewTracerProvider().Tracer("sagakit")}
}

// StartSagaSpan returns a non-recording span.
func (s *NopSink) StartSagaSpan(ctx context.Context, sagaID uuid.UUID, sagaType, operation string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "saga."+operation)
}

// StartStepSpan returns a non-recording span.
func (s *NopSink) StartStepSpan(ctx context.Context, sagaID uuid.UUID, stepType string, stepIndex int) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "saga.step")
}

// RecordSagaEvent discards the event.
func (s *NopSink) RecordSagaEvent(ctx context.Context, event *saga.Event) {}

// RecordStepEvent discards the event.
func (s *NopSink) RecordStepEvent(ctx context.Context, event *saga.StepEvent) {}

// ZapSink records spans through an OpenTelemetry tracer and mirrors
// lifecycle events into structured logs. Failure events log at error level,
// everything else at info.
type ZapSink struct {
	tracer trace.Tracer
	logger *zap.Logger
}

// ZapSinkOption configures a ZapSink.
type ZapSinkOption func(*ZapSink)

// WithZapLogger sets the logger used for lifecycle events.
func WithZapLogger(l *zap.Logger) ZapSinkOption {
	return func(s *ZapSink) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for saga and step spans.
func WithTracer(t trace.Tracer) ZapSinkOption {
	return func(s *ZapSink) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewZapSink creates a sink that traces through OpenTelemetry and logs
// lifecycle events with zap. Without options it uses a non-recording tracer
// and the global logger.
func NewZapSink(opts ...ZapSinkOption) *ZapSink {
	s := &ZapSink{
		tracer: tracenoop.NewTracerProvider().Tracer("sagakit"),
		logger: logger.GetLogger().Named("saga-events"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSagaSpan opens a span covering one orchestrator operation.
func (s *ZapSink) StartSagaSpan(ctx context.Context, sagaID uuid.UUID, sagaType, operation string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "saga."+operation,
		trace.WithAttributes(
			attribute.String("saga.id", sagaID.String()),
			attribute.String("saga.type", sagaType),
		),
	)
}

// StartStepSpan opens a span covering a single step invocation.
func (s *ZapSink) StartStepSpan(ctx context.Context, sagaID uuid.UUID, stepType string, stepIndex int) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "saga.step."+stepType,
		trace.WithAttributes(
			attribute.String("saga.id", sagaID.String()),
			attribute.String("saga.step.type", stepType),
			attribute.Int("saga.step.index", stepIndex),
		),
	)
}

// RecordSagaEvent logs the event and attaches it to the active span.
func (s *ZapSink) RecordSagaEvent(ctx context.Context, event *saga.Event) {
	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("saga_id", event.SagaID.String()),
		zap.String("saga_type", event.SagaType),
		zap.Stringer("status", event.Status),
	}

	span := trace.SpanFromContext(ctx)
	span.AddEvent(string(event.Type), trace.WithAttributes(
		attribute.String("saga.status", event.Status.String()),
	))

	if event.Error != nil {
		span.RecordError(event.Error)
		span.SetStatus(codes.Error, event.Error.Error())
		s.logger.Error("saga event", append(fields, zap.Error(event.Error))...)
		return
	}
	s.logger.Info("saga event", fields...)
}

// RecordStepEvent logs the event and attaches it to the active span.
func (s *ZapSink) RecordStepEvent(ctx context.Context, event *saga.StepEvent) {
	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("saga_id", event.SagaID.String()),
		zap.String("saga_type", event.SagaType),
		zap.String("step_type", event.StepType),
		zap.Int("step_index", event.StepIndex),
	}

	span := trace.SpanFromContext(ctx)
	span.AddEvent(string(event.Type), trace.WithAttributes(
		attribute.String("saga.step.type", event.StepType),
		attribute.Int("saga.step.index", event.StepIndex),
	))

	if event.Error != nil {
		span.RecordError(event.Error)
		s.logger.Error("saga step event", append(fields, zap.Error(event.Error))...)
		return
	}
	s.logger.Info("saga step event", fields...)
}
