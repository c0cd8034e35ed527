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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/sagakit/pkg/saga"
)

func TestNopSinkIsInert(t *testing.T) {
	sink := NewNopSink()
	ctx, span := sink.StartSagaSpan(context.Background(), uuid.New(), "order", "start")
	require.NotNil(t, ctx)
	span.End()

	_, span = sink.StartStepSpan(ctx, uuid.New(), "reserve", 0)
	span.End()

	sink.RecordSagaEvent(ctx, &saga.Event{Type: saga.EventSagaStarted})
	sink.RecordStepEvent(ctx, &saga.StepEvent{Type: saga.EventStepStarted})
}

func TestZapSinkRecordsWithoutPanicking(t *testing.T) {
	sink := NewZapSink()
	ctx, span := sink.StartSagaSpan(context.Background(), uuid.New(), "order", "resume")
	defer span.End()

	sink.RecordSagaEvent(ctx, &saga.Event{
		Type:     saga.EventSagaFailed,
		SagaID:   uuid.New(),
		SagaType: "order",
		Status:   saga.StatusCompensating,
		Error:    errors.New("boom"),
	})
	sink.RecordStepEvent(ctx, &saga.StepEvent{
		Type:     saga.EventStepCompleted,
		SagaID:   uuid.New(),
		SagaType: "order",
		StepType: "reserve",
	})
}

func TestPrometheusMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.RecordSagaStarted("order")
	m.RecordSagaStarted("order")
	m.RecordSagaCompleted("order", time.Second)
	m.RecordSagaCompensated("order", 2*time.Second)
	m.RecordSagaAwaiting("order")
	m.RecordSagaResumed("order")
	m.RecordSagaCancelled("order")
	m.RecordStepExecuted("order", "reserve", true, 10*time.Millisecond)
	m.RecordStepExecuted("order", "reserve", false, 10*time.Millisecond)
	m.RecordStepRetried("order", "reserve", 1)
	m.RecordCompensationExecuted("order", "reserve", true, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.sagasStarted.WithLabelValues("order")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sagasCompleted.WithLabelValues("order")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sagasCompensated.WithLabelValues("order")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stepExecutions.WithLabelValues("order", "reserve", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stepExecutions.WithLabelValues("order", "reserve", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stepRetries.WithLabelValues("order", "reserve")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.compensations.WithLabelValues("order", "reserve", "true")))
}

func TestPrometheusMetricsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg)

	assert.Panics(t, func() { NewPrometheusMetrics(reg) },
		"registering the same metrics twice on one registry must fail loudly")
}

// capturingPublisher records published messages in memory.
type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *capturingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestNATSSinkPublishesEvents(t *testing.T) {
	pub := &capturingPublisher{}
	sink, err := NewNATSSink(pub)
	require.NoError(t, err)

	sagaID := uuid.New()
	sink.RecordSagaEvent(context.Background(), &saga.Event{
		Type:     saga.EventSagaCompleted,
		SagaID:   sagaID,
		SagaType: "order",
		Status:   saga.StatusCompleted,
	})
	sink.RecordStepEvent(context.Background(), &saga.StepEvent{
		Type:      saga.EventStepFailed,
		SagaID:    sagaID,
		SagaType:  "order",
		StepType:  "pay",
		StepIndex: 1,
		Error:     errors.New("declined"),
	})

	require.Len(t, pub.subjects, 2)
	assert.Equal(t, "saga.events.order.saga.completed", pub.subjects[0])
	assert.Equal(t, "saga.events.order.saga.step.failed", pub.subjects[1])

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.payloads[1], &payload))
	assert.Equal(t, "pay", payload["step_type"])
	assert.Equal(t, "declined", payload["error"])
}

func TestNATSSinkSubjectPrefix(t *testing.T) {
	pub := &capturingPublisher{}
	sink, err := NewNATSSink(pub, WithSubjectPrefix("orders.lifecycle"))
	require.NoError(t, err)

	sink.RecordSagaEvent(context.Background(), &saga.Event{
		Type:     saga.EventSagaStarted,
		SagaType: "order",
	})

	require.Len(t, pub.subjects, 1)
	assert.True(t, strings.HasPrefix(pub.subjects[0], "orders.lifecycle."))
}

func TestNATSSinkPublishFailureIsSwallowed(t *testing.T) {
	pub := &capturingPublisher{err: errors.New("connection lost")}
	sink, err := NewNATSSink(pub)
	require.NoError(t, err)

	// Must not panic or propagate; saga execution never depends on the bus.
	sink.RecordSagaEvent(context.Background(), &saga.Event{Type: saga.EventSagaStarted, SagaType: "order"})
	assert.Empty(t, pub.subjects)
}

func TestNATSSinkNilConnection(t *testing.T) {
	_, err := NewNATSSink(nil)
	assert.Error(t, err)
}
