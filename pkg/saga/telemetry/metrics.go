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
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/innovationmech/sagakit/pkg/saga"
)

var (
	_ saga.MetricsCollector = (*NopMetrics)(nil)
	_ saga.MetricsCollector = (*PrometheusMetrics)(nil)
)

// NopMetrics is the default saga.MetricsCollector; it records nothing.
type NopMetrics struct{}

// NewNopMetrics creates a collector that records nothing.
func NewNopMetrics() *NopMetrics { return &NopMetrics{} }

func (NopMetrics) RecordSagaStarted(sagaType string)                          {}
func (NopMetrics) RecordSagaCompleted(sagaType string, d time.Duration)       {}
func (NopMetrics) RecordSagaCompensated(sagaType string, d time.Duration)     {}
func (NopMetrics) RecordSagaAwaiting(sagaType string)                         {}
func (NopMetrics) RecordSagaResumed(sagaType string)                          {}
func (NopMetrics) RecordSagaCancelled(sagaType string)                        {}
func (NopMetrics) RecordStepExecuted(sagaType, stepType string, success bool, d time.Duration) {
}
func (NopMetrics) RecordStepRetried(sagaType, stepType string, attempt int) {}
func (NopMetrics) RecordCompensationExecuted(sagaType, stepType string, success bool, d time.Duration) {
}

// PrometheusMetrics implements saga.MetricsCollector on Prometheus
// primitives. All metrics are labelled by saga type; step metrics add the
// step type and a success label.
type PrometheusMetrics struct {
	sagasStarted     *prometheus.CounterVec
	sagasCompleted   *prometheus.CounterVec
	sagasCompensated *prometheus.CounterVec
	sagasAwaiting    *prometheus.CounterVec
	sagasResumed     *prometheus.CounterVec
	sagasCancelled   *prometheus.CounterVec
	sagaDuration     *prometheus.HistogramVec
	stepExecutions   *prometheus.CounterVec
	stepRetries      *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	compensations    *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collector and registers its metrics with
// the given registerer. A nil registerer uses the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWithPrefix("sagakit_", reg)

	m := &PrometheusMetrics{
		sagasStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sagas_started_total",
			Help: "Total number of sagas started.",
		}, []string{"saga_type"}),
		sagasCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sagas_completed_total",
			Help: "Total number of sagas that completed all steps.",
		}, []string{"saga_type"}),
		sagasCompensated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sagas_compensated_total",
			Help: "Total number of sagas rolled back through compensation.",
		}, []string{"saga_type"}),
		sagasAwaiting: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sagas_awaiting_total",
			Help: "Total number of sagas paused on an external trigger.",
		}, []string{"saga_type"}),
		sagasResumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sagas_resumed_total",
			Help: "Total number of saga resumes.",
		}, []string{"saga_type"}),
		sagasCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sagas_cancelled_total",
			Help: "Total number of saga runs parked by cancellation.",
		}, []string{"saga_type"}),
		sagaDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Wall time from saga creation to its terminal transition.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"saga_type", "outcome"}),
		stepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "step_executions_total",
			Help: "Total number of step invocations.",
		}, []string{"saga_type", "step_type", "success"}),
		stepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "step_retries_total",
			Help: "Total number of step retry attempts.",
		}, []string{"saga_type", "step_type"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "step_duration_seconds",
			Help:    "Duration of individual step invocations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"saga_type", "step_type"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compensations_total",
			Help: "Total number of compensation invocations.",
		}, []string{"saga_type", "step_type", "success"}),
	}

	factory.MustRegister(
		m.sagasStarted, m.sagasCompleted, m.sagasCompensated,
		m.sagasAwaiting, m.sagasResumed, m.sagasCancelled,
		m.sagaDuration, m.stepExecutions, m.stepRetries,
		m.stepDuration, m.compensations,
	)
	return m
}

func (m *PrometheusMetrics) RecordSagaStarted(sagaType string) {
	m.sagasStarted.WithLabelValues(sagaType).Inc()
}

func (m *PrometheusMetrics) RecordSagaCompleted(sagaType string, d time.Duration) {
	m.sagasCompleted.WithLabelValues(sagaType).Inc()
	m.sagaDuration.WithLabelValues(sagaType, "completed").Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordSagaCompensated(sagaType string, d time.Duration) {
	m.sagasCompensated.WithLabelValues(sagaType).Inc()
	m.sagaDuration.WithLabelValues(sagaType, "compensated").Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordSagaAwaiting(sagaType string) {
	m.sagasAwaiting.WithLabelValues(sagaType).Inc()
}

func (m *PrometheusMetrics) RecordSagaResumed(sagaType string) {
	m.sagasResumed.WithLabelValues(sagaType).Inc()
}

func (m *PrometheusMetrics) RecordSagaCancelled(sagaType string) {
	m.sagasCancelled.WithLabelValues(sagaType).Inc()
}

func (m *PrometheusMetrics) RecordStepExecuted(sagaType, stepType string, success bool, d time.Duration) {
	m.stepExecutions.WithLabelValues(sagaType, stepType, strconv.FormatBool(success)).Inc()
	m.stepDuration.WithLabelValues(sagaType, stepType).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordStepRetried(sagaType, stepType string, attempt int) {
	m.stepRetries.WithLabelValues(sagaType, stepType).Inc()
}

func (m *PrometheusMetrics) RecordCompensationExecuted(sagaType, stepType string, success bool, d time.Duration) {
	m.compensations.WithLabelValues(sagaType, stepType, strconv.FormatBool(success)).Inc()
}
