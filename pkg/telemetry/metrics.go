// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/francisco-agent/francisco/pkg/errors"
)

// Invocation outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// InvocationMetrics counts agent invocations by outcome, records their
// duration and counts failures by error code. A nil *InvocationMetrics is
// valid and records nothing.
type InvocationMetrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	errors      metric.Int64Counter
}

// NewInvocationMetrics creates the instruments on meter. A nil meter uses
// the global meter provider.
func NewInvocationMetrics(meter metric.Meter) (*InvocationMetrics, error) {
	if meter == nil {
		meter = otel.Meter("francisco/agent")
	}

	invocations, err := meter.Int64Counter(
		"francisco.invocations.total",
		metric.WithDescription("Agent invocations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"francisco.invocation.duration",
		metric.WithDescription("Agent invocation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"francisco.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	return &InvocationMetrics{
		invocations: invocations,
		duration:    duration,
		errors:      errorCounter,
	}, nil
}

// RecordInvocation records one finished invocation.
func (m *InvocationMetrics) RecordInvocation(ctx context.Context, agent, model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrAgentModel, model),
		attribute.String(AttrInvocationOutcome, outcome),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordError increments the error counter for err's code.
func (m *InvocationMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	ae := errors.AsAgentError(err)
	m.errors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrErrorCode, string(ae.Code)),
			attribute.String("component", component),
			attribute.String("recoverable", ae.RecoverableString()),
		),
	)
}
