// Copyright 2026 The CZ7 Host Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hosting

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cz7host/cz7host/internal/observability/metrics"
	"github.com/cz7host/cz7host/internal/observability/tracing"
)

const instrumentationName = "github.com/cz7host/cz7host/internal/hosting"

type instruments struct {
	provisions        metric.Int64Counter
	rollbacks         metric.Int64Counter
	backendErrors     metric.Int64Counter
	provisionDuration metric.Float64Histogram
}

func newInstruments(m *metrics.Meter) (*instruments, error) {
	if m == nil {
		m = metrics.Noop()
	}

	provisions, err := m.CreateCounter("hosting.provision.total", "Service provisioning attempts by result")
	if err != nil {
		return nil, err
	}
	rollbacks, err := m.CreateCounter("hosting.rollback.total", "Compensating rollbacks after failed provisioning")
	if err != nil {
		return nil, err
	}
	backendErrors, err := m.CreateCounter("hosting.backend.errors", "Adapter calls that failed")
	if err != nil {
		return nil, err
	}
	duration, err := m.CreateHistogram("hosting.provision.duration", "Time to provision a service", "s")
	if err != nil {
		return nil, err
	}

	return &instruments{
		provisions:        provisions,
		rollbacks:         rollbacks,
		backendErrors:     backendErrors,
		provisionDuration: duration,
	}, nil
}

func (i *instruments) recordProvision(ctx context.Context, kind Kind, result string, started time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("result", result),
	)
	i.provisions.Add(ctx, 1, attrs)
	i.provisionDuration.Record(ctx, time.Since(started).Seconds(), attrs)
}

func (i *instruments) recordBackendError(ctx context.Context, backendKind, op string) {
	i.backendErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backendKind),
		attribute.String("operation", op),
	))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracing.Named(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
