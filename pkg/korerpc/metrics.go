// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package korerpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName names the tracer and meter.
const instrumentationName = "github.com/AleutianAI/korerpc/pkg/korerpc"

// instruments holds the tracer and metrics of one Client.
type instruments struct {
	tracer trace.Tracer

	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter
	executeDepth   metric.Int64Histogram
}

// newInstruments creates the instruments from the given providers. Nil
// providers fall back to the global ones.
func newInstruments(mp metric.MeterProvider, tp trace.TracerProvider) (*instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)
	inst := &instruments{tracer: tp.Tracer(instrumentationName)}

	var err error
	inst.requestLatency, err = meter.Float64Histogram(
		"korerpc_request_duration_seconds",
		metric.WithDescription("Duration of kore-rpc requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	inst.requestTotal, err = meter.Int64Counter(
		"korerpc_request_total",
		metric.WithDescription("Total number of kore-rpc requests"),
	)
	if err != nil {
		return nil, err
	}

	inst.executeDepth, err = meter.Int64Histogram(
		"korerpc_execute_depth",
		metric.WithDescription("Rewrite steps taken by execute requests"),
	)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// startRequestSpan creates a span for one request.
func (i *instruments) startRequestSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "Client."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
		),
	)
}

// finishRequest ends the span's bookkeeping and records request metrics.
func (i *instruments) finishRequest(ctx context.Context, span trace.Span, method string, start time.Time, err error) {
	class := errorClass(err)
	span.SetAttributes(
		attribute.Bool("korerpc.success", err == nil),
		attribute.String("korerpc.error_class", class),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("success", err == nil),
		attribute.String("error_class", class),
	)
	i.requestLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	i.requestTotal.Add(ctx, 1, attrs)
}

// recordExecute records the outcome of a successful execute.
func (i *instruments) recordExecute(ctx context.Context, span trace.Span, result ExecuteResult) {
	reason := string(result.Reason())
	span.SetAttributes(
		attribute.String("korerpc.reason", reason),
		attribute.Int("korerpc.depth", result.FinalDepth()),
		attribute.Int("korerpc.next_states", len(result.Successors())),
	)
	i.executeDepth.Record(ctx, int64(result.FinalDepth()), metric.WithAttributes(
		attribute.String("reason", reason),
	))
}
