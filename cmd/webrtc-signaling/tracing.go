package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
)

const tracerName = "github.com/wilsonzlin/aero/proxy/webrtc-signaling"

// newTracerProvider builds the provider selected by cfg.TraceExporter. The
// returned shutdown flushes buffered spans.
func newTracerProvider(cfg config.Config, w io.Writer) (trace.TracerProvider, func(context.Context) error, error) {
	switch cfg.TraceExporter {
	case config.TraceExporterNone, "":
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	case config.TraceExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		return tp, tp.Shutdown, nil
	default:
		return nil, nil, fmt.Errorf("unsupported trace exporter %q", cfg.TraceExporter)
	}
}
