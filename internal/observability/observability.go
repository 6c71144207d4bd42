// Package observability sets up structured logging for the process: a console
// slog handler plus an optional OpenTelemetry log export pipeline.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies log records bridged into OpenTelemetry.
const instrumentationName = "github.com/florianilch/kroger-bridge"

// Supported exporters.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Options configures Instrument.
type Options struct {
	Level    slog.Level
	Format   string // text or json
	Exporter string // none, stdout, otlp-http or otlp-grpc

	// Writer receives console and stdout-exported output (defaults to os.Stderr).
	Writer io.Writer
}

// ShutdownFunc flushes and stops the export pipeline.
type ShutdownFunc func(ctx context.Context) error

// Instrument installs the default slog logger and, unless the exporter is
// "none", a global OpenTelemetry LoggerProvider that receives the same records.
// The OTLP exporters read their endpoint from the standard OTEL_EXPORTER_OTLP_* variables.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	console, err := consoleHandler(w, opts.Format, opts.Level)
	if err != nil {
		return nil, err
	}
	console = &traceContextHandler{Handler: console}

	// Errors inside the export pipeline must not loop back into it
	consoleLogger := slog.New(console)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		consoleLogger.Error("opentelemetry error", "error", err)
	}))

	exporter, err := newExporter(ctx, opts.Exporter, w)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		slog.SetDefault(consoleLogger)
		return func(context.Context) error { return nil }, nil
	}

	var processor sdklog.Processor
	if opts.Exporter == ExporterStdout {
		processor = sdklog.NewSimpleProcessor(exporter)
	} else {
		processor = sdklog.NewBatchProcessor(exporter)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(opts.Level))),
	)
	global.SetLoggerProvider(provider)

	otelHandler := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
	slog.SetDefault(slog.New(NewFanoutHandler(console, otelHandler)))

	return provider.Shutdown, nil
}

func consoleHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return slog.NewTextHandler(w, handlerOpts), nil
	case "json":
		return slog.NewJSONHandler(w, handlerOpts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// newExporter returns nil for ExporterNone.
func newExporter(ctx context.Context, name string, w io.Writer) (sdklog.Exporter, error) {
	switch name {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case ExporterOTLPHTTP:
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, errors.New("unsupported log exporter: " + name)
	}
}

// severity maps slog levels onto the minimum OpenTelemetry severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
