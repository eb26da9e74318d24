package telemetry

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/osinfo"
	autoexport "go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName = "installerimage"

	otlpEndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Options describe the build process that reports traces.
type Options struct {
	Disabled    bool
	ToolVersion string
	// TargetArchitecture is the architecture the initrd is built for. It may differ from the host's.
	TargetArchitecture string
}

var shutdownFn func(ctx context.Context) error

// InitTelemetry installs a batching tracer provider when an OTLP endpoint is configured.
// Without one, spans go to the default no-op provider.
func InitTelemetry(options Options) error {
	if options.Disabled {
		logger.Log.Info("Disabled telemetry collection")
		return nil
	} else if os.Getenv(otlpEndpointEnv) == "" {
		logger.Log.Debug("No OTLP endpoint set, telemetry will not be collected")
		return nil
	}

	exporter, err := autoexport.NewSpanExporter(context.Background())
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// The default resource carries a newer semconv schema, so ours stays schemaless.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(resourceAttributes(options)...),
	)
	if err != nil {
		return fmt.Errorf("failed to create telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	shutdownFn = tp.Shutdown
	return nil
}

func resourceAttributes(options Options) []attribute.KeyValue {
	distro, version := osinfo.GetDistroAndVersion()

	attributes := []attribute.KeyValue{
		semconv.ServiceNameKey.String(ServiceName),
		semconv.ServiceVersionKey.String(options.ToolVersion),
		attribute.String("host.architecture", runtime.GOARCH),
		attribute.String("host.os", distro),
		attribute.String("host.os.version", version),
	}

	if options.TargetArchitecture != "" {
		attributes = append(attributes, attribute.String("initrd.architecture", options.TargetArchitecture))
	}

	return attributes
}

// RecordSpanError marks the span as failed when err is set.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ForceFlush attempts to flush any pending spans to the exporter
func ForceFlush(ctx context.Context) error {
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		return nil
	}
	return tp.ForceFlush(ctx)
}

func ShutdownTelemetry(ctx context.Context) error {
	if shutdownFn == nil {
		return nil
	}

	if err := ForceFlush(ctx); err != nil {
		logger.Log.Warnf("Failed to flush telemetry spans: %v", err)
	}

	err := shutdownFn(ctx)
	shutdownFn = nil
	return err
}
