// Package tracing wraps go.opentelemetry.io/otel with an in-process
// TracerProvider: no network exporter is attached (there is no collector
// endpoint for this repo to ship to), so spans exist purely to propagate
// context and time operations locally, in the teacher's
// TracingManager/TraceableContext idiom (pkg/tracing) trimmed to that
// scope.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Manager owns the process-wide TracerProvider.
type Manager struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewManager installs an in-process TracerProvider and registers it as
// the global provider, returning a Manager wrapping serviceName's
// Tracer. With no WithBatcher exporter configured, spans are created and
// sampled but never leave the process.
func NewManager(serviceName string) *Manager {
	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(provider)
	return &Manager{provider: provider, tracer: provider.Tracer(serviceName)}
}

// Tracer returns the process-wide tracer for packages constructed before
// a Manager exists (e.g. at package-init time): it defers to whatever
// provider is currently registered with otel, falling back to a no-op
// tracer until NewManager runs.
func Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

// Start begins a child span named operation.
func Start(ctx context.Context, tracer oteltrace.Tracer, operation string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, operation)
}

// End finalizes span, recording err on it if non-nil.
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown releases the provider's resources.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
