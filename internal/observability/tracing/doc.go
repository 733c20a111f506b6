// Package tracing provides OpenTelemetry tracing integration.
//
// It provides:
//   - Middleware: HTTP server tracing with W3C Trace Context extraction and an
//     X-Trace-Id response header
//   - GetTracer: the package-wide tracer for creating spans
//
// Spans go to whatever tracer provider is installed globally through otel;
// this package installs no provider or exporter of its own.
//
// Example usage:
//
//	import "github.com/sguzman/pulsewire-sub000/internal/observability/tracing"
//
//	handler := tracing.Middleware(mux)
//
//	func processRequest(ctx context.Context) {
//	    ctx, span := tracing.GetTracer().Start(ctx, "process-request")
//	    defer span.End()
//	    // ... process request ...
//	}
package tracing
