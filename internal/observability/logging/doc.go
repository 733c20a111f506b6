// Package logging provides structured logging utilities with context propagation.
//
// This package wraps the standard library's log/slog package with helper functions
// for common logging patterns used throughout the application.
//
// Key features:
//   - JSON and text output formats
//   - Logger propagation through context.Context (WithLogger, FromContext)
//   - Structured fields (WithFields)
//   - Configurable log levels
//
// Example usage:
//
//	import "github.com/sguzman/pulsewire-sub000/internal/observability/logging"
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("application started", slog.String("version", "1.0"))
//	}
//
//	func handleRequest(ctx context.Context) {
//	    logger := logging.FromContext(ctx)
//	    logger.Info("processing request")
//	}
package logging
