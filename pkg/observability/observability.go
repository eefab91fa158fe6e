package observability

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// Global default instances used when no explicit component is injected
var (
	// DefaultLogger is the default logger instance
	DefaultLogger Logger

	// DefaultMetricsClient is the default metrics client instance
	DefaultMetricsClient MetricsClient

	// DefaultStartSpan is the default function for starting new spans
	DefaultStartSpan StartSpanFunc

	// shutdownFuncs stores cleanup functions to be called during shutdown
	shutdownFuncs []func() error
	shutdownMutex sync.Mutex
)

// Initialize configures the default observability components. It is the main
// entry point for binaries; libraries take Logger/MetricsClient explicitly.
func Initialize(cfg Config) error {
	if DefaultLogger == nil {
		prefix := cfg.Logging.Prefix
		if prefix == "" {
			prefix = "resultcache"
		}
		logger := NewStandardLogger(prefix)
		if cfg.Logging.Level != "" {
			if sl, ok := logger.(*StandardLogger); ok {
				logger = sl.WithLevel(LogLevel(strings.ToUpper(cfg.Logging.Level)))
			}
		}
		DefaultLogger = logger
	}

	if DefaultMetricsClient == nil {
		DefaultMetricsClient = NewMetricsClient()
	}

	if DefaultStartSpan == nil {
		if cfg.Tracing.Enabled {
			shutdownFunc, err := InitTracing(cfg.Tracing)
			if err != nil {
				DefaultLogger.Error("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
				DefaultStartSpan = NoopStartSpan
			} else {
				DefaultStartSpan = func(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
					returnCtx, returnSpan := StartSpan(ctx, name)
					if len(attrs) > 0 {
						returnSpan.SetAttribute("attributes", attrs)
					}
					return returnCtx, returnSpan
				}

				registerShutdownFunc(func() error {
					shutdownFunc()
					return nil
				})
			}
		} else {
			DefaultStartSpan = NoopStartSpan
		}
	}

	return nil
}

// Shutdown gracefully shuts down all observability components
func Shutdown() error {
	var shutdownErrors []error

	if DefaultMetricsClient != nil {
		if err := DefaultMetricsClient.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, err)
			if DefaultLogger != nil {
				DefaultLogger.Error("Error shutting down metrics client", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	shutdownMutex.Lock()
	funcs := make([]func() error, len(shutdownFuncs))
	copy(funcs, shutdownFuncs)
	shutdownFuncs = nil
	shutdownMutex.Unlock()

	for _, fn := range funcs {
		if err := fn(); err != nil {
			shutdownErrors = append(shutdownErrors, err)
			if DefaultLogger != nil {
				DefaultLogger.Error("Error during observability shutdown", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	if len(shutdownErrors) > 0 {
		return shutdownErrors[0]
	}
	return nil
}

// registerShutdownFunc registers a function to be called during shutdown
func registerShutdownFunc(fn func() error) {
	if fn == nil {
		return
	}

	shutdownMutex.Lock()
	defer shutdownMutex.Unlock()
	shutdownFuncs = append(shutdownFuncs, fn)
}
