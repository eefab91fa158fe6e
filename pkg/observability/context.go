package observability

import (
	"context"
)

// Context keys for observability
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	operationKey     contextKey = "operation"
)

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCorrelationID gets the correlation ID from the context
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// WithOperation adds the operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey, operation)
}

// GetOperation gets the operation name from the context
func GetOperation(ctx context.Context) string {
	if v, ok := ctx.Value(operationKey).(string); ok {
		return v
	}
	return ""
}

// ExtractMetadata extracts all observability metadata from the context
func ExtractMetadata(ctx context.Context) map[string]string {
	metadata := make(map[string]string)

	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		metadata["correlation_id"] = correlationID
	}
	if operation := GetOperation(ctx); operation != "" {
		metadata["operation"] = operation
	}

	return metadata
}

// ContextLogger returns logger with the metadata carried by ctx bound as
// fields, or logger unchanged when the context carries none.
func ContextLogger(ctx context.Context, logger Logger) Logger {
	meta := ExtractMetadata(ctx)
	if len(meta) == 0 {
		return logger
	}
	fields := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		fields[k] = v
	}
	return logger.With(fields)
}
