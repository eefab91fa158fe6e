package observability

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
)

func captureOutput(f func()) string {
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	f()

	return buf.String()
}

func TestLogger_LogLevels(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("cache").(*StandardLogger).WithLevel(LogLevelDebug)

		logger.Debug("Debug message", map[string]interface{}{"key": "value"})
		logger.Info("Info message", map[string]interface{}{"key": "value"})
		logger.Warn("Warn message", map[string]interface{}{"key": "value"})
	})

	if !strings.Contains(output, "Debug message") {
		t.Error("Expected Debug message but it was not found in the output")
	}
	if !strings.Contains(output, "Info message") {
		t.Error("Expected Info message but it was not found in the output")
	}
	if !strings.Contains(output, "Warn message") {
		t.Error("Expected Warn message but it was not found in the output")
	}
}

func TestLogger_MinimumLevel(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("cache").(*StandardLogger).WithLevel(LogLevelInfo)

		logger.Debug("Debug message", nil)
		logger.Info("Info message", nil)
	})

	if strings.Contains(output, "Debug message") {
		t.Error("Did not expect Debug message when minimum level is INFO")
	}
	if !strings.Contains(output, "Info message") {
		t.Error("Expected Info message but it was not found in the output")
	}
}

func TestLogger_WithFields(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("cache").With(map[string]interface{}{"tier": "l1"})
		logger.Info("hit", map[string]interface{}{"key": "abc"})
	})

	if !strings.Contains(output, "tier=l1") {
		t.Errorf("Expected bound field tier=l1 in output, got: %s", output)
	}
	if !strings.Contains(output, "key=abc") {
		t.Errorf("Expected call field key=abc in output, got: %s", output)
	}
}

func TestLogger_WithPrefix(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("engine")
		prefixedLogger := logger.WithPrefix("remote")
		prefixedLogger.Info("connected", nil)
	})

	if !strings.Contains(output, "[remote]") {
		t.Errorf("Expected [remote] prefix in output, got: %s", output)
	}
}

func TestContextLogger_BindsCorrelationMetadata(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "run-123")
	ctx = WithOperation(ctx, "backup")

	output := captureOutput(func() {
		ContextLogger(ctx, NewStandardLogger("cache")).Info("backup complete", nil)
	})

	if !strings.Contains(output, "correlation_id=run-123") {
		t.Errorf("Expected correlation_id=run-123 in output, got: %s", output)
	}
	if !strings.Contains(output, "operation=backup") {
		t.Errorf("Expected operation=backup in output, got: %s", output)
	}
}

func TestContextLogger_PlainContextReturnsSameLogger(t *testing.T) {
	logger := NewStandardLogger("cache")
	if got := ContextLogger(context.Background(), logger); got != logger {
		t.Error("Expected the logger to be returned unchanged for a bare context")
	}
}

func TestMetricsClient_CounterAggregation(t *testing.T) {
	client := NewMetricsClient().(*metricsClient)

	client.RecordCacheOperation("get", true, 0.001)
	client.RecordCacheOperation("get", true, 0.002)
	client.RecordCacheOperation("get", false, 0.005)

	hitLabels := map[string]string{"operation": "get", "success": "true"}
	if got := client.CounterValue("cache_operations_total", hitLabels); got != 2 {
		t.Errorf("expected 2 successful get operations, got %v", got)
	}

	missLabels := map[string]string{"operation": "get", "success": "false"}
	if got := client.CounterValue("cache_operations_total", missLabels); got != 1 {
		t.Errorf("expected 1 failed get operation, got %v", got)
	}
}

func TestMetricsClient_Snapshot(t *testing.T) {
	client := NewMetricsClient().(*metricsClient)

	client.IncrementCounter("connects_total", 1)
	client.RecordGauge("l1_entries", 42, nil)

	snap := client.Snapshot()
	if snap["connects_total"] != 1 {
		t.Errorf("expected connects_total=1 in snapshot, got %v", snap["connects_total"])
	}
	if snap["l1_entries"] != 42 {
		t.Errorf("expected l1_entries=42 in snapshot, got %v", snap["l1_entries"])
	}
}
