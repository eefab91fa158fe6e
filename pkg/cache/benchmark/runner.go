// Package benchmark measures cache operation latency and throughput and
// detects performance regressions between runs. Results are plain data,
// suitable for persisting and for CI gates that compare a run against a
// stored baseline.
package benchmark

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/S-Corkum/resultcache/pkg/cache"
	"github.com/S-Corkum/resultcache/pkg/observability"
	"github.com/google/uuid"
)

const (
	// DefaultIterations is the number of timed cycles when the caller does
	// not say otherwise.
	DefaultIterations = 1000

	// DefaultWarmupIterations is the discarded warmup cycle count.
	DefaultWarmupIterations = 100

	// DefaultValueSizeBytes sizes the synthetic payload's text field.
	DefaultValueSizeBytes = 512
)

// Options tunes a benchmark run.
type Options struct {
	// Iterations is the number of timed set/get/delete cycles.
	Iterations int

	// WarmupIterations run before timing starts and are discarded.
	WarmupIterations int

	// ValueSizeBytes sizes the synthetic payload's text field.
	ValueSizeBytes int
}

// Result is an immutable snapshot of one benchmark run. Duration statistics
// are per operation, not per cycle.
type Result struct {
	ID            string    `json:"id"`
	OperationType string    `json:"operation_type"`
	Iterations    int       `json:"iterations"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
	MinDurationMS float64   `json:"min_duration_ms"`
	MaxDurationMS float64   `json:"max_duration_ms"`
	P95DurationMS float64   `json:"p95_duration_ms"`
	P99DurationMS float64   `json:"p99_duration_ms"`
	StdDevMS      float64   `json:"std_dev_ms"`
	OpsPerSecond  float64   `json:"ops_per_second"`
	SuccessRate   float64   `json:"success_rate"`
	MemoryUsageMB float64   `json:"memory_usage_mb"`
	Timestamp     time.Time `json:"timestamp"`
}

// Runner executes benchmark runs against any cache contract implementation.
// It holds only a borrowed reference to the cache and owns no cache state.
type Runner struct {
	logger  observability.Logger
	metrics observability.MetricsClient
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger used for run reporting.
func WithLogger(logger observability.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics client.
func WithMetrics(metrics observability.MetricsClient) RunnerOption {
	return func(r *Runner) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// NewRunner creates a Runner with standard logging and metrics.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:  observability.NewStandardLogger("benchmark"),
		metrics: observability.NewMetricsClient(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a warmup phase (discarded) followed by timed set/get/delete
// cycles against synthetic payloads and returns the aggregated statistics.
// Failed operations lower the success rate but never abort the run; only
// context cancellation does, checked once per cycle.
func (r *Runner) Run(ctx context.Context, c cache.Cache, opts Options) (*Result, error) {
	if c == nil {
		return nil, &cache.ValidationError{Subject: "cache", Reason: "cache is nil"}
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.WarmupIterations <= 0 {
		opts.WarmupIterations = DefaultWarmupIterations
	}
	if opts.ValueSizeBytes <= 0 {
		opts.ValueSizeBytes = DefaultValueSizeBytes
	}

	runID := uuid.New().String()
	value := syntheticValue(opts.ValueSizeBytes)

	for i := 0; i < opts.WarmupIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := fmt.Sprintf("bench:%s:warmup:%d", runID, i)
		_ = c.Set(ctx, key, value, time.Minute)
		_, _ = c.Get(ctx, key)
		_ = c.Delete(ctx, key)
	}

	runtime.GC()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	durations := make([]float64, 0, opts.Iterations*3)
	failures := 0
	timedStart := time.Now()

	for i := 0; i < opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := fmt.Sprintf("bench:%s:%d", runID, i)

		start := time.Now()
		err := c.Set(ctx, key, value, time.Minute)
		durations = append(durations, msSince(start))
		if err != nil {
			failures++
		}

		start = time.Now()
		_, found := c.Get(ctx, key)
		durations = append(durations, msSince(start))
		if !found {
			failures++
		}

		start = time.Now()
		deleted := c.Delete(ctx, key)
		durations = append(durations, msSince(start))
		if !deleted {
			failures++
		}
	}

	elapsed := time.Since(timedStart)

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	heapDelta := int64(after.HeapAlloc) - int64(before.HeapAlloc)
	if heapDelta < 0 {
		heapDelta = 0
	}

	totalOps := len(durations)
	sort.Float64s(durations)

	result := &Result{
		ID:            runID,
		OperationType: "basic_operations",
		Iterations:    opts.Iterations,
		AvgDurationMS: mean(durations),
		MinDurationMS: durations[0],
		MaxDurationMS: durations[totalOps-1],
		P95DurationMS: percentile(durations, 95),
		P99DurationMS: percentile(durations, 99),
		StdDevMS:      stdDev(durations),
		OpsPerSecond:  float64(totalOps) / elapsed.Seconds(),
		SuccessRate:   float64(totalOps-failures) / float64(totalOps),
		MemoryUsageMB: float64(heapDelta) / (1024 * 1024),
		Timestamp:     time.Now().UTC(),
	}

	r.metrics.IncrementCounter("cache_benchmark_runs_total", 1)
	observability.ContextLogger(ctx, r.logger).Info("benchmark complete", map[string]interface{}{
		"operation_type": result.OperationType,
		"iterations":     result.Iterations,
		"avg_ms":         result.AvgDurationMS,
		"p95_ms":         result.P95DurationMS,
		"ops_per_second": result.OpsPerSecond,
		"success_rate":   result.SuccessRate,
	})
	return result, nil
}

// syntheticValue builds a payload shaped like a text-processing result with
// a text field of the requested size.
func syntheticValue(size int) map[string]interface{} {
	const filler = "the quick brown fox jumps over the lazy dog "
	text := strings.Repeat(filler, size/len(filler)+1)[:size]
	return map[string]interface{}{
		"result":     text,
		"model":      "benchmark",
		"confidence": 0.99,
	}
}

func msSince(start time.Time) float64 {
	return time.Since(start).Seconds() * 1000
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	avg := mean(values)
	sumSquares := 0.0
	for _, v := range values {
		diff := v - avg
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}

// percentile uses the nearest-rank method on an already sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
