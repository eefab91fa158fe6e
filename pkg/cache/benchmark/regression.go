package benchmark

import (
	"fmt"
	"math"
)

const (
	// DefaultWarningPercent is the degradation percentage above which a
	// comparison is classified as a warning.
	DefaultWarningPercent = 10.0

	// DefaultCriticalPercent is the degradation percentage above which a
	// comparison is classified as critical.
	DefaultCriticalPercent = 25.0

	// noiseFloorPercent is the change magnitude below which a metric is
	// reported as neither improved nor degraded.
	noiseFloorPercent = 1.0
)

// Severity levels of a detected regression.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Trend directions.
const (
	DirectionImproving = "improving"
	DirectionStable    = "stable"
	DirectionDegrading = "degrading"
)

// Thresholds classify degradations. Zero values fall back to the defaults.
type Thresholds struct {
	WarningPercent  float64
	CriticalPercent float64
}

// Comparison pairs two benchmark results. Positive PerformanceChangePercent
// means the new run is slower; positive MemoryChangePercent means it uses
// more memory.
type Comparison struct {
	PerformanceChangePercent float64  `json:"performance_change_percent"`
	MemoryChangePercent      float64  `json:"memory_change_percent"`
	RegressionDetected       bool     `json:"regression_detected"`
	Severity                 string   `json:"severity,omitempty"`
	ImprovementAreas         []string `json:"improvement_areas,omitempty"`
	DegradationAreas         []string `json:"degradation_areas,omitempty"`
}

// Trend summarizes the direction of a series of benchmark results.
type Trend struct {
	Direction         string  `json:"direction"`
	ChangeRatePercent float64 `json:"change_rate_percent"`
	Samples           int     `json:"samples"`
}

// Detector classifies performance changes between benchmark runs.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a Detector, applying default thresholds to zero
// values.
func NewDetector(thresholds Thresholds) *Detector {
	if thresholds.WarningPercent <= 0 {
		thresholds.WarningPercent = DefaultWarningPercent
	}
	if thresholds.CriticalPercent <= 0 {
		thresholds.CriticalPercent = DefaultCriticalPercent
	}
	return &Detector{thresholds: thresholds}
}

// Compare derives the change between a baseline run and a new run across
// average duration, p95 duration, throughput, and memory, and classifies
// the worst degradation against the thresholds. Improvements and
// degradations are reported as separate human-readable lists.
func (d *Detector) Compare(baseline, current *Result) *Comparison {
	if baseline == nil || current == nil {
		return &Comparison{}
	}

	avgChange := percentChange(baseline.AvgDurationMS, current.AvgDurationMS)
	p95Change := percentChange(baseline.P95DurationMS, current.P95DurationMS)
	opsChange := percentChange(baseline.OpsPerSecond, current.OpsPerSecond)
	memChange := percentChange(baseline.MemoryUsageMB, current.MemoryUsageMB)

	comparison := &Comparison{
		PerformanceChangePercent: avgChange,
		MemoryChangePercent:      memChange,
	}

	// Duration and memory degrade upward, throughput degrades downward.
	comparison.report("average duration", avgChange, false,
		fmt.Sprintf("%.2fms to %.2fms", baseline.AvgDurationMS, current.AvgDurationMS))
	comparison.report("p95 duration", p95Change, false,
		fmt.Sprintf("%.2fms to %.2fms", baseline.P95DurationMS, current.P95DurationMS))
	comparison.report("throughput", opsChange, true,
		fmt.Sprintf("%.0f to %.0f ops/s", baseline.OpsPerSecond, current.OpsPerSecond))
	comparison.report("memory usage", memChange, false,
		fmt.Sprintf("%.2fMB to %.2fMB", baseline.MemoryUsageMB, current.MemoryUsageMB))

	worst := math.Max(math.Max(avgChange, p95Change), math.Max(memChange, -opsChange))
	switch {
	case worst > d.thresholds.CriticalPercent:
		comparison.RegressionDetected = true
		comparison.Severity = SeverityCritical
	case worst > d.thresholds.WarningPercent:
		comparison.RegressionDetected = true
		comparison.Severity = SeverityWarning
	}

	return comparison
}

// report files one metric's change into the improvement or degradation
// list. higherIsBetter flips which direction counts as a degradation.
func (c *Comparison) report(area string, change float64, higherIsBetter bool, detail string) {
	if math.Abs(change) < noiseFloorPercent {
		return
	}

	direction := "up"
	if change < 0 {
		direction = "down"
	}
	entry := fmt.Sprintf("%s %s %.1f%% (%s)", area, direction, math.Abs(change), detail)

	degraded := change > 0
	if higherIsBetter {
		degraded = change < 0
	}
	if degraded {
		c.DegradationAreas = append(c.DegradationAreas, entry)
		return
	}
	c.ImprovementAreas = append(c.ImprovementAreas, entry)
}

// AnalyzeTrend derives the direction of a series of results from the
// comparison of successive average durations. Fewer than two samples read
// as stable; mixed movement reads as stable.
func (d *Detector) AnalyzeTrend(results []*Result) *Trend {
	trend := &Trend{Direction: DirectionStable, Samples: len(results)}
	if len(results) < 2 {
		return trend
	}

	improving, degrading := 0, 0
	for i := 1; i < len(results); i++ {
		step := percentChange(results[i-1].AvgDurationMS, results[i].AvgDurationMS)
		switch {
		case step > noiseFloorPercent:
			degrading++
		case step < -noiseFloorPercent:
			improving++
		}
	}

	trend.ChangeRatePercent = percentChange(results[0].AvgDurationMS, results[len(results)-1].AvgDurationMS)
	switch {
	case degrading > 0 && improving == 0:
		trend.Direction = DirectionDegrading
	case improving > 0 && degrading == 0:
		trend.Direction = DirectionImproving
	}
	return trend
}

func percentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
