// cachectl is the operator tool for the result cache: backups, restores,
// cross-store migration, benchmarking with regression gating, stats, and
// encryption key generation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/resultcache/pkg/cache"
	"github.com/S-Corkum/resultcache/pkg/cache/benchmark"
	"github.com/S-Corkum/resultcache/pkg/cache/migration"
	"github.com/S-Corkum/resultcache/pkg/observability"
	"github.com/S-Corkum/resultcache/pkg/security"
)

var (
	// Command flags
	backupFlag  = flag.Bool("backup", false, "Back up the cache to a compressed artifact")
	restoreFlag = flag.Bool("restore", false, "Restore the cache from a backup artifact")
	migrateFlag = flag.Bool("migrate", false, "Migrate all entries to another cache")
	benchFlag   = flag.Bool("bench", false, "Run a benchmark against the cache")
	compareFlag = flag.Bool("compare", false, "Compare two saved benchmark results")
	statsFlag   = flag.Bool("stats", false, "Print cache statistics")
	keygenFlag  = flag.Bool("keygen", false, "Generate a new encryption key")

	// Global flags
	configPath   = flag.String("config", "", "Cache configuration file (YAML)")
	targetConfig = flag.String("target-config", "", "Target cache configuration file (used with -migrate)")
	dest         = flag.String("dest", "", "Backup destination path (used with -backup)")
	source       = flag.String("source", "", "Backup source path (used with -restore)")
	pattern      = flag.String("pattern", "", "Glob pattern restricting backup or migration keys")
	chunkSize    = flag.Int("chunk-size", migration.DefaultChunkSize, "Keys processed per chunk")
	scanCount    = flag.Int64("scan-count", 0, "COUNT hint for remote key scans (0 = configured default)")
	cursor       = flag.Uint64("cursor", 0, "Resume a migration from a previous run's last_cursor")
	rateLimit    = flag.Float64("rate", migration.DefaultChunksPerSecond, "Chunks per second for backup and migration (0 = unlimited)")
	iterations   = flag.Int("iterations", benchmark.DefaultIterations, "Benchmark iterations")
	warmup       = flag.Int("warmup", benchmark.DefaultWarmupIterations, "Benchmark warmup iterations (discarded)")
	valueSize    = flag.Int("value-size", benchmark.DefaultValueSizeBytes, "Benchmark payload size in bytes")
	baseline     = flag.String("baseline", "", "Saved benchmark result to compare against")
	candidate    = flag.String("candidate", "", "Saved benchmark result to compare (used with -compare)")
	out          = flag.String("out", "", "Write the benchmark result JSON to this path")
	warnPercent  = flag.Float64("warning-threshold", benchmark.DefaultWarningPercent, "Regression warning threshold in percent")
	critPercent  = flag.Float64("critical-threshold", benchmark.DefaultCriticalPercent, "Regression critical threshold in percent")
	traceFlag    = flag.Bool("trace", false, "Enable OpenTelemetry tracing")
	traceTarget  = flag.String("trace-endpoint", "", "OTLP gRPC endpoint for traces")
	verboseFlag  = flag.Bool("verbose", false, "Log at debug level")
)

func main() {
	flag.Parse()

	// Key generation needs no cache and no configuration
	if *keygenFlag {
		key, err := security.GenerateEncryptionKey()
		if err != nil {
			log.Fatalf("Failed to generate encryption key: %v", err)
		}
		fmt.Println(key)
		return
	}

	if *compareFlag {
		if *baseline == "" || *candidate == "" {
			fmt.Println("Error: -baseline and -candidate are required when using -compare")
			flag.Usage()
			os.Exit(1)
		}
		runCompare(loadResult(*baseline), loadResult(*candidate))
		return
	}

	logLevel := ""
	if *verboseFlag {
		logLevel = "DEBUG"
	}
	if err := observability.Initialize(observability.Config{
		Logging: observability.LoggingConfig{Prefix: "cachectl", Level: logLevel},
		Tracing: observability.TracingConfig{
			Enabled:     *traceFlag,
			ServiceName: "cachectl",
			Endpoint:    *traceTarget,
		},
	}); err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}
	defer func() {
		if err := observability.Shutdown(); err != nil {
			log.Printf("Observability shutdown: %v", err)
		}
	}()

	// Set up signal handling for graceful cancellation of long runs
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Received termination signal, canceling...")
		cancel()
	}()

	switch {
	case *statsFlag:
		c := buildCache(ctx)
		defer c.Close()
		printJSON(c.Stats())

	case *backupFlag:
		if *dest == "" {
			fmt.Println("Error: -dest is required when using -backup")
			flag.Usage()
			os.Exit(1)
		}
		ctx := tagRun(ctx, "backup")
		c := buildCache(ctx)
		defer c.Close()

		start := time.Now()
		manifest, err := newMigrationManager().CreateBackup(ctx, c, *dest, migration.BackupOptions{
			ChunkSize: *chunkSize,
			ScanCount: *scanCount,
			Pattern:   *pattern,
		})
		if err != nil {
			log.Fatalf("Backup failed: %v", err)
		}
		fmt.Printf("Backup written to %s in %s\n", *dest, time.Since(start).Round(time.Millisecond))
		printJSON(manifest)

	case *restoreFlag:
		if *source == "" {
			fmt.Println("Error: -source is required when using -restore")
			flag.Usage()
			os.Exit(1)
		}
		ctx := tagRun(ctx, "restore")
		c := buildCache(ctx)
		defer c.Close()

		result, err := newMigrationManager().Restore(ctx, c, *source)
		if err != nil {
			log.Fatalf("Restore failed: %v", err)
		}
		printJSON(result)

	case *migrateFlag:
		if *targetConfig == "" {
			fmt.Println("Error: -target-config is required when using -migrate")
			flag.Usage()
			os.Exit(1)
		}
		ctx := tagRun(ctx, "migrate")
		src := buildCache(ctx)
		defer src.Close()
		dst := buildCacheFrom(ctx, *targetConfig)
		defer dst.Close()

		result, err := newMigrationManager().Migrate(ctx, src, dst, migration.MigrateOptions{
			ChunkSize: *chunkSize,
			ScanCount: *scanCount,
			Pattern:   *pattern,
			Cursor:    *cursor,
		})
		if result != nil {
			printJSON(result)
		}
		if err != nil {
			if result != nil && !result.Completed {
				log.Printf("Resume with -cursor %d", result.LastCursor)
			}
			log.Fatalf("Migration failed: %v", err)
		}

	case *benchFlag:
		ctx := tagRun(ctx, "bench")
		c := buildCache(ctx)
		defer c.Close()

		runner := benchmark.NewRunner(benchmark.WithLogger(observability.DefaultLogger))
		result, err := runner.Run(ctx, c, benchmark.Options{
			Iterations:       *iterations,
			WarmupIterations: *warmup,
			ValueSizeBytes:   *valueSize,
		})
		if err != nil {
			log.Fatalf("Benchmark failed: %v", err)
		}
		printJSON(result)

		if *out != "" {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				log.Fatalf("Failed to encode benchmark result: %v", err)
			}
			if err := os.WriteFile(*out, data, 0o644); err != nil {
				log.Fatalf("Failed to write benchmark result: %v", err)
			}
			fmt.Printf("Benchmark result written to %s\n", *out)
		}
		if *baseline != "" {
			runCompare(loadResult(*baseline), result)
		}

	default:
		flag.Usage()
		os.Exit(1)
	}
}

// tagRun stamps the context with a correlation ID and the operation name so
// every log line from one invocation can be tied back to it.
func tagRun(ctx context.Context, operation string) context.Context {
	ctx = observability.WithCorrelationID(ctx, uuid.New().String())
	return observability.WithOperation(ctx, operation)
}

func buildCache(ctx context.Context) *cache.TieredCache {
	return buildCacheFrom(ctx, *configPath)
}

func buildCacheFrom(ctx context.Context, path string) *cache.TieredCache {
	cfg, err := cache.LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	c, err := cache.New(cfg,
		cache.WithLogger(observability.DefaultLogger),
		cache.WithMetrics(observability.DefaultMetricsClient),
		cache.WithTracer(observability.DefaultStartSpan),
	)
	if err != nil {
		log.Fatalf("Failed to build cache: %v", err)
	}

	if cfg.RemoteURL != "" && !c.Connect(ctx) {
		log.Printf("Remote tier unavailable, continuing memory-only")
	}
	return c
}

func newMigrationManager() *migration.Manager {
	return migration.NewManager(
		migration.WithLogger(observability.DefaultLogger),
		migration.WithMetrics(observability.DefaultMetricsClient),
		migration.WithTracer(observability.DefaultStartSpan),
		migration.WithRateLimit(*rateLimit),
	)
}

// runCompare prints the comparison and exits nonzero on a critical
// regression so CI pipelines can gate on it.
func runCompare(before, after *benchmark.Result) {
	detector := benchmark.NewDetector(benchmark.Thresholds{
		WarningPercent:  *warnPercent,
		CriticalPercent: *critPercent,
	})
	comparison := detector.Compare(before, after)
	printJSON(comparison)

	if comparison.Severity == benchmark.SeverityCritical {
		fmt.Println("Critical performance regression detected")
		os.Exit(1)
	}
}

func loadResult(path string) *benchmark.Result {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read benchmark result %s: %v", path, err)
	}
	var result benchmark.Result
	if err := json.Unmarshal(data, &result); err != nil {
		log.Fatalf("Failed to parse benchmark result %s: %v", path, err)
	}
	return &result
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(data))
}
