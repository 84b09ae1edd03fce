// Command contagion runs replications of the agent-based SEIRS epidemic
// model and writes one Day,S,E,I,R table per replication.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/contagion/internal/api"
	"github.com/talgya/contagion/internal/blob"
	"github.com/talgya/contagion/internal/config"
	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/metrics"
	"github.com/talgya/contagion/internal/persistence"
	"github.com/talgya/contagion/internal/report"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to a YAML run configuration (optional)")
		population   = flag.Int("population", 0, "number of agents")
		gridSize     = flag.Int("grid", 0, "grid side length")
		days         = flag.Int("days", 0, "days per replication")
		initial      = flag.Int("initial", 0, "initially infectious agents")
		radius       = flag.Int("radius", 0, "contact radius in cells")
		replications = flag.Int("replications", 0, "number of replications")
		seed         = flag.Int64("seed", 0, "base seed; replication k uses seed+k (0 = random)")
		workers      = flag.Int("workers", 0, "concurrent replications (0 = GOMAXPROCS)")
		rngName      = flag.String("rng", "", "random generator: mt19937 or pcg")
		pressure     = flag.String("pressure", "", "infection pressure: snapshot or live")
		outDir       = flag.String("out", "", "output directory for the fs driver")
		driver       = flag.String("driver", "", "output driver: fs, s3 or memory")
		compress     = flag.Bool("compress", false, "zstd-compress result tables")
		charts       = flag.Bool("charts", false, "render an epidemic curve PNG per replication")
		sqlitePath   = flag.String("sqlite", "", "also record results in this SQLite database")
		httpAddr     = flag.String("http", "", "serve the observation API on this address, e.g. :8080")
		progress     = flag.Int("progress", 0, "log progress every N days")
		logLevel     = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logFormat    = flag.String("log-format", "text", "log format: text or json")
	)
	flag.Parse()

	if err := setupLogging(*logLevel, *logFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
		slog.Info("config loaded", "path", *configPath)
	}

	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "population":
			cfg.Population = *population
		case "grid":
			cfg.GridSize = *gridSize
		case "days":
			cfg.Days = *days
		case "initial":
			cfg.InitialInfectious = *initial
		case "radius":
			cfg.ContactRadius = *radius
		case "replications":
			cfg.Replications = *replications
		case "seed":
			cfg.BaseSeed = *seed
		case "workers":
			cfg.Workers = *workers
		case "rng":
			cfg.RNG = *rngName
		case "pressure":
			cfg.InfectionPressure = *pressure
		case "out":
			cfg.Output.Dir = *outDir
		case "driver":
			cfg.Output.Driver = *driver
		case "compress":
			cfg.Output.Compress = *compress
		case "charts":
			cfg.Output.Charts = *charts
		case "sqlite":
			cfg.Output.SQLitePath = *sqlitePath
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "progress":
			cfg.ProgressEvery = *progress
		}
	})

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid -log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return fmt.Errorf("invalid -log-format %q (want text or json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func run(ctx context.Context, cfg config.Config) error {
	params, err := cfg.Params()
	if err != nil {
		return err
	}

	baseSeed := cfg.BaseSeed
	if baseSeed == 0 {
		baseSeed = entropy.CryptoSeed()
		slog.Info("no base seed given, picked one", "base_seed", baseSeed)
	}

	// ── Output ────────────────────────────────────────────────────────
	store, err := blob.Open(ctx, blob.Options{
		Driver: blob.Driver(strings.ToLower(cfg.Output.Driver)),
		Dir:    cfg.Output.Dir,
		S3: blob.S3Config{
			Bucket:    cfg.Output.S3.Bucket,
			Prefix:    cfg.Output.S3.Prefix,
			Region:    cfg.Output.S3.Region,
			Endpoint:  cfg.Output.S3.Endpoint,
			PathStyle: cfg.Output.S3.PathStyle,
		},
	})
	if err != nil {
		return fmt.Errorf("open output store: %w", err)
	}
	slog.Info("output store ready", "driver", store.Driver(), "dir", cfg.Output.Dir, "compress", cfg.Output.Compress)

	sinks := []engine.Sink{&persistence.CSVSink{Store: store, Compress: cfg.Output.Compress}}
	if cfg.Output.Charts {
		sinks = append(sinks, &report.ChartSink{Store: store})
	}

	runID := uuid.NewString()
	var db *persistence.DB
	var dbRun *persistence.Run
	if cfg.Output.SQLitePath != "" {
		db, err = persistence.Open(cfg.Output.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		dbRun, err = db.StartRun(ctx, params, baseSeed, cfg.Replications)
		if err != nil {
			return err
		}
		runID = dbRun.ID
		sinks = append(sinks, dbRun)
		slog.Info("results database opened", "path", cfg.Output.SQLitePath)
	}

	// ── Observation ───────────────────────────────────────────────────
	var observers []engine.Observer
	if cfg.HTTPAddr != "" {
		tracker := api.NewTracker(runID, params, baseSeed, cfg.Replications)
		collector := metrics.NewCollector()
		observers = append(observers, tracker, collector)
		apiServer := &api.Server{
			Tracker: tracker,
			Metrics: collector.Handler(),
			DB:      db,
			Addr:    cfg.HTTPAddr,
		}
		apiServer.Start(ctx)
	}

	// ── Run ───────────────────────────────────────────────────────────
	runner := &engine.Runner{
		Params:        params,
		BaseSeed:      baseSeed,
		Replications:  cfg.Replications,
		Workers:       cfg.Workers,
		ProgressEvery: cfg.ProgressEvery,
		Sinks:         sinks,
		Observers:     observers,
	}

	start := time.Now()
	results, runErr := runner.Run(ctx)
	elapsed := time.Since(start)

	if dbRun != nil {
		// The run context may already be cancelled.
		if err := dbRun.Finish(context.WithoutCancel(ctx), runErr); err != nil {
			slog.Error("failed to finish run record", "error", err)
		}
	}

	ok := 0
	for _, res := range results {
		if res.Err == nil {
			ok++
		}
	}
	agentDays := uint64(params.Population) * uint64(params.Days) * uint64(ok)
	slog.Info("run finished",
		"run_id", runID,
		"replications_ok", ok,
		"replications_failed", len(results)-ok,
		"agent_days", humanize.Comma(int64(agentDays)),
		"elapsed", elapsed.Round(time.Millisecond),
	)

	if errors.Is(runErr, context.Canceled) {
		fmt.Println("Simulation interrupted.")
		return runErr
	}
	if runErr != nil {
		return runErr
	}
	if store.Driver() == blob.DriverFilesystem {
		fmt.Printf("Simulation complete. Results saved in %s/\n", cfg.Output.Dir)
	} else {
		fmt.Printf("Simulation complete. Results stored via the %s driver.\n", store.Driver())
	}
	return nil
}
