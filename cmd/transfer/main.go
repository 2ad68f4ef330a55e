package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/devrev/pairdb/transfer/internal/config"
	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/metrics"
	"github.com/devrev/pairdb/transfer/internal/server"
	"github.com/devrev/pairdb/transfer/internal/service"
	"github.com/devrev/pairdb/transfer/internal/sink"
	"github.com/devrev/pairdb/transfer/internal/source"
	"github.com/devrev/pairdb/transfer/internal/validation"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// cliFlags holds everything parsed from the command line
type cliFlags struct {
	configPath  string
	id          int
	idSet       bool
	key         string
	dryRun      bool
	threads     int
	threadsSet  bool
	verbose     int
	extra       string
	source      string
	destination string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// A missing .env file is fine.
	_ = godotenv.Load()

	var flags cliFlags
	app := newApp(&flags)
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	if _, err := app.Parse(args); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitConfig
	}

	cfg, err := buildConfig(&flags)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}

	logger, err := initLogger(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return exitFailed
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := transfer(ctx, cfg, stdout, logger); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func newApp(f *cliFlags) *kingpin.Application {
	app := kingpin.New("transfer", "Transfer all items from a 1.8 legacy backup (master file plus *.mb shard files) into a sink.")
	app.Flag("config", "YAML config file.").Short('c').Envar("CONFIG_PATH").StringVar(&f.configPath)
	app.Flag("id", "Allow only items that match a vbucketID.").Short('i').IsSetByUser(&f.idSet).IntVar(&f.id)
	app.Flag("key", "Allow only items with keys that match a regexp.").Short('k').StringVar(&f.key)
	app.Flag("dry-run", "No actual work; just validate parameters and files.").Short('n').BoolVar(&f.dryRun)
	app.Flag("threads", "Number of concurrent workers; above 1 every vbucket gets its own reader and global order is not kept.").Short('t').IsSetByUser(&f.threadsSet).IntVar(&f.threads)
	app.Flag("verbose", "Verbose logging; more -v's provide more verbosity.").Short('v').CounterVar(&f.verbose)
	app.Flag("extra", config.Default().ExtraHelp()).Short('x').StringVar(&f.extra)
	app.Arg("source", "Legacy backup file, e.g. /backups/backup-20120512/default").Required().StringVar(&f.source)
	app.Arg("destination", "Sink: stdout:, digest: or jsonl:<dir>").Required().StringVar(&f.destination)
	return app
}

// buildConfig loads the config file, if any, and lets the command line override it
func buildConfig(f *cliFlags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.Source.Spec = f.source
	cfg.Sink.Spec = f.destination
	if f.idSet {
		id := f.id
		cfg.Filter.ID = &id
	}
	if f.key != "" {
		cfg.Filter.Key = f.key
	}
	if f.dryRun {
		cfg.Transfer.DryRun = true
	}
	if f.threadsSet {
		cfg.Transfer.Workers = f.threads
	}
	switch {
	case f.verbose >= 2:
		cfg.Logging.Level = "debug"
	case f.verbose == 1:
		cfg.Logging.Level = "info"
	}

	if err := cfg.ApplyExtra(f.extra); err != nil {
		return nil, err
	}
	return cfg, nil
}

func transfer(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *zap.Logger) error {
	runID := uuid.NewString()

	policy, err := validation.ParseVersionPolicy(cfg.Transfer.VersionPolicy)
	if err != nil {
		return err
	}
	factory := source.NewLegacyFactory(validation.NewFormatValidator(policy, logger), logger)
	if _, err := source.FindFactory(cfg.Source.Spec, factory); err != nil {
		return err
	}

	snk, err := sink.Open(cfg.Sink.Spec, sink.Options{
		Out:          stdout,
		SegmentSize:  cfg.Sink.SegmentSize,
		SyncWrites:   cfg.Sink.SyncWrites,
		MaxDiskUsage: cfg.Sink.MaxDiskUsage,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics(reg, runID)

	pump := service.NewPumpService(&service.PumpConfig{
		Workers:         cfg.Transfer.Workers,
		DryRun:          cfg.Transfer.DryRun,
		ReportDot:       cfg.Transfer.ReportDot,
		ReportFull:      cfg.Transfer.ReportFull,
		ShutdownTimeout: cfg.Transfer.ShutdownTimeout,
		Source: source.Options{
			BatchMaxSize:  cfg.Batch.MaxSize,
			BatchMaxBytes: cfg.Batch.MaxBytes,
			VBucketID:     cfg.Filter.ID,
			KeyPattern:    cfg.Filter.Key,
		},
	}, factory, snk, m, runID, logger)

	if cfg.Metrics.Enabled {
		srv := server.NewMetricsServer(&server.MetricsServerConfig{
			Port:    cfg.Metrics.Port,
			Path:    cfg.Metrics.Path,
			DataDir: sink.SegmentDir(cfg.Sink.Spec),
		}, m, reg, func() interface{} { return pump.Progress() }, logger)
		if err := srv.Start(); err != nil {
			snk.Close()
			return errors.InvalidArgument("failed to start metrics server", err)
		}
		defer srv.Stop()
	}

	logger.Info("Transfer configured",
		zap.String("run_id", runID),
		zap.String("source", cfg.Source.Spec),
		zap.String("destination", cfg.Sink.Spec),
		zap.Int("workers", cfg.Transfer.Workers),
		zap.Int("batch_max_size", cfg.Batch.MaxSize),
		zap.String("batch_max_bytes", humanize.Bytes(uint64(cfg.Batch.MaxBytes))))

	summary, runErr := pump.Run(ctx, cfg.Source.Spec)
	closeErr := snk.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return errors.SinkFailed("failed to close sink", closeErr)
	}

	if !summary.DryRun {
		logger.Info("Transfer summary",
			zap.String("run_id", runID),
			zap.Int64("records", summary.Records),
			zap.String("bytes", humanize.Bytes(uint64(summary.Bytes))),
			zap.Duration("duration", summary.Duration))
	}
	return nil
}

// initLogger builds a production zap logger writing to errOut
func initLogger(cfg config.LoggingConfig, errOut io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(errOut)), zap.NewAtomicLevelAt(level))
	return zap.New(core), nil
}

// exitCode maps configuration errors to 2 and everything else to 1
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.IsConfiguration(err):
		return exitConfig
	default:
		return exitFailed
	}
}
