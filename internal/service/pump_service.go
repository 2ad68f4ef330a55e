package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/metrics"
	"github.com/devrev/pairdb/transfer/internal/model"
	"github.com/devrev/pairdb/transfer/internal/sink"
	"github.com/devrev/pairdb/transfer/internal/source"
	"github.com/devrev/pairdb/transfer/internal/util/workerpool"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Run states reported by Progress
const (
	StateIdle     = "idle"
	StateChecking = "checking"
	StateRunning  = "running"
	StateDryRun   = "dry_run"
	StateDone     = "done"
	StateFailed   = "failed"
)

// PumpConfig holds pump configuration
type PumpConfig struct {
	Workers         int
	DryRun          bool
	ReportDot       int
	ReportFull      int
	ShutdownTimeout time.Duration
	Source          source.Options
}

// Progress is a point-in-time view of a run
type Progress struct {
	RunID           string    `json:"run_id"`
	Source          string    `json:"source"`
	State           string    `json:"state"`
	PartitionsTotal int       `json:"partitions_total"`
	PartitionsDone  int       `json:"partitions_done"`
	Batches         int64     `json:"batches"`
	Records         int64     `json:"records"`
	Bytes           int64     `json:"bytes"`
	Skipped         int64     `json:"skipped"`
	StartedAt       time.Time `json:"started_at"`
	ElapsedSeconds  float64   `json:"elapsed_seconds"`
}

// Summary describes a finished run
type Summary struct {
	RunID      string
	Descriptor *model.SourceDescriptor
	DryRun     bool
	Partitions int
	Batches    int64
	Records    int64
	Bytes      int64
	Skipped    int64
	Duration   time.Duration
}

// partitionPlan is one source instance to run to completion
type partitionPlan struct {
	ID      string
	Options source.Options
}

// statsReporter is implemented by sources that count their work
type statsReporter interface {
	Stats() source.ScanStats
}

// PumpService moves every batch of a source into a sink
type PumpService struct {
	config  *PumpConfig
	factory source.Factory
	sink    sink.Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	runID   string

	mu       sync.Mutex
	progress Progress
}

// NewPumpService creates a new pump service. A fresh run id is generated when runID is empty.
func NewPumpService(
	cfg *PumpConfig,
	factory source.Factory,
	snk sink.Sink,
	m *metrics.Metrics,
	runID string,
	logger *zap.Logger,
) *PumpService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry(), runID)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ReportDot <= 0 {
		cfg.ReportDot = 50
	}
	if cfg.ReportFull <= 0 {
		cfg.ReportFull = 2000
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	return &PumpService{
		config:   cfg,
		factory:  factory,
		sink:     snk,
		metrics:  m,
		logger:   logger.With(zap.String("run_id", runID)),
		runID:    runID,
		progress: Progress{RunID: runID, State: StateIdle},
	}
}

// RunID returns the id attached to every log line and metric of this service
func (s *PumpService) RunID() string {
	return s.runID
}

// Run checks the source at spec and, unless this is a dry run, pumps all of
// it into the sink. The first error stops the run.
func (s *PumpService) Run(ctx context.Context, spec string) (*Summary, error) {
	start := time.Now()
	s.update(func(p *Progress) {
		p.Source = spec
		p.State = StateChecking
		p.StartedAt = start
	})

	desc, err := s.factory.Check(ctx, spec)
	if err != nil {
		s.fail()
		s.logger.Error("Source check failed", zap.String("source", spec), zap.Error(err))
		return nil, err
	}
	s.describe(ctx, desc)

	if s.config.DryRun {
		s.update(func(p *Progress) { p.State = StateDryRun })
		s.logger.Info("Dry run finished; source is valid", zap.String("source", spec))
		summary := s.summary(desc, start)
		summary.DryRun = true
		return summary, nil
	}

	plans, err := s.plan(ctx, spec)
	if err != nil {
		s.fail()
		return nil, err
	}
	s.update(func(p *Progress) {
		p.State = StateRunning
		p.PartitionsTotal = len(plans)
	})
	s.logger.Info("Transfer started",
		zap.String("source", spec),
		zap.Int("plans", len(plans)),
		zap.Int("workers", s.config.Workers))

	if len(plans) == 1 {
		err = s.pumpPlan(ctx, spec, plans[0])
	} else {
		err = s.pumpParallel(ctx, spec, plans)
	}

	summary := s.summary(desc, start)
	if err != nil {
		s.fail()
		s.logger.Error("Transfer failed",
			zap.Int64("records", summary.Records),
			zap.Duration("duration", summary.Duration),
			zap.Error(err))
		return summary, err
	}

	s.update(func(p *Progress) { p.State = StateDone })
	s.logger.Info("Transfer done",
		zap.Int("partitions", summary.Partitions),
		zap.Int64("batches", summary.Batches),
		zap.Int64("records", summary.Records),
		zap.String("bytes", humanize.Bytes(uint64(summary.Bytes))),
		zap.Int64("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// Progress returns a snapshot of the current run
func (s *PumpService) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.progress
	if !p.StartedAt.IsZero() {
		p.ElapsedSeconds = time.Since(p.StartedAt).Seconds()
	}
	return p
}

// describe logs the descriptor and the per-bucket config and design documents
func (s *PumpService) describe(ctx context.Context, desc *model.SourceDescriptor) {
	for _, bucket := range desc.Buckets {
		hosts := make([]string, 0, len(bucket.Nodes))
		for _, n := range bucket.Nodes {
			hosts = append(hosts, n.Hostname)
		}
		s.logger.Info("Source bucket",
			zap.String("bucket", bucket.Name),
			zap.Strings("nodes", hosts))

		config, err := s.factory.ProvideConfig(ctx, desc.Spec, bucket.Name)
		if err != nil {
			s.logger.Warn("Failed to read bucket config", zap.String("bucket", bucket.Name), zap.Error(err))
		}
		design, err := s.factory.ProvideDesign(ctx, desc.Spec, bucket.Name)
		if err != nil {
			s.logger.Warn("Failed to read bucket design", zap.String("bucket", bucket.Name), zap.Error(err))
		}
		s.logger.Debug("Bucket metadata",
			zap.String("bucket", bucket.Name),
			zap.Int("config_bytes", len(config)),
			zap.Int("design_bytes", len(design)))
	}
}

// plan splits the run into one plan per partition when running in parallel
// and the source can list its partitions; otherwise it is a single plan.
func (s *PumpService) plan(ctx context.Context, spec string) ([]partitionPlan, error) {
	single := []partitionPlan{{ID: "all", Options: s.config.Source}}

	lister, ok := s.factory.(source.PartitionLister)
	if s.config.Workers <= 1 || s.config.Source.VBucketID != nil || !ok {
		return single, nil
	}

	ids, err := lister.ListPartitions(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(ids) <= 1 {
		return single, nil
	}

	// Highest id first, matching the sequential visiting order.
	plans := make([]partitionPlan, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		id := int(ids[i])
		opts := s.config.Source
		opts.VBucketID = &id
		plans = append(plans, partitionPlan{ID: fmt.Sprintf("vbucket-%d", id), Options: opts})
	}
	return plans, nil
}

func (s *PumpService) pumpParallel(ctx context.Context, spec string, plans []partitionPlan) error {
	pool := workerpool.NewWorkerPool(ctx, &workerpool.Config{
		Name:       "pump",
		MaxWorkers: s.config.Workers,
		QueueSize:  len(plans),
		FailFast:   true,
		Logger:     s.logger,
	})
	defer pool.Stop(s.config.ShutdownTimeout)

	for _, plan := range plans {
		plan := plan
		err := pool.SubmitWithContext(ctx, workerpool.Task{
			ID: plan.ID,
			Fn: func(taskCtx context.Context) error {
				return s.pumpPlan(taskCtx, spec, plan)
			},
		})
		if err != nil {
			pool.Wait()
			return err
		}
	}

	return pool.Wait()
}

// pumpPlan runs one source to exhaustion
func (s *PumpService) pumpPlan(ctx context.Context, spec string, plan partitionPlan) error {
	src, err := s.factory.NewSource(spec, plan.Options)
	if err != nil {
		return err
	}
	defer src.Close()

	s.metrics.PartitionStarted()
	defer func() {
		var skipped int64
		if r, ok := src.(statsReporter); ok {
			skipped = r.Stats().Skipped
		}
		s.metrics.PartitionFinished(skipped)
		s.update(func(p *Progress) {
			p.PartitionsDone++
			p.Skipped += skipped
		})
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pullStart := time.Now()
		batch, err := src.ProvideBatch(ctx)
		s.metrics.RecordPull(time.Since(pullStart).Seconds())
		if err != nil {
			s.metrics.RecordError(metrics.StageSource)
			return err
		}
		if batch == nil {
			s.logger.Debug("Plan finished", zap.String("plan", plan.ID))
			return nil
		}
		if batch.Len() == 0 {
			s.metrics.RecordEmptyBatch()
			continue
		}

		consumeStart := time.Now()
		if err := s.sink.Consume(ctx, batch); err != nil {
			s.metrics.RecordError(metrics.StageSink)
			return errors.SinkFailed(fmt.Sprintf("sink rejected a batch of plan %s", plan.ID), err)
		}
		s.metrics.RecordBatch(batch.Len(), batch.Bytes(), time.Since(consumeStart).Seconds())
		s.report(batch)
	}
}

// report adds batch to the progress and logs every ReportDot/ReportFull batches
func (s *PumpService) report(batch *model.Batch) {
	s.mu.Lock()
	s.progress.Batches++
	s.progress.Records += int64(batch.Len())
	s.progress.Bytes += int64(batch.Bytes())
	p := s.progress
	s.mu.Unlock()

	switch {
	case p.Batches%int64(s.config.ReportFull) == 0:
		s.logger.Info("Transfer progress",
			zap.Int64("batches", p.Batches),
			zap.String("records", humanize.Comma(p.Records)),
			zap.String("bytes", humanize.Bytes(uint64(p.Bytes))),
			zap.Int("partitions_done", p.PartitionsDone),
			zap.Int("partitions_total", p.PartitionsTotal))
	case p.Batches%int64(s.config.ReportDot) == 0:
		s.logger.Debug("Transfer progress",
			zap.Int64("batches", p.Batches),
			zap.Int64("records", p.Records))
	}
}

func (s *PumpService) update(fn func(p *Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.progress)
}

func (s *PumpService) fail() {
	s.update(func(p *Progress) { p.State = StateFailed })
}

func (s *PumpService) summary(desc *model.SourceDescriptor, start time.Time) *Summary {
	p := s.Progress()
	return &Summary{
		RunID:      s.runID,
		Descriptor: desc,
		Partitions: p.PartitionsDone,
		Batches:    p.Batches,
		Records:    p.Records,
		Bytes:      p.Bytes,
		Skipped:    p.Skipped,
		Duration:   time.Since(start),
	}
}
