package source

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/filter"
	"github.com/devrev/pairdb/transfer/internal/model"
	"github.com/devrev/pairdb/transfer/internal/storage/legacy"
	"github.com/devrev/pairdb/transfer/internal/validation"
	"go.uber.org/zap"
)

// Phase is the lifecycle phase of a LegacySource
type Phase int

const (
	PhaseIdle      Phase = iota // Nothing opened yet
	PhaseScanning               // Dataset open, worklist being consumed
	PhaseExhausted              // Done or failed; every resource released
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ScanStats counts the work done by a LegacySource
type ScanStats struct {
	Partitions int   // Work items read to the end
	Records    int64 // Records emitted
	Skipped    int64 // Records excluded by the filter
	Bytes      int64 // Value bytes emitted
}

// LegacyFactory handles 1.8 master/*.mb backup files
type LegacyFactory struct {
	validator *validation.FormatValidator
	logger    *zap.Logger
}

// NewLegacyFactory creates a factory for legacy sources
func NewLegacyFactory(validator *validation.FormatValidator, logger *zap.Logger) *LegacyFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = validation.NewFormatValidator(validation.VersionPolicyAll, logger)
	}
	return &LegacyFactory{
		validator: validator,
		logger:    logger,
	}
}

// Name returns the factory name
func (f *LegacyFactory) Name() string {
	return "legacy"
}

// CanHandle reports whether spec is a regular file
func (f *LegacyFactory) CanHandle(spec string) bool {
	info, err := os.Stat(spec)
	return err == nil && info.Mode().IsRegular()
}

// Check validates the dataset at spec and describes it as a single bucket on a single node
func (f *LegacyFactory) Check(ctx context.Context, spec string) (*model.SourceDescriptor, error) {
	spec = filepath.Clean(spec)
	if !f.CanHandle(spec) {
		return nil, errors.NotAFile(spec)
	}

	versions, err := f.validator.Validate(ctx, spec)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("Legacy source check passed",
		zap.String("spec", spec),
		zap.Int("db_files", len(versions)),
		zap.Int("min_version", f.validator.MinVersion()))

	return &model.SourceDescriptor{
		Spec: spec,
		Buckets: []model.BucketDescriptor{{
			Name:  filepath.Base(spec),
			Nodes: []model.NodeDescriptor{{Hostname: "N/A"}},
		}},
	}, nil
}

// ProvideConfig returns no bucket config; legacy files do not carry one
func (f *LegacyFactory) ProvideConfig(ctx context.Context, spec, bucket string) ([]byte, error) {
	return nil, nil
}

// ProvideDesign returns no design documents; legacy files do not carry any
func (f *LegacyFactory) ProvideDesign(ctx context.Context, spec, bucket string) ([]byte, error) {
	return nil, nil
}

// ListPartitions returns every vbucket id found in the dataset, ascending
func (f *LegacyFactory) ListPartitions(ctx context.Context, spec string) ([]uint16, error) {
	return legacy.ListPartitions(ctx, filepath.Clean(spec), f.logger)
}

// NewSource creates a source reading the dataset at spec
func (f *LegacyFactory) NewSource(spec string, opts Options) (Source, error) {
	s, err := NewLegacySource(filepath.Clean(spec), opts, f.validator, f.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// LegacySource reads a legacy dataset one batch at a time. It is not safe for
// concurrent use: exactly one ProvideBatch call may be in flight.
type LegacySource struct {
	spec      string
	opts      Options
	validator *validation.FormatValidator
	filter    *filter.RecordFilter
	logger    *zap.Logger

	phase  Phase
	cursor *cursorState // non-nil only while scanning
	stats  ScanStats
}

// cursorState is everything needed to resume a scan on the next pull
type cursorState struct {
	dataset    *legacy.Dataset
	stateAlias string
	worklist   *legacy.Worklist
	item       legacy.WorkItem
	rows       *sql.Rows     // nil between work items
	pending    *model.Record // read from rows but did not fit the previous batch
}

// NewLegacySource creates a source. Nothing is opened until the first ProvideBatch.
func NewLegacySource(spec string, opts Options, validator *validation.FormatValidator, logger *zap.Logger) (*LegacySource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = validation.NewFormatValidator(validation.VersionPolicyAll, logger)
	}

	opts = opts.withDefaults()
	f, err := filter.New(opts.KeyPattern, opts.VBucketID)
	if err != nil {
		return nil, err
	}

	return &LegacySource{
		spec:      spec,
		opts:      opts,
		validator: validator,
		filter:    f,
		logger:    logger.With(zap.String("source", spec)),
		phase:     PhaseIdle,
	}, nil
}

// Phase returns the current lifecycle phase
func (s *LegacySource) Phase() Phase {
	return s.phase
}

// Stats returns the work done so far
func (s *LegacySource) Stats() ScanStats {
	return s.stats
}

// ProvideBatch returns the next batch. The batch ends when it is full or when
// the current partition table runs out of rows. Once every partition table is
// read it returns (nil, nil), on this and every later call. Any error
// exhausts the source.
//
// A partition cursor stays bound to the ctx of the call that opened it.
func (s *LegacySource) ProvideBatch(ctx context.Context) (batch *model.Batch, err error) {
	if s.phase == PhaseExhausted {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.finish()
			batch = nil
			err = errors.InternalError(fmt.Sprintf("legacy source panicked: %v", r), nil)
		}
	}()

	if s.phase == PhaseIdle {
		if err := s.start(ctx); err != nil {
			s.finish()
			s.logger.Error("Failed to open legacy source", zap.Error(err))
			return nil, err
		}
	}

	batch = model.NewBatch(s.opts.BatchMaxSize)
	if err := s.fill(ctx, batch); err != nil {
		s.finish()
		s.logger.Error("Legacy source scan failed", zap.Error(err))
		return nil, err
	}
	if s.phase == PhaseExhausted {
		return nil, nil
	}
	return batch, nil
}

// Close releases the connection and any open cursor. It is safe to call at any time.
func (s *LegacySource) Close() error {
	return s.finish()
}

func (s *LegacySource) start(ctx context.Context) error {
	if _, err := s.validator.Validate(ctx, s.spec); err != nil {
		return err
	}

	ds, err := legacy.OpenDataset(ctx, s.spec, s.logger)
	if err != nil {
		return err
	}

	stateAlias, err := ds.Catalog().StateAlias()
	if err != nil {
		ds.Close()
		return err
	}

	var only *uint16
	if id, ok := s.filter.VBucketID(); ok {
		only = &id
	}
	worklist := legacy.Plan(ds.Catalog(), only)

	s.cursor = &cursorState{
		dataset:    ds,
		stateAlias: stateAlias,
		worklist:   worklist,
	}
	s.phase = PhaseScanning

	s.logger.Info("Legacy source opened",
		zap.String("state_db", stateAlias),
		zap.Int("work_items", worklist.Len()),
		zap.Stringer("filter", s.filter))
	s.logger.Debug("Traversal planned", zap.Stringers("work_items", worklist.Remaining()))

	return nil
}

func (s *LegacySource) fill(ctx context.Context, batch *model.Batch) error {
	c := s.cursor

	for batch.Len() < s.opts.BatchMaxSize {
		if c.pending != nil {
			if !batch.Admits(len(c.pending.Value), s.opts.BatchMaxBytes) {
				return nil
			}
			s.admit(batch, *c.pending)
			c.pending = nil
			continue
		}

		if c.rows == nil {
			item, ok := c.worklist.Pop()
			if !ok {
				s.logger.Info("Legacy source exhausted",
					zap.Int("partitions", s.stats.Partitions),
					zap.Int64("records", s.stats.Records),
					zap.Int64("skipped", s.stats.Skipped),
					zap.Int64("bytes", s.stats.Bytes))
				return s.finish()
			}

			rows, err := c.dataset.QueryPartition(ctx, item, c.stateAlias)
			if err != nil {
				return errors.ScanFailed(item.Alias, item.Table, err)
			}
			c.item, c.rows = item, rows

			s.logger.Debug("Scanning partition table",
				zap.String("db", item.Alias),
				zap.String("table", item.Table))
		}

		if !c.rows.Next() {
			err := c.rows.Err()
			c.rows.Close()
			c.rows = nil
			if err != nil {
				return errors.ScanFailed(c.item.Alias, c.item.Table, err)
			}
			s.stats.Partitions++
			// End the batch here; the next pull opens the next work item.
			return nil
		}

		rec, err := scanRecord(c.rows)
		if err != nil {
			return errors.ScanFailed(c.item.Alias, c.item.Table, err)
		}
		if s.filter.Exclude(rec.Key, rec.VBucketID) {
			s.stats.Skipped++
			continue
		}
		if !batch.Admits(len(rec.Value), s.opts.BatchMaxBytes) {
			c.pending = &rec
			return nil
		}
		s.admit(batch, rec)
	}

	return nil
}

func (s *LegacySource) admit(batch *model.Batch, rec model.Record) {
	batch.Append(rec)
	s.stats.Records++
	s.stats.Bytes += int64(len(rec.Value))
}

// finish releases every resource and moves to PhaseExhausted
func (s *LegacySource) finish() error {
	s.phase = PhaseExhausted
	if s.cursor == nil {
		return nil
	}

	c := s.cursor
	s.cursor = nil
	if c.rows != nil {
		c.rows.Close()
	}
	return c.dataset.Close()
}

func scanRecord(rows *sql.Rows) (model.Record, error) {
	var (
		vbucketID int64
		key       []byte
		flags     int64
		expiry    int64
		value     []byte
	)
	if err := rows.Scan(&vbucketID, &key, &flags, &expiry, &value); err != nil {
		return model.Record{}, err
	}
	if vbucketID < 0 || vbucketID > math.MaxUint16 {
		return model.Record{}, fmt.Errorf("vbucket id %d out of range", vbucketID)
	}

	return model.Record{
		Command:   model.CommandTapMutation,
		VBucketID: uint16(vbucketID),
		Key:       string(key),
		Flags:     uint32(flags),
		Expiry:    uint32(expiry),
		CAS:       0,
		Value:     value,
	}, nil
}
