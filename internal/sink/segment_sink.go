package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/model"
	"github.com/devrev/pairdb/transfer/internal/storage/diskmanager"
	"go.uber.org/zap"
)

const defaultSegmentSize = 64 * 1024 * 1024

// SegmentConfig holds segment sink configuration
type SegmentConfig struct {
	Dir         string
	SegmentSize int64 // Rotate once a segment reaches this many bytes
	SyncWrites  bool  // fsync after every batch

	// MaxDiskUsage refuses batches once the filesystem holding Dir is at
	// least this full, in percent. Zero disables the check.
	MaxDiskUsage float64
}

// segmentLine is one record as written to a segment
type segmentLine struct {
	VBucketID uint16 `json:"vbucket"`
	Key       string `json:"key"`
	Flags     uint32 `json:"flags"`
	Expiry    uint32 `json:"exptime"`
	Value     []byte `json:"value"`
}

// SegmentSink appends records as JSON lines to size-rotated segment files
// named records-NNNNNN.jsonl under Dir.
type SegmentSink struct {
	config   *SegmentConfig
	logger   *zap.Logger
	disk     *diskmanager.DiskManager // nil when MaxDiskUsage is zero
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	written  int64
	segment  int
	segments []string
	closed   bool
}

// NewSegmentSink creates the directory and opens the first segment
func NewSegmentSink(cfg *SegmentConfig, logger *zap.Logger) (*SegmentSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = defaultSegmentSize
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.SinkFailed(fmt.Sprintf("failed to create segment directory %s", cfg.Dir), err)
	}

	s := &SegmentSink{
		config: cfg,
		logger: logger,
	}
	if cfg.MaxDiskUsage > 0 {
		dm, err := diskmanager.NewDiskManager(diskmanager.DiskManagerConfig{
			Dir:             cfg.Dir,
			MaxUsagePercent: cfg.MaxDiskUsage,
		}, logger)
		if err != nil {
			return nil, errors.InvalidArgument("invalid disk usage limit for segment sink", err)
		}
		s.disk = dm
	}
	if err := s.openNewSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// Consume appends every record of batch to the current segment
func (s *SegmentSink) Consume(ctx context.Context, batch *model.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.SinkFailed("segment sink is closed", nil)
	}
	if s.disk != nil {
		if err := s.disk.CheckBeforeWrite(uint64(batch.Bytes())); err != nil {
			return errors.SinkFailed("segment sink refused batch", err)
		}
	}

	for i := range batch.Records {
		rec := &batch.Records[i]
		data, err := json.Marshal(segmentLine{
			VBucketID: rec.VBucketID,
			Key:       rec.Key,
			Flags:     rec.Flags,
			Expiry:    rec.Expiry,
			Value:     rec.Value,
		})
		if err != nil {
			return errors.SinkFailed("failed to marshal record", err)
		}
		data = append(data, '\n')

		if s.written > 0 && s.written+int64(len(data)) > s.config.SegmentSize {
			if err := s.openNewSegment(); err != nil {
				return err
			}
		}

		n, err := s.writer.Write(data)
		s.written += int64(n)
		if err != nil {
			return errors.SinkFailed("failed to write segment", err)
		}
	}

	if err := s.writer.Flush(); err != nil {
		return errors.SinkFailed("failed to flush segment", err)
	}
	if s.config.SyncWrites {
		if err := s.file.Sync(); err != nil {
			return errors.SinkFailed("failed to sync segment", err)
		}
	}
	return nil
}

// Segments returns the paths of every segment opened so far
func (s *SegmentSink) Segments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.segments...)
}

// openNewSegment closes the current segment and starts the next one
func (s *SegmentSink) openNewSegment() error {
	if err := s.closeSegment(); err != nil {
		return err
	}

	path := filepath.Join(s.config.Dir, fmt.Sprintf("records-%06d.jsonl", s.segment))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.SinkFailed(fmt.Sprintf("failed to open segment %s", path), err)
	}

	s.file = file
	s.writer = bufio.NewWriter(file)
	s.written = 0
	s.segment++
	s.segments = append(s.segments, path)

	s.logger.Debug("Opened new segment", zap.String("path", path))
	return nil
}

func (s *SegmentSink) closeSegment() error {
	if s.file == nil {
		return nil
	}
	file := s.file
	s.file = nil

	if err := s.writer.Flush(); err != nil {
		file.Close()
		return errors.SinkFailed("failed to flush segment", err)
	}
	if err := file.Close(); err != nil {
		return errors.SinkFailed("failed to close segment", err)
	}
	return nil
}

// Close flushes and closes the current segment
func (s *SegmentSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeSegment()
}
