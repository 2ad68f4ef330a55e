package sink

import (
	"context"
	"io"
	"strings"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/model"
	"go.uber.org/zap"
)

const (
	StdOutPrefix  = "stdout:"
	DigestPrefix  = "digest:"
	SegmentPrefix = "jsonl:"
)

// Sink consumes batches produced by a source. Consume may be called from
// several goroutines at once.
type Sink interface {
	Consume(ctx context.Context, batch *model.Batch) error
	Close() error
}

// Options configures the sink returned by Open
type Options struct {
	Out          io.Writer // stdout sink output
	SegmentSize  int64     // jsonl sink rotation size
	SyncWrites   bool      // jsonl sink fsync per batch
	MaxDiskUsage float64   // jsonl sink disk usage limit in percent, 0 disables
	Logger      *zap.Logger
}

// Open returns the sink named by spec
func Open(spec string, opts Options) (Sink, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	switch {
	case strings.HasPrefix(spec, StdOutPrefix):
		if opts.Out == nil {
			return nil, errors.InvalidArgument("stdout sink needs an output", nil)
		}
		return NewStdOutSink(opts.Out), nil
	case strings.HasPrefix(spec, DigestPrefix):
		return NewDigestSink(opts.Logger), nil
	case strings.HasPrefix(spec, SegmentPrefix):
		dir := strings.TrimPrefix(spec, SegmentPrefix)
		if dir == "" {
			return nil, errors.InvalidArgument("jsonl sink needs a directory, e.g. jsonl:/tmp/out", nil)
		}
		s, err := NewSegmentSink(&SegmentConfig{
			Dir:          dir,
			SegmentSize:  opts.SegmentSize,
			SyncWrites:   opts.SyncWrites,
			MaxDiskUsage: opts.MaxDiskUsage,
		}, opts.Logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.UnknownSink(spec)
	}
}

// SegmentDir returns the output directory of a jsonl spec, or "" for other sinks
func SegmentDir(spec string) string {
	if !strings.HasPrefix(spec, SegmentPrefix) {
		return ""
	}
	return strings.TrimPrefix(spec, SegmentPrefix)
}
