package source

import (
	"context"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/model"
)

const (
	// DefaultBatchMaxSize is the default maximum number of records per batch
	DefaultBatchMaxSize = 1000
	// DefaultBatchMaxBytes is the default maximum number of value bytes per batch
	DefaultBatchMaxBytes = 400000
)

// Options tunes a source instance
type Options struct {
	BatchMaxSize  int
	BatchMaxBytes int
	VBucketID     *int   // Only read this vbucket
	KeyPattern    string // Only read keys matching this regexp
}

func (o Options) withDefaults() Options {
	if o.BatchMaxSize <= 0 {
		o.BatchMaxSize = DefaultBatchMaxSize
	}
	if o.BatchMaxBytes <= 0 {
		o.BatchMaxBytes = DefaultBatchMaxBytes
	}
	return o
}

// Source produces batches of records. ProvideBatch is pull-based: it returns
// a nil batch and a nil error once the source is exhausted. A non-nil batch
// may be empty, in which case the caller should simply pull again.
type Source interface {
	ProvideBatch(ctx context.Context) (*model.Batch, error)
	Close() error
}

// Factory recognises and opens one kind of source spec
type Factory interface {
	Name() string
	CanHandle(spec string) bool
	Check(ctx context.Context, spec string) (*model.SourceDescriptor, error)
	ProvideConfig(ctx context.Context, spec, bucket string) ([]byte, error)
	ProvideDesign(ctx context.Context, spec, bucket string) ([]byte, error)
	NewSource(spec string, opts Options) (Source, error)
}

// PartitionLister is implemented by factories that can enumerate the vbuckets
// of a spec, which lets callers run one source per vbucket.
type PartitionLister interface {
	ListPartitions(ctx context.Context, spec string) ([]uint16, error)
}

// FindFactory returns the first factory that can handle spec
func FindFactory(spec string, factories ...Factory) (Factory, error) {
	for _, f := range factories {
		if f.CanHandle(spec) {
			return f, nil
		}
	}
	return nil, errors.UnknownSource(spec)
}
