package sink

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/devrev/pairdb/transfer/internal/model"
	"github.com/devrev/pairdb/transfer/internal/util"
	"go.uber.org/zap"
)

// DigestSummary is what a DigestSink saw
type DigestSummary struct {
	Batches  uint64 `json:"batches"`
	Records  uint64 `json:"records"`
	Bytes    uint64 `json:"bytes"`
	Checksum uint32 `json:"checksum"`
}

// String formats the summary the way it is logged
func (s DigestSummary) String() string {
	return fmt.Sprintf("batches=%d records=%d bytes=%d checksum=%08x", s.Batches, s.Records, s.Bytes, s.Checksum)
}

// DigestSink discards records but keeps an order-sensitive checksum over
// them, so two runs over the same dataset can be compared.
type DigestSink struct {
	mu      sync.Mutex
	digest  util.Digest
	summary DigestSummary
	logger  *zap.Logger
}

// NewDigestSink creates a digest sink
func NewDigestSink(logger *zap.Logger) *DigestSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DigestSink{logger: logger}
}

// Consume folds every record of batch into the digest
func (s *DigestSink) Consume(ctx context.Context, batch *model.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var header [11]byte
	for i := range batch.Records {
		rec := &batch.Records[i]
		header[0] = byte(rec.Command)
		binary.BigEndian.PutUint16(header[1:3], rec.VBucketID)
		binary.BigEndian.PutUint32(header[3:7], rec.Flags)
		binary.BigEndian.PutUint32(header[7:11], rec.Expiry)
		s.digest.Write(header[:], []byte(rec.Key), rec.Value)
		s.summary.Records++
		s.summary.Bytes += uint64(len(rec.Value))
	}
	s.summary.Batches++
	s.summary.Checksum = s.digest.Sum32()

	return nil
}

// Summary returns the totals so far
func (s *DigestSink) Summary() DigestSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Close logs the final summary
func (s *DigestSink) Close() error {
	summary := s.Summary()
	s.logger.Info("Digest sink closed",
		zap.Uint64("batches", summary.Batches),
		zap.Uint64("records", summary.Records),
		zap.Uint64("bytes", summary.Bytes),
		zap.String("checksum", fmt.Sprintf("%08x", summary.Checksum)))
	return nil
}
