package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/model"
)

// StdOutSink writes records in memcached text protocol:
//
//	set <key> <flags> <exptime> <bytes>\r\n<value>\r\n
type StdOutSink struct {
	mu  sync.Mutex
	out *bufio.Writer
}

// NewStdOutSink creates a sink writing to out
func NewStdOutSink(out io.Writer) *StdOutSink {
	return &StdOutSink{out: bufio.NewWriter(out)}
}

// Consume writes every record of batch and flushes
func (s *StdOutSink) Consume(ctx context.Context, batch *model.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range batch.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := &batch.Records[i]
		if _, err := fmt.Fprintf(s.out, "set %s %d %d %d\r\n", rec.Key, rec.Flags, rec.Expiry, len(rec.Value)); err != nil {
			return errors.SinkFailed("failed to write record header", err)
		}
		if _, err := s.out.Write(rec.Value); err != nil {
			return errors.SinkFailed("failed to write record value", err)
		}
		if _, err := s.out.WriteString("\r\n"); err != nil {
			return errors.SinkFailed("failed to write record value", err)
		}
	}

	if err := s.out.Flush(); err != nil {
		return errors.SinkFailed("failed to flush output", err)
	}
	return nil
}

// Close flushes anything left in the buffer
func (s *StdOutSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Flush()
}
