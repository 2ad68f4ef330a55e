package service

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/metrics"
	"github.com/devrev/pairdb/transfer/internal/model"
	"github.com/devrev/pairdb/transfer/internal/sink"
	"github.com/devrev/pairdb/transfer/internal/source"
	"github.com/devrev/pairdb/transfer/internal/storage/legacy/legacytest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type partitions = map[uint16][]legacytest.Row

func writeBackup(t *testing.T) string {
	t.Helper()
	return legacytest.WriteDataset(t, t.TempDir(), "default",
		legacytest.File{Version: 2, States: legacytest.Active(1, 2, 3)},
		legacytest.File{Suffix: "-0.mb", Version: 2, Partitions: partitions{
			1: legacytest.Rows(1, "a", 7, 10),
			2: legacytest.Rows(2, "b", 5, 10),
		}},
		legacytest.File{Suffix: "-1.mb", Version: 2, Partitions: partitions{
			3: legacytest.Rows(3, "c", 9, 10),
		}},
	)
}

func newPump(cfg *PumpConfig, factory source.Factory, snk sink.Sink) (*PumpService, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry(), "test-run")
	return NewPumpService(cfg, factory, snk, m, "test-run", zap.NewNop()), m
}

func TestPumpService_Sequential(t *testing.T) {
	base := writeBackup(t)
	digest := sink.NewDigestSink(nil)
	pump, m := newPump(&PumpConfig{Workers: 1, Source: source.Options{BatchMaxSize: 4}},
		source.NewLegacyFactory(nil, nil), digest)

	summary, err := pump.Run(context.Background(), base)
	require.NoError(t, err)

	assert.Equal(t, "test-run", summary.RunID)
	assert.False(t, summary.DryRun)
	assert.Equal(t, 1, summary.Partitions)
	assert.Equal(t, int64(21), summary.Records)
	assert.Equal(t, int64(210), summary.Bytes)
	// 9 -> 4,4,1; 5 -> 4,1; 7 -> 4,3
	assert.Equal(t, int64(7), summary.Batches)
	require.NotNil(t, summary.Descriptor)
	assert.Equal(t, "default", summary.Descriptor.Buckets[0].Name)

	assert.Equal(t, uint64(21), digest.Summary().Records)
	assert.Equal(t, 21.0, testutil.ToFloat64(m.RecordsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PartitionsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PartitionsInFlight))

	progress := pump.Progress()
	assert.Equal(t, StateDone, progress.State)
	assert.Equal(t, base, progress.Source)
	assert.Equal(t, 1, progress.PartitionsTotal)
}

func TestPumpService_SequentialIsReproducible(t *testing.T) {
	base := writeBackup(t)

	run := func() uint32 {
		digest := sink.NewDigestSink(nil)
		pump, _ := newPump(&PumpConfig{Workers: 1}, source.NewLegacyFactory(nil, nil), digest)
		_, err := pump.Run(context.Background(), base)
		require.NoError(t, err)
		return digest.Summary().Checksum
	}

	assert.Equal(t, run(), run())
}

func TestPumpService_ParallelPerPartition(t *testing.T) {
	base := writeBackup(t)
	digest := sink.NewDigestSink(nil)
	pump, m := newPump(&PumpConfig{Workers: 3}, source.NewLegacyFactory(nil, nil), digest)

	summary, err := pump.Run(context.Background(), base)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Partitions)
	assert.Equal(t, int64(21), summary.Records)
	assert.Equal(t, uint64(21), digest.Summary().Records)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PartitionsTotal))
	assert.Equal(t, 3, pump.Progress().PartitionsTotal)
}

func TestPumpService_ZeroPaddedTableNotReadTwice(t *testing.T) {
	base := legacytest.WriteDataset(t, t.TempDir(), "default",
		legacytest.File{Version: 2, States: legacytest.Active(1, 2)},
		legacytest.File{Suffix: "-0.mb", Version: 2, Partitions: partitions{
			1: legacytest.Rows(1, "a", 3, 1),
			2: legacytest.Rows(2, "b", 2, 1),
		}},
	)
	db, err := sql.Open("sqlite", base+"-0.mb")
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE kv_01 AS SELECT * FROM kv_1 LIMIT 1`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	for _, workers := range []int{1, 2, 4} {
		pump, _ := newPump(&PumpConfig{Workers: workers}, source.NewLegacyFactory(nil, nil), sink.NewDigestSink(nil))

		summary, err := pump.Run(context.Background(), base)
		require.NoError(t, err)
		assert.Equal(t, int64(5), summary.Records, "workers=%d", workers)
	}
}

func TestPumpService_FilterKeepsSinglePlan(t *testing.T) {
	base := writeBackup(t)
	id := 2
	digest := sink.NewDigestSink(nil)
	pump, _ := newPump(&PumpConfig{Workers: 4, Source: source.Options{VBucketID: &id, KeyPattern: "b[0-2]"}},
		source.NewLegacyFactory(nil, nil), digest)

	summary, err := pump.Run(context.Background(), base)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Partitions)
	assert.Equal(t, int64(3), summary.Records)
	assert.Equal(t, int64(2), summary.Skipped)
}

func TestPumpService_DryRun(t *testing.T) {
	base := writeBackup(t)
	digest := sink.NewDigestSink(nil)
	pump, _ := newPump(&PumpConfig{DryRun: true}, source.NewLegacyFactory(nil, nil), digest)

	summary, err := pump.Run(context.Background(), base)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Zero(t, summary.Records)
	assert.Zero(t, digest.Summary().Batches)
	assert.Equal(t, StateDryRun, pump.Progress().State)
}

func TestPumpService_CheckFailsFast(t *testing.T) {
	base := legacytest.WriteDataset(t, t.TempDir(), "default",
		legacytest.File{Version: 2, States: legacytest.Active(1)},
		legacytest.File{Suffix: "-0.mb", Version: 1, Partitions: partitions{1: legacytest.Rows(1, "a", 3, 1)}},
	)
	digest := sink.NewDigestSink(nil)
	pump, _ := newPump(&PumpConfig{}, source.NewLegacyFactory(nil, nil), digest)

	summary, err := pump.Run(context.Background(), base)
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Equal(t, errors.ErrCodeVersionTooOld, errors.GetCode(err))
	assert.True(t, errors.IsConfiguration(err))
	assert.Zero(t, digest.Summary().Records)
	assert.Equal(t, StateFailed, pump.Progress().State)
}

// fakeFactory serves a scripted source
type fakeFactory struct {
	results  []fakeResult
	checkErr error
}

type fakeResult struct {
	batch *model.Batch
	err   error
}

func (f *fakeFactory) Name() string               { return "fake" }
func (f *fakeFactory) CanHandle(spec string) bool { return true }
func (f *fakeFactory) Check(ctx context.Context, spec string) (*model.SourceDescriptor, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return &model.SourceDescriptor{Spec: spec, Buckets: []model.BucketDescriptor{{Name: "fake"}}}, nil
}
func (f *fakeFactory) ProvideConfig(ctx context.Context, spec, bucket string) ([]byte, error) {
	return []byte("{}"), nil
}
func (f *fakeFactory) ProvideDesign(ctx context.Context, spec, bucket string) ([]byte, error) {
	return nil, stderrors.New("no design")
}
func (f *fakeFactory) NewSource(spec string, opts source.Options) (source.Source, error) {
	return &fakeSource{results: f.results}, nil
}

type fakeSource struct {
	results []fakeResult
	closed  bool
}

func (s *fakeSource) ProvideBatch(ctx context.Context) (*model.Batch, error) {
	if len(s.results) == 0 {
		return nil, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.batch, r.err
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func batchOf(keys ...string) *model.Batch {
	b := model.NewBatch(len(keys))
	for _, k := range keys {
		b.Append(model.Record{Command: model.CommandTapMutation, Key: k, Value: []byte("v")})
	}
	return b
}

// recordingSink keeps every consumed batch and can fail on demand
type recordingSink struct {
	mu      sync.Mutex
	batches []*model.Batch
	failAt  int
}

func (s *recordingSink) Consume(ctx context.Context, batch *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.batches)+1 == s.failAt {
		return stderrors.New("connection reset")
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestPumpService_SkipsEmptyBatches(t *testing.T) {
	factory := &fakeFactory{results: []fakeResult{
		{batch: batchOf("a", "b")},
		{batch: model.NewBatch(0)},
		{batch: batchOf("c")},
	}}
	snk := &recordingSink{}
	pump, m := newPump(&PumpConfig{}, factory, snk)

	summary, err := pump.Run(context.Background(), "fake://")
	require.NoError(t, err)

	assert.Len(t, snk.batches, 2)
	assert.Equal(t, int64(3), summary.Records)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmptyBatchesTotal))
}

func TestPumpService_SourceError(t *testing.T) {
	scanErr := errors.ScanFailed("db1", "kv_3", stderrors.New("disk I/O error"))
	factory := &fakeFactory{results: []fakeResult{
		{batch: batchOf("a")},
		{err: scanErr},
		{batch: batchOf("never")},
	}}
	snk := &recordingSink{}
	pump, m := newPump(&PumpConfig{}, factory, snk)

	summary, err := pump.Run(context.Background(), "fake://")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeScanFailed, errors.GetCode(err))
	assert.False(t, errors.IsConfiguration(err))
	require.NotNil(t, summary)
	assert.Equal(t, int64(1), summary.Records)
	assert.Len(t, snk.batches, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(metrics.StageSource)))
	assert.Equal(t, StateFailed, pump.Progress().State)
}

func TestPumpService_SinkError(t *testing.T) {
	factory := &fakeFactory{results: []fakeResult{
		{batch: batchOf("a")},
		{batch: batchOf("b")},
	}}
	snk := &recordingSink{failAt: 2}
	pump, m := newPump(&PumpConfig{}, factory, snk)

	_, err := pump.Run(context.Background(), "fake://")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSinkFailed, errors.GetCode(err))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(metrics.StageSink)))
}

func TestPumpService_CanceledContext(t *testing.T) {
	factory := &fakeFactory{results: []fakeResult{{batch: batchOf("a")}}}
	pump, _ := newPump(&PumpConfig{}, factory, &recordingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pump.Run(ctx, "fake://")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPumpService_ProgressReports(t *testing.T) {
	results := make([]fakeResult, 0, 6)
	for i := 0; i < 6; i++ {
		results = append(results, fakeResult{batch: batchOf("k")})
	}
	core, logs := observer.New(zapcore.DebugLevel)
	pump := NewPumpService(&PumpConfig{ReportDot: 2, ReportFull: 3}, &fakeFactory{results: results},
		&recordingSink{}, nil, "", zap.New(core))

	_, err := pump.Run(context.Background(), "fake://")
	require.NoError(t, err)

	progress := logs.FilterMessage("Transfer progress").All()
	// batches 2 and 4 at debug; 3 and 6 at info
	require.Len(t, progress, 4)
	var info, debug int
	for _, entry := range progress {
		switch entry.Level {
		case zapcore.InfoLevel:
			info++
		case zapcore.DebugLevel:
			debug++
		}
	}
	assert.Equal(t, 2, info)
	assert.Equal(t, 2, debug)

	assert.NotEmpty(t, pump.RunID())
	assert.Equal(t, 1, logs.FilterMessage("Transfer done").Len())
	assert.Equal(t, pump.RunID(), logs.FilterMessage("Transfer done").All()[0].ContextMap()["run_id"])
}

func TestPumpService_CheckErrorFromFactory(t *testing.T) {
	factory := &fakeFactory{checkErr: errors.NotAFile("/tmp")}
	pump, _ := newPump(&PumpConfig{}, factory, &recordingSink{})

	_, err := pump.Run(context.Background(), "/tmp")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotAFile, errors.GetCode(err))
}

func TestProgress_JSON(t *testing.T) {
	pump, _ := newPump(&PumpConfig{}, &fakeFactory{}, &recordingSink{})

	data, err := json.Marshal(pump.Progress())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "test-run", decoded["run_id"])
	assert.Equal(t, StateIdle, decoded["state"])
}
