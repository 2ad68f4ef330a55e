package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
source:
  spec: /backups/default
sink:
  spec: "jsonl:/tmp/out"
  segment_size: 1048576
batch:
  max_size: 500
filter:
  id: 12
  key: "user:"
transfer:
  workers: 2
  dry_run: true
  version_policy: max
  shutdown_timeout: 3s
metrics:
  enabled: true
logging:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/backups/default", cfg.Source.Spec)
	assert.Equal(t, "jsonl:/tmp/out", cfg.Sink.Spec)
	assert.Equal(t, int64(1048576), cfg.Sink.SegmentSize)
	assert.Equal(t, 500, cfg.Batch.MaxSize)
	assert.Equal(t, 400000, cfg.Batch.MaxBytes)
	require.NotNil(t, cfg.Filter.ID)
	assert.Equal(t, 12, *cfg.Filter.ID)
	assert.Equal(t, "user:", cfg.Filter.Key)
	assert.Equal(t, 2, cfg.Transfer.Workers)
	assert.True(t, cfg.Transfer.DryRun)
	assert.Equal(t, "max", cfg.Transfer.VersionPolicy)
	assert.Equal(t, 3*time.Second, cfg.Transfer.ShutdownTimeout)
	assert.Equal(t, 50, cfg.Transfer.ReportDot)
	assert.Equal(t, 2000, cfg.Transfer.ReportFull)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9095, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"bad yaml", "batch: [", "failed to parse"},
		{"negative batch", "batch:\n  max_size: -1", "batch.max_size"},
		{"filter id range", "filter:\n  id: 70000", "filter.id"},
		{"unknown policy", "transfer:\n  version_policy: newest", "version_policy"},
		{"bad format", "logging:\n  format: xml", "logging.format"},
		{"disk usage range", "sink:\n  max_disk_usage_percent: 120", "max_disk_usage_percent"},
		{"same source and sink", "source:\n  spec: a\nsink:\n  spec: a", "same"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Batch.MaxSize)
	assert.Equal(t, 400000, cfg.Batch.MaxBytes)
	assert.Equal(t, 1, cfg.Transfer.Workers)
	assert.Equal(t, "all", cfg.Transfer.VersionPolicy)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Nil(t, cfg.Filter.ID)
}

func TestApplyExtra(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr string
		check   func(t *testing.T, c *Config)
	}{
		{
			name:  "empty",
			extra: "",
			check: func(t *testing.T, c *Config) { assert.Equal(t, 1000, c.Batch.MaxSize) },
		},
		{
			name:  "several keys",
			extra: "batch_max_size=10,batch_max_bytes=2048, report_dot=1,report_full=5",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 10, c.Batch.MaxSize)
				assert.Equal(t, 2048, c.Batch.MaxBytes)
				assert.Equal(t, 1, c.Transfer.ReportDot)
				assert.Equal(t, 5, c.Transfer.ReportFull)
			},
		},
		{
			name:  "trailing comma",
			extra: "batch_max_size=7,",
			check: func(t *testing.T, c *Config) { assert.Equal(t, 7, c.Batch.MaxSize) },
		},
		{name: "unknown key", extra: "recv_min_bytes=4096", wantErr: "unknown extra option: recv_min_bytes"},
		{name: "not a number", extra: "batch_max_size=lots", wantErr: "needs an integer"},
		{name: "missing value", extra: "batch_max_size", wantErr: "needs an integer"},
		{name: "invalid value", extra: "batch_max_size=0", wantErr: "batch.max_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyExtra(tt.extra)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, errors.IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestExtraHelp(t *testing.T) {
	cfg := Default()
	help := cfg.ExtraHelp()

	assert.Contains(t, help, "batch_max_bytes=400000 (max # of item value bytes per batch)")
	assert.Contains(t, help, "report_full=2000")
	assert.Less(t, strings.Index(help, "batch_max_bytes"), strings.Index(help, "batch_max_size"))
}

