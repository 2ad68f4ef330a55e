package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ErrCodeOK},
		{"plain error", io.EOF, ErrCodeInternal},
		{"transfer error", NotAFile("/tmp/x"), ErrCodeNotAFile},
		{"wrapped transfer error", fmt.Errorf("outer: %w", NoPartitionData("/tmp/x")), ErrCodeNoPartitionData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetCode(tt.err))
		})
	}
}

func TestIsConfiguration(t *testing.T) {
	assert.True(t, IsConfiguration(VersionTooOld("/tmp/x", 2, map[string]int{"/tmp/x": 1})))
	assert.True(t, IsConfiguration(NoUniqueStateTable("vbucket_states", 0)))
	assert.False(t, IsConfiguration(ScanFailed("db0", "kv_1", io.ErrUnexpectedEOF)))
	assert.False(t, IsConfiguration(io.EOF))
}

func TestTransferError_Unwrap(t *testing.T) {
	err := ScanFailed("db1", "kv_7", io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "scan failed on db1/kv_7: unexpected EOF", err.Error())
	assert.Equal(t, "db1", err.Details["alias"])
}

func TestVersionTooOld_Message(t *testing.T) {
	err := VersionTooOld("/backups/default", 2, map[string]int{"/backups/default": 1})

	assert.Contains(t, err.Error(), "/backups/default")
	assert.Contains(t, err.Error(), "version 2")
	assert.Equal(t, 2, err.Details["min_version"])
}
