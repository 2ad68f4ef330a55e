package validation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/storage/legacy/legacytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFormatValidator_Validate(t *testing.T) {
	tests := []struct {
		name     string
		policy   VersionPolicy
		versions []int // master first, then shard files
		wantErr  bool
	}{
		{"all current", VersionPolicyAll, []int{2, 2, 2}, false},
		{"newer versions", VersionPolicyAll, []int{3, 2}, false},
		{"single stale file rejects dataset", VersionPolicyAll, []int{2, 1, 2}, true},
		{"all stale", VersionPolicyAll, []int{1, 0}, true},
		{"max policy accepts stamped master", VersionPolicyMax, []int{2, 0, 0}, false},
		{"max policy rejects when max is stale", VersionPolicyMax, []int{1, 1}, true},
		{"mixed stamps rejected under all", VersionPolicyAll, []int{2, 1}, true},
		{"mixed stamps accepted under max", VersionPolicyMax, []int{2, 1}, false},
		{"default policy is all", "", []int{2, 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := make([]legacytest.File, 0, len(tt.versions))
			for i, version := range tt.versions {
				suffix := ""
				if i > 0 {
					suffix = "-" + string(rune('0'+i-1)) + ".mb"
				}
				files = append(files, legacytest.File{Suffix: suffix, Version: version})
			}
			base := legacytest.WriteDataset(t, t.TempDir(), "default", files...)

			v := NewFormatValidator(tt.policy, zap.NewNop())
			versions, err := v.Validate(context.Background(), base)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeVersionTooOld, errors.GetCode(err))
				assert.Contains(t, err.Error(), base)
				assert.Contains(t, err.Error(), "version 2")
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, versions, len(tt.versions))
			assert.Equal(t, tt.versions[0], versions[base])
		})
	}
}

func TestFormatValidator_NoFiles(t *testing.T) {
	v := NewFormatValidator(VersionPolicyAll, nil)

	_, err := v.Validate(context.Background(), filepath.Join(t.TempDir(), "nothing"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoDataFiles, errors.GetCode(err))
}

func TestFormatValidator_CustomMinVersion(t *testing.T) {
	base := legacytest.WriteDataset(t, t.TempDir(), "default", legacytest.File{Version: 2})

	v := NewFormatValidatorWithMinVersion(3, "", nil)
	assert.Equal(t, 3, v.MinVersion())

	_, err := v.Validate(context.Background(), base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 3")
}

func TestParseVersionPolicy(t *testing.T) {
	p, err := ParseVersionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, VersionPolicyAll, p)

	p, err = ParseVersionPolicy("max")
	require.NoError(t, err)
	assert.Equal(t, VersionPolicyMax, p)

	_, err = ParseVersionPolicy("newest")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
}
