package filter

import (
	"testing"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestRecordFilter_Exclude(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		vbucketID *int
		key       string
		vbucket   uint16
		want      bool
	}{
		{"no selectors", "", nil, "anything", 9, false},
		{"key matches", "^user_", nil, "user_1", 0, false},
		{"key does not match", "^user_", nil, "order_42", 0, true},
		{"pattern anchored at start", "user_", nil, "order_user_1", 0, true},
		{"pattern may match a prefix", "user", nil, "user_1", 0, false},
		{"vbucket matches", "", intPtr(2), "k", 2, false},
		{"vbucket differs regardless of key", "", intPtr(2), "user_1", 5, true},
		{"both selectors, key fails", "^user_", intPtr(2), "order_1", 2, true},
		{"both selectors, vbucket fails", "^user_", intPtr(2), "user_1", 3, true},
		{"both selectors pass", "^user_", intPtr(2), "user_1", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.pattern, tt.vbucketID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Exclude(tt.key, tt.vbucket))
		})
	}
}

func TestRecordFilter_NilExcludesNothing(t *testing.T) {
	var f *RecordFilter
	assert.False(t, f.Exclude("k", 1))
	assert.Equal(t, "none", f.String())
}

func TestNew_InvalidSelectors(t *testing.T) {
	_, err := New("(", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))

	_, err = New("", intPtr(70000))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
}

func TestRecordFilter_VBucketID(t *testing.T) {
	f, err := New("", intPtr(7))
	require.NoError(t, err)

	id, ok := f.VBucketID()
	assert.True(t, ok)
	assert.Equal(t, uint16(7), id)

	f, err = New("x", nil)
	require.NoError(t, err)
	_, ok = f.VBucketID()
	assert.False(t, ok)
}
