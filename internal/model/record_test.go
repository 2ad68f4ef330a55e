package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatch_AppendAccountsValueBytes(t *testing.T) {
	b := NewBatch(4)
	b.Append(Record{Key: "a", Value: []byte("xyz")})
	b.Append(Record{Key: "bbbbbbbb", Value: []byte("12")})

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 5, b.Bytes())
}

func TestBatch_Admits(t *testing.T) {
	tests := []struct {
		name     string
		existing []int
		valueLen int
		maxBytes int
		want     bool
	}{
		{"empty batch admits oversized value", nil, 5000, 100, true},
		{"fits exactly", []int{60}, 40, 100, true},
		{"overflow", []int{60}, 41, 100, false},
		{"zero length value at limit", []int{100}, 0, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBatch(len(tt.existing))
			for _, n := range tt.existing {
				b.Append(Record{Value: make([]byte, n)})
			}
			assert.Equal(t, tt.want, b.Admits(tt.valueLen, tt.maxBytes))
		})
	}
}

func TestBatch_NilIsEmpty(t *testing.T) {
	var b *Batch
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Bytes())
}

func TestCommandKind_String(t *testing.T) {
	assert.Equal(t, "tap_mutation", CommandTapMutation.String())
	assert.Equal(t, "unknown", CommandKind(0).String())
}
