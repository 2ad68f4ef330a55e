package filter

import (
	"fmt"
	"regexp"

	"github.com/devrev/pairdb/transfer/internal/errors"
)

// RecordFilter decides whether a record is excluded from a transfer.
// A nil *RecordFilter excludes nothing.
type RecordFilter struct {
	key       *regexp.Regexp
	keySource string
	vbucketID *uint16
}

// New builds a filter from an optional key pattern and an optional vbucket id.
// The key pattern must match at the start of the key.
func New(keyPattern string, vbucketID *int) (*RecordFilter, error) {
	f := &RecordFilter{keySource: keyPattern}

	if keyPattern != "" {
		re, err := regexp.Compile("^(?:" + keyPattern + ")")
		if err != nil {
			return nil, errors.InvalidArgument(fmt.Sprintf("invalid key pattern %q", keyPattern), err)
		}
		f.key = re
	}

	if vbucketID != nil {
		if *vbucketID < 0 || *vbucketID > 0xFFFF {
			return nil, errors.InvalidArgument(fmt.Sprintf("vbucket id %d out of range", *vbucketID), nil)
		}
		id := uint16(*vbucketID)
		f.vbucketID = &id
	}

	return f, nil
}

// Exclude reports whether the record with the given key and vbucket id must be skipped
func (f *RecordFilter) Exclude(key string, vbucketID uint16) bool {
	if f == nil {
		return false
	}
	if f.key != nil && !f.key.MatchString(key) {
		return true
	}
	if f.vbucketID != nil && *f.vbucketID != vbucketID {
		return true
	}
	return false
}

// VBucketID returns the configured vbucket restriction, if any
func (f *RecordFilter) VBucketID() (uint16, bool) {
	if f == nil || f.vbucketID == nil {
		return 0, false
	}
	return *f.vbucketID, true
}

// String describes the filter for logs
func (f *RecordFilter) String() string {
	if f == nil {
		return "none"
	}
	id := "any"
	if f.vbucketID != nil {
		id = fmt.Sprintf("%d", *f.vbucketID)
	}
	return fmt.Sprintf("key=%q vbucket=%s", f.keySource, id)
}
