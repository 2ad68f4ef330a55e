// Package legacytest writes legacy backup datasets for tests.
package legacytest

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// Row is one item of a partition table
type Row struct {
	VBucketID uint16
	Key       string
	Flags     uint32
	Expiry    uint32
	Value     []byte
}

// File describes one db file of a dataset
type File struct {
	// Suffix is appended to the dataset base path, "" for the master file
	Suffix  string
	Version int
	// States creates the vbucket_states table when non-nil
	States map[uint16]string
	// Partitions creates one kv_<id> table per entry
	Partitions map[uint16][]Row
	// Tables creates extra empty tables
	Tables []string
}

const stateTableDDL = `CREATE TABLE vbucket_states (
    vbid integer primary key on conflict replace,
    vb_version integer,
    state varchar(16),
    last_change datetime)`

const partitionTableDDL = `CREATE TABLE kv_%d (
    vbucket integer,
    vb_version integer,
    k varchar(250),
    flags integer,
    exptime integer,
    cas integer,
    v text)`

// WriteDataset writes every file under dir and returns the dataset base path
func WriteDataset(t testing.TB, dir, base string, files ...File) string {
	t.Helper()

	basePath := filepath.Join(dir, base)
	for _, f := range files {
		WriteFile(t, basePath+f.Suffix, f)
	}
	return basePath
}

// WriteFile writes a single db file at path
func WriteFile(t testing.TB, path string, f File) {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	exec := func(query string, args ...any) {
		t.Helper()
		_, err := db.Exec(query, args...)
		require.NoError(t, err, query)
	}

	exec(fmt.Sprintf("PRAGMA user_version = %d", f.Version))

	if f.States != nil {
		exec(stateTableDDL)
		for vbid, state := range f.States {
			exec(`INSERT INTO vbucket_states (vbid, vb_version, state, last_change) VALUES (?, 0, ?, 0)`,
				int(vbid), state)
		}
	}

	ids := make([]int, 0, len(f.Partitions))
	for id := range f.Partitions {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		exec(fmt.Sprintf(partitionTableDDL, id))
		for _, r := range f.Partitions[uint16(id)] {
			exec(fmt.Sprintf(`INSERT INTO kv_%d (vbucket, vb_version, k, flags, exptime, cas, v)
				VALUES (?, 0, ?, ?, ?, 0, ?)`, id),
				int(r.VBucketID), r.Key, int64(r.Flags), int64(r.Expiry), r.Value)
		}
	}

	for _, table := range f.Tables {
		exec(fmt.Sprintf(`CREATE TABLE %q (id integer)`, table))
	}
}

// Active returns a state map marking every id active
func Active(ids ...uint16) map[uint16]string {
	states := make(map[uint16]string, len(ids))
	for _, id := range ids {
		states[id] = "active"
	}
	return states
}

// Rows returns n rows for vbucketID with keys prefix0..prefixN-1 and valueLen-byte values
func Rows(vbucketID uint16, prefix string, n, valueLen int) []Row {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		value := make([]byte, valueLen)
		for j := range value {
			value[j] = byte('a' + (i+j)%26)
		}
		rows = append(rows, Row{
			VBucketID: vbucketID,
			Key:       fmt.Sprintf("%s%d", prefix, i),
			Flags:     uint32(i),
			Expiry:    uint32(1000 + i),
			Value:     value,
		})
	}
	return rows
}
