package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/devrev/pairdb/transfer/internal/errors"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

const (
	// DriverName is the database/sql driver used for every db file
	DriverName = "sqlite"

	// MinSchemaVersion is the PRAGMA user_version written by 1.8 servers
	MinSchemaVersion = 2

	// StateTable records the state of every vbucket
	StateTable = "vbucket_states"

	// PartitionTablePrefix starts the name of every partition table
	PartitionTablePrefix = "kv_"
)

var partitionTablePattern = regexp.MustCompile(`^kv_(\d+)$`)

// SQLite keeps these next to a db file; they are never db files themselves
var sidecarSuffixes = []string{"-journal", "-wal", "-shm"}

// Open opens a SQLite database using the modernc.org/sqlite driver.
func Open(dsn string) (*sql.DB, error) { return sql.Open(DriverName, dsn) }

// ParsePartitionTable returns the vbucket id encoded in a partition table name.
// Only the canonical spelling kv_<id> qualifies; kv_01 is not a partition table.
func ParsePartitionTable(name string) (uint16, bool) {
	m := partitionTablePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil || PartitionTableName(uint16(id)) != name {
		return 0, false
	}
	return uint16(id), true
}

// PartitionTableName returns the partition table name for a vbucket id
func PartitionTableName(vbucketID uint16) string {
	return PartitionTablePrefix + strconv.Itoa(int(vbucketID))
}

// DataFiles returns the db files of the dataset rooted at basePath, sorted by path.
// The set is every regular file matching basePath + "*".
func DataFiles(basePath string) ([]string, error) {
	matches, err := filepath.Glob(basePath + "*")
	if err != nil {
		return nil, errors.InvalidArgument(fmt.Sprintf("bad dataset path %q", basePath), err)
	}

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if isSidecar(m) {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, m)
	}
	if len(files) == 0 {
		return nil, errors.NoDataFiles(basePath)
	}

	sort.Strings(files)
	return files, nil
}

func isSidecar(path string) bool {
	for _, suffix := range sidecarSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// ReadOnlyDSN returns a read-only SQLite URI for path
func ReadOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: "mode=ro"}
	return u.String(), nil
}

// SchemaVersion reads the schema version stamp of a single db file
func SchemaVersion(ctx context.Context, path string) (int, error) {
	dsn, err := ReadOnlyDSN(path)
	if err != nil {
		return 0, errors.InvalidDataFile(path, err)
	}

	db, err := Open(dsn)
	if err != nil {
		return 0, errors.InvalidDataFile(path, err)
	}
	defer db.Close()

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, errors.InvalidDataFile(path, err)
	}
	return version, nil
}
