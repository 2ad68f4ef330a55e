package legacy

import (
	"context"
	"database/sql"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"go.uber.org/zap"
)

// Dataset is a read-only view over every db file of a legacy backup, attached
// to a single private in-memory connection.
type Dataset struct {
	basePath string
	db       *sql.DB
	conn     *sql.Conn
	catalog  *Catalog
	logger   *zap.Logger
}

// OpenDataset attaches the db files of basePath and builds their catalog.
// It fails when no partition table exists in any file.
func OpenDataset(ctx context.Context, basePath string, logger *zap.Logger) (*Dataset, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := DataFiles(basePath)
	if err != nil {
		return nil, err
	}

	db, err := Open(":memory:")
	if err != nil {
		return nil, errors.InternalError("failed to open in-memory database", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, errors.InternalError("failed to acquire connection", err)
	}

	ds := &Dataset{
		basePath: basePath,
		db:       db,
		conn:     conn,
		logger:   logger,
	}

	catalog, err := BuildCatalog(ctx, conn, files, logger)
	if err != nil {
		ds.Close()
		return nil, err
	}
	if !catalog.HasPartitions() {
		ds.Close()
		return nil, errors.NoPartitionData(basePath)
	}
	ds.catalog = catalog

	logger.Debug("Dataset opened",
		zap.String("path", basePath),
		zap.Strings("aliases", catalog.Aliases()),
		zap.Int("tables", len(catalog.Tables())))

	return ds, nil
}

// Catalog returns the dataset catalog
func (d *Dataset) Catalog() *Catalog {
	return d.catalog
}

// BasePath returns the path the dataset was opened with
func (d *Dataset) BasePath() string {
	return d.basePath
}

// QueryPartition opens a cursor over the active rows of one worklist entry.
// Rows stay bound to ctx until they are closed.
func (d *Dataset) QueryPartition(ctx context.Context, item WorkItem, stateAlias string) (*sql.Rows, error) {
	return d.conn.QueryContext(ctx, PartitionQuery(item.Alias, item.Table, stateAlias))
}

// Close releases the connection and every attached file
func (d *Dataset) Close() error {
	var firstErr error
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			firstErr = err
		}
		d.conn = nil
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.db = nil
	}
	return firstErr
}

// PartitionQuery returns the row source for one partition table joined with
// the state table. Only vbuckets whose state is active are read.
func PartitionQuery(alias, table, stateAlias string) string {
	return `SELECT vb.vbid, kv.k, kv.flags, kv.exptime, kv.v
  FROM ` + quoteIdent(alias) + `.` + quoteIdent(table) + ` AS kv,
       ` + quoteIdent(stateAlias) + `.` + StateTable + ` AS vb
 WHERE kv.vbucket = vb.vbid
   AND vb.state LIKE 'active'`
}

// ListPartitions returns the vbucket ids present anywhere in the dataset, ascending
func ListPartitions(ctx context.Context, basePath string, logger *zap.Logger) ([]uint16, error) {
	ds, err := OpenDataset(ctx, basePath, logger)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	return ds.Catalog().PartitionIDs(), nil
}
