package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"go.uber.org/zap"
)

// Querier is the subset of *sql.Conn used to build a catalog. Attached databases
// belong to one connection, so callers must not pass a pooled *sql.DB.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Catalog maps every table name to the attached db files that contain it.
// It is immutable once built.
type Catalog struct {
	aliases []string         // attach order
	files   map[string]string // alias -> path
	owners  map[string][]int  // table -> attach indexes, ascending
}

// Alias returns the attach alias of the i-th file
func Alias(i int) string {
	return fmt.Sprintf("db%d", i)
}

// BuildCatalog attaches files to conn as db0, db1, ... in the given order and
// records which tables every file holds.
func BuildCatalog(ctx context.Context, conn Querier, files []string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Catalog{
		aliases: make([]string, 0, len(files)),
		files:   make(map[string]string, len(files)),
		owners:  make(map[string][]int),
	}

	for i, path := range files {
		alias := Alias(i)
		dsn, err := ReadOnlyDSN(path)
		if err != nil {
			return nil, errors.InvalidDataFile(path, err)
		}
		if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS ?", dsn, alias); err != nil {
			return nil, errors.InvalidDataFile(path, fmt.Errorf("attach as %s: %w", alias, err))
		}
		c.aliases = append(c.aliases, alias)
		c.files[alias] = path

		logger.Debug("Attached db file",
			zap.String("alias", alias),
			zap.String("path", path))
	}

	for i, alias := range c.aliases {
		tables, err := listTables(ctx, conn, alias)
		if err != nil {
			return nil, errors.InvalidDataFile(c.File(alias), err)
		}
		for _, table := range tables {
			c.owners[table] = append(c.owners[table], i)
		}
	}

	logger.Debug("Catalog built",
		zap.Int("db_files", len(c.aliases)),
		zap.Int("tables", len(c.owners)))

	return c, nil
}

func listTables(ctx context.Context, conn Querier, alias string) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT name FROM "+quoteIdent(alias)+".sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tables, nil
}

// Aliases returns the attach aliases in attach order
func (c *Catalog) Aliases() []string {
	out := make([]string, len(c.aliases))
	copy(out, c.aliases)
	return out
}

// File returns the path attached under alias
func (c *Catalog) File(alias string) string {
	return c.files[alias]
}

// Owners returns the aliases of the files containing table, in attach order
func (c *Catalog) Owners(table string) []string {
	idx := c.owners[table]
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.aliases[i])
	}
	return out
}

// Tables returns every table name, sorted
func (c *Catalog) Tables() []string {
	out := make([]string, 0, len(c.owners))
	for table := range c.owners {
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}

// PartitionIDs returns the vbucket ids of every partition table, ascending
func (c *Catalog) PartitionIDs() []uint16 {
	var ids []uint16
	for table := range c.owners {
		if id, ok := ParsePartitionTable(table); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasPartitions reports whether any file holds a partition table
func (c *Catalog) HasPartitions() bool {
	for table := range c.owners {
		if _, ok := ParsePartitionTable(table); ok {
			return true
		}
	}
	return false
}

// StateAlias returns the alias of the only file holding the state table
func (c *Catalog) StateAlias() (string, error) {
	owners := c.owners[StateTable]
	if len(owners) != 1 {
		return "", errors.NoUniqueStateTable(StateTable, len(owners))
	}
	return c.aliases[owners[0]], nil
}

func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}
