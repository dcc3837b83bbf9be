// Package warehouse wraps the relational destination: table creation,
// inserts, and the catalog introspection used by reconciliation.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/config"
	"github.com/skyload/skyload-api/internal/models"

	_ "github.com/lib/pq"                  // postgres driver, local development destination
	_ "github.com/snowflakedb/gosnowflake" // snowflake driver
)

// TableInfo is one row of the catalog query: an object in the configured
// schema together with its row count and creation time.
type TableInfo struct {
	Name      string
	RowCount  int64
	CreatedAt time.Time
}

// Client is the destination interface the orchestrator depends on.
type Client interface {
	// RecentTables lists objects created in the configured schema within
	// the given window, most recent first.
	RecentTables(ctx context.Context, window time.Duration) ([]TableInfo, error)
	// CountRows runs COUNT(*) against one table.
	CountRows(ctx context.Context, table string) (int, error)
	// CreateTable creates a table from a recommended schema, adding an
	// etl_timestamp column, if it does not already exist.
	CreateTable(ctx context.Context, table string, schema []models.SchemaColumn) error
	// InsertRows bulk-inserts parsed rows; on bulk failure it retries
	// row by row, committing every commitBatch rows, and returns the
	// number of rows that made it in.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]string) (int, error)
	Close() error
}

// commitBatch matches the batching used by generated scripts.
const commitBatch = 100

type client struct {
	db     *sql.DB
	cfg    config.WarehouseConfig
	logger zerolog.Logger
}

// Open connects to the configured destination. Callers should treat a
// connection failure as "catalog unreachable" and fall back to
// log-derived reconciliation, not as a pipeline failure.
func Open(cfg config.WarehouseConfig, logger zerolog.Logger) (Client, error) {
	driver, dsn := dsnFor(cfg)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s destination", driver)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s destination", driver)
	}
	return &client{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "warehouse").Logger(),
	}, nil
}

func dsnFor(cfg config.WarehouseConfig) (driver, dsn string) {
	if cfg.Driver == "postgres" {
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		return "postgres", fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
	}
	// gosnowflake DSN: user:password@account/database/schema?warehouse=...
	return "snowflake", fmt.Sprintf("%s:%s@%s/%s/%s?warehouse=%s",
		cfg.User, cfg.Password, cfg.Account, cfg.Database, cfg.Schema, cfg.Warehouse)
}

func (c *client) RecentTables(ctx context.Context, window time.Duration) ([]TableInfo, error) {
	var query string
	var args []interface{}
	if c.cfg.Driver == "postgres" {
		// Postgres has no creation timestamp in information_schema; list
		// everything in the schema and let row counts tell the story.
		query = `
			SELECT c.relname, COALESCE(c.reltuples::bigint, 0), NOW()
			FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relkind = 'r'
			ORDER BY c.relname`
		args = []interface{}{strings.ToLower(c.cfg.Schema)}
	} else {
		query = fmt.Sprintf(`
			SELECT table_name, COALESCE(row_count, 0), created
			FROM %s.information_schema.tables
			WHERE table_schema = ? AND created >= DATEADD(minute, ?, CURRENT_TIMESTAMP())
			ORDER BY created DESC`, c.cfg.Database)
		args = []interface{}{c.cfg.Schema, -int(window.Minutes())}
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "catalog query")
	}
	defer rows.Close()

	var tables []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Name, &t.RowCount, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan catalog row")
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (c *client) CountRows(ctx context.Context, table string) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "count rows in %s", table)
	}
	return count, nil
}

func (c *client) CreateTable(ctx context.Context, table string, schema []models.SchemaColumn) error {
	cols := make([]string, 0, len(schema)+1)
	for _, col := range schema {
		def := fmt.Sprintf("%s %s", quoteIdent(col.Name), col.DestinationType)
		if !col.Nullable {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	cols = append(cols, "etl_timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP")

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return errors.Wrapf(err, "create table %s", table)
	}
	c.logger.Info().Str("table", table).Int("columns", len(schema)).Msg("Destination table created")
	return nil
}

func (c *client) InsertRows(ctx context.Context, table string, columns []string, rows [][]string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(columns))
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
		if c.cfg.Driver == "postgres" {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	// Bulk path first: one transaction for everything.
	if n, err := c.bulkInsert(ctx, insert, rows); err == nil {
		return n, nil
	} else {
		c.logger.Warn().Err(err).Msg("Bulk insert failed, retrying row by row")
	}

	// Row-by-row path isolates bad rows and commits in batches.
	inserted := 0
	failed := 0
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin insert transaction")
	}
	for i, row := range rows {
		args := make([]interface{}, len(row))
		for j, v := range row {
			args[j] = v
		}
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			failed++
			if failed <= 5 {
				c.logger.Warn().Err(err).Int("row", i+1).Msg("Row insert failed")
			}
			continue
		}
		inserted++
		if inserted%commitBatch == 0 {
			if err := tx.Commit(); err != nil {
				return inserted - commitBatch, errors.Wrap(err, "commit insert batch")
			}
			if tx, err = c.db.BeginTx(ctx, nil); err != nil {
				return inserted, errors.Wrap(err, "begin insert transaction")
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, errors.Wrap(err, "commit final insert batch")
	}
	c.logger.Info().Int("inserted", inserted).Int("failed", failed).Str("table", table).Msg("Row-by-row insert finished")
	return inserted, nil
}

func (c *client) bulkInsert(ctx context.Context, insert string, rows [][]string) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		args := make([]interface{}, len(row))
		for j, v := range row {
			args[j] = v
		}
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (c *client) Close() error {
	return c.db.Close()
}

// quoteIdent double-quotes identifiers that are not already safe bare
// names. Table and column names flow in from sanitized filenames and
// normalized headers, but uploads are user input.
func quoteIdent(s string) string {
	safe := true
	for _, r := range s {
		if !(r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
