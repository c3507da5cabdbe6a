// Package mysql implements a run history storage backend using MySQL.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/micromdm/nanouem/subsystem/history/storage"

	"github.com/go-sql-driver/mysql"
)

// Schema contains the MySQL schema for the run history storage.
//
//go:embed schema.sql
var Schema string

// MySQLStorage implements a storage.Storage using MySQL.
type MySQLStorage struct {
	db *sql.DB
}

type config struct {
	driver string
	dsn    string
	db     *sql.DB
}

// Option allows configuring a MySQLStorage.
type Option func(*config)

// WithDSN sets the storage MySQL data source name.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithDriver sets a custom MySQL driver for the storage.
//
// Default driver is "mysql".
// Value is ignored if WithDB is used.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithDB sets a custom MySQL *sql.DB to the storage.
//
// If set, driver passed via WithDriver is ignored.
// The connection must parse DATETIME columns into time.Time.
func WithDB(db *sql.DB) Option {
	return func(c *config) {
		c.db = db
	}
}

// New creates and returns a new MySQLStorage.
func New(opts ...Option) (*MySQLStorage, error) {
	cfg := &config{driver: "mysql"}
	for _, opt := range opts {
		opt(cfg)
	}
	var err error
	if cfg.db == nil {
		dsn := cfg.dsn
		if cfg.driver == "mysql" {
			// timestamps are scanned into time.Time
			mysqlCfg, err := mysql.ParseDSN(dsn)
			if err != nil {
				return nil, fmt.Errorf("parsing dsn: %w", err)
			}
			mysqlCfg.ParseTime = true
			dsn = mysqlCfg.FormatDSN()
		}
		cfg.db, err = sql.Open(cfg.driver, dsn)
		if err != nil {
			return nil, err
		}
	}
	if err = cfg.db.Ping(); err != nil {
		return nil, err
	}
	return &MySQLStorage{db: cfg.db}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

const selectRuns = `
SELECT
	id, action, bundle_id, started_at, finished_at, error, result
FROM
	history_runs`

func scanRuns(rows *sql.Rows) (map[string]storage.Run, error) {
	defer rows.Close()
	ret := make(map[string]storage.Run)
	for rows.Next() {
		var (
			run      storage.Run
			finished sql.NullTime
			errStr   sql.NullString
			result   []byte
		)
		if err := rows.Scan(&run.ID, &run.Action, &run.BundleID, &run.Started, &finished, &errStr, &result); err != nil {
			return ret, err
		}
		run.Started = run.Started.UTC()
		if finished.Valid {
			run.Finished = finished.Time.UTC()
		}
		run.Error = errStr.String
		if len(result) > 0 {
			run.Result = result
		}
		ret[run.ID] = run
	}
	return ret, rows.Err()
}

// RetrieveRuns returns the runs by ID from MySQL.
// All runs are returned if no IDs are given.
func (s *MySQLStorage) RetrieveRuns(ctx context.Context, ids []string) (map[string]storage.Run, error) {
	query := selectRuns
	var args []interface{}
	if len(ids) > 0 {
		query += " WHERE id IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, err
	}
	ret, err := scanRuns(rows)
	if err != nil {
		return ret, err
	}
	for _, id := range ids {
		if _, ok := ret[id]; !ok {
			return ret, fmt.Errorf("%w: %s: missing from result set", storage.ErrRunNotFound, id)
		}
	}
	return ret, nil
}

// StoreRun stores a run in MySQL, replacing any run with the same ID.
func (s *MySQLStorage) StoreRun(ctx context.Context, run *storage.Run) error {
	if !run.Valid() {
		return storage.ErrInvalidRun
	}
	var result []byte
	if len(run.Result) > 0 {
		result = run.Result
	}
	_, err := s.db.ExecContext(
		ctx, `
INSERT INTO history_runs
	(id, action, bundle_id, started_at, finished_at, error, result)
VALUES
	(?, ?, ?, ?, ?, ?, ?) as new
ON DUPLICATE KEY UPDATE
	action = new.action,
	bundle_id = new.bundle_id,
	started_at = new.started_at,
	finished_at = new.finished_at,
	error = new.error,
	result = new.result;`,
		run.ID,
		run.Action,
		run.BundleID,
		run.Started.UTC(),
		nullTime(run.Finished),
		nullString(run.Error),
		result,
	)
	return err
}

// DeleteRun deletes a run from MySQL by ID.
func (s *MySQLStorage) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history_runs WHERE id = ?;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	return nil
}
