// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/mcpanel/mcpanel/lib/sqlitepool"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS samples (
	server    TEXT    NOT NULL,
	metric    TEXT    NOT NULL,
	timestamp INTEGER NOT NULL,
	value     REAL    NOT NULL,
	PRIMARY KEY (server, metric, timestamp)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS samples_by_time ON samples (timestamp);
`

// Archive persists history samples in SQLite so charts survive a
// restart. One archive serves every server; rows are keyed by server
// name.
type Archive struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// ArchiveConfig holds the parameters for OpenArchive.
type ArchiveConfig struct {
	// Path is the database file. Its directory must exist.
	Path string

	Logger *slog.Logger
}

// ArchivedSample is one sample tagged with its metric.
type ArchivedSample struct {
	Metric Metric
	Sample Sample
}

// OpenArchive opens or creates the archive database.
func OpenArchive(config ArchiveConfig) (*Archive, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := 0
	if config.Path == ":memory:" {
		poolSize = 1
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, archiveSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry archive: %w", err)
	}
	return &Archive{pool: pool, logger: logger}, nil
}

// Record writes samples for server in one transaction. Samples already
// present (same server, metric and timestamp) are left unchanged.
func (a *Archive) Record(ctx context.Context, server string, samples []ArchivedSample) (err error) {
	if len(samples) == 0 {
		return nil
	}
	conn, err := a.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("telemetry archive: record: %w", err)
	}
	defer a.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("telemetry archive: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, archived := range samples {
		err = sqlitex.Execute(conn,
			`INSERT OR IGNORE INTO samples (server, metric, timestamp, value) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{server, string(archived.Metric), archived.Sample.Time.UnixNano(), archived.Sample.Value},
			})
		if err != nil {
			return fmt.Errorf("telemetry archive: insert %s: %w", archived.Metric, err)
		}
	}
	return nil
}

// Load returns server's samples at or after since, grouped by metric
// in time order.
func (a *Archive) Load(ctx context.Context, server string, since time.Time) (map[Metric][]Sample, error) {
	conn, err := a.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("telemetry archive: load: %w", err)
	}
	defer a.pool.Put(conn)

	result := make(map[Metric][]Sample)
	err = sqlitex.Execute(conn,
		`SELECT metric, timestamp, value FROM samples
		 WHERE server = ? AND timestamp >= ?
		 ORDER BY metric, timestamp`,
		&sqlitex.ExecOptions{
			Args: []any{server, since.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				metric := Metric(stmt.ColumnText(0))
				result[metric] = append(result[metric], Sample{
					Time:  time.Unix(0, stmt.ColumnInt64(1)),
					Value: stmt.ColumnFloat(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("telemetry archive: load %s: %w", server, err)
	}
	return result, nil
}

// Prune deletes every sample older than before and returns how many
// rows were removed.
func (a *Archive) Prune(ctx context.Context, before time.Time) (int, error) {
	conn, err := a.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("telemetry archive: prune: %w", err)
	}
	defer a.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM samples WHERE timestamp < ?`, &sqlitex.ExecOptions{
		Args: []any{before.UnixNano()},
	}); err != nil {
		return 0, fmt.Errorf("telemetry archive: prune: %w", err)
	}
	removed := conn.Changes()
	if removed > 0 {
		a.logger.Debug("archive pruned", "removed", removed, "before", before)
	}
	return removed, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.pool.Close()
}
