package favorites

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// SQLite implements Store using modernc.org/sqlite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS favorites (
	agency     TEXT NOT NULL,
	station_id TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (agency, station_id)
);
`

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context) (river.KeySet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agency, station_id FROM favorites`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query favorites")
	}
	defer rows.Close()

	out := river.KeySet{}
	for rows.Next() {
		var agency, id string
		if err := rows.Scan(&agency, &id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan favorite")
		}
		if k, ok := keyFromRow(agency, id); ok {
			out.Add(k)
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate favorites")
}

// Set replaces the stored favorite set in one transaction.
func (s *SQLite) Set(ctx context.Context, ids river.KeySet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM favorites`); err != nil {
		_ = tx.Rollback()
		return eris.Wrap(err, "sqlite: clear favorites")
	}
	for _, k := range ids.Sorted() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO favorites (agency, station_id) VALUES (?, ?)`, string(k.Agency), k.ID); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "sqlite: insert favorite %s", k)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit favorites")
}
