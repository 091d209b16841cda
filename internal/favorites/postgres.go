package favorites

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// Pool is the subset of pgxpool.Pool the store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool  Pool
	close func()
}

// NewPostgres wraps pool. closeFn, if set, is called by Close.
func NewPostgres(pool Pool, closeFn func()) *Postgres {
	return &Postgres{pool: pool, close: closeFn}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS favorites (
	agency     TEXT NOT NULL,
	station_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agency, station_id)
)`

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate favorites")
}

func (p *Postgres) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context) (river.KeySet, error) {
	rows, err := p.pool.Query(ctx, `SELECT agency, station_id FROM favorites`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query favorites")
	}
	defer rows.Close()

	out := river.KeySet{}
	for rows.Next() {
		var agency, id string
		if err := rows.Scan(&agency, &id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan favorite")
		}
		if k, ok := keyFromRow(agency, id); ok {
			out.Add(k)
		}
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate favorites")
}

// Set replaces the stored favorite set in one transaction.
func (p *Postgres) Set(ctx context.Context, ids river.KeySet) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM favorites`); err != nil {
		_ = tx.Rollback(ctx)
		return eris.Wrap(err, "postgres: clear favorites")
	}
	for _, k := range ids.Sorted() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO favorites (agency, station_id) VALUES ($1, $2)`, string(k.Agency), k.ID); err != nil {
			_ = tx.Rollback(ctx)
			return eris.Wrapf(err, "postgres: insert favorite %s", k)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit favorites")
}
