package favorites

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// Store is a river.FavoritesStore backed by some persistence mechanism.
type Store interface {
	river.FavoritesStore
	Close() error
}

// Open selects a store by DSN: "memory", a postgres:// URL, or anything else
// as a SQLite DSN. The schema is created when missing.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, eris.Wrap(err, "favorites: connect postgres")
		}
		s := NewPostgres(pool, pool.Close)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}
}

// keyFromRow rebuilds a stored key, dropping rows that no longer validate.
func keyFromRow(agency, id string) (river.StationKey, bool) {
	k := river.StationKey{Agency: river.ParseAgency(agency), ID: id}
	if err := k.Validate(); err != nil {
		zap.L().Warn("dropping stored favorite", zap.String("component", "favorites"), zap.Error(err))
		return river.StationKey{}, false
	}
	return k, true
}
