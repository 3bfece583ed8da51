package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"konnect/cmd/internal/chat"
)

// OpenStore opens the message store selected by cfg.StoreDriver, applies the schema when
// cfg.AutoMigrate is set and returns it instrumented. The caller owns Close.
func OpenStore(ctx context.Context, cfg Config, log Logger) (chat.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if driver == "" {
		driver = DriverMemory
	}

	st, err := openStore(ctx, driver, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	log.Info("store.open.ok", "driver", driver, "auto_migrate", cfg.AutoMigrate && driver != DriverMemory && driver != DriverRedis)
	return chat.Instrument(st, driver), nil
}

func openStore(ctx context.Context, driver string, cfg Config) (chat.Store, error) {
	dsn := strings.TrimSpace(cfg.StoreDSN)

	switch driver {
	case DriverMemory:
		return chat.NewInMemoryStore(), nil

	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("KONNECT_STORE_DSN is required")
		}
		pool, err := NewDBPool(ctx, dsn, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		pg, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.PGSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return poolOwner{Store: pg, pool: pool}, nil

	case DriverSQLite, DriverMySQL:
		if dsn == "" && driver == DriverSQLite {
			dsn = "file:konnect.db?_pragma=busy_timeout(5000)"
		}
		st, err := chat.OpenSQLStore(ctx, chat.Dialect(driver), dsn)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		return st, nil

	case DriverRedis:
		if dsn == "" {
			dsn = "redis://localhost:6379/0"
		}
		return chat.NewRedisStore(ctx, dsn, cfg.RedisPrefix)

	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// poolOwner closes the pgx pool that PostgresStore borrows.
type poolOwner struct {
	chat.Store
	pool *pgxpool.Pool
}

func (p poolOwner) Close() error {
	err := p.Store.Close()
	p.pool.Close()
	return err
}
