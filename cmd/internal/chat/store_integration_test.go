package chat

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Integration tests are enabled when the matching KONNECT_TEST_* variable is set.
// This keeps local "go test ./..." fast & deterministic without external services.

func TestPostgresStore_Contract(t *testing.T) {
	t.Parallel()

	raw := strings.TrimSpace(os.Getenv("KONNECT_TEST_POSTGRES_URL"))
	if raw == "" {
		t.Skip("integration test skipped: KONNECT_TEST_POSTGRES_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()

		schema := "konnect_it_" + randomHex(t, 6)
		st, err := NewPostgresStore(pool, WithSchema(schema))
		if err != nil {
			t.Fatalf("new postgres store: %v", err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		})

		if err := st.Migrate(testCtx(t)); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return st
	})
}

func TestPostgresStore_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	// NewPostgresStore validates options before touching the pool.
	if _, err := NewPostgresStore(nil, WithSchema("bad-schema;")); err == nil {
		t.Fatalf("expected invalid schema error")
	}
	if _, err := NewPostgresStore(nil, WithTable("drop table")); err == nil {
		t.Fatalf("expected invalid table error")
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected nil pool error")
	}
}

func TestMySQLStore_Contract(t *testing.T) {
	t.Parallel()

	dsn := strings.TrimSpace(os.Getenv("KONNECT_TEST_MYSQL_DSN"))
	if dsn == "" {
		t.Skip("integration test skipped: KONNECT_TEST_MYSQL_DSN is not set")
	}

	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()

		st, err := OpenSQLStore(testCtx(t), DialectMySQL, dsn)
		if err != nil {
			t.Fatalf("open mysql: %v", err)
		}
		st.table = "konnect_it_" + randomHex(t, 6)
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, _ = st.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+st.table)
			_ = st.Close()
		})

		if err := st.Migrate(testCtx(t)); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return st
	})
}

func TestRedisStore_Contract(t *testing.T) {
	t.Parallel()

	url := strings.TrimSpace(os.Getenv("KONNECT_TEST_REDIS_URL"))
	if url == "" {
		t.Skip("integration test skipped: KONNECT_TEST_REDIS_URL is not set")
	}

	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()

		prefix := "konnect_it_" + randomHex(t, 6)
		st, err := NewRedisStore(testCtx(t), url, prefix)
		if err != nil {
			t.Fatalf("open redis: %v", err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			deleteKeysWithPrefix(ctx, st.client, prefix)
			_ = st.Close()
		})
		return st
	})
}

func deleteKeysWithPrefix(ctx context.Context, client *redis.Client, prefix string) {
	iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
}

func TestOpenSQLStore_RejectsUnknownDialect(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLStore(context.Background(), Dialect("oracle"), "x"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
	if _, err := OpenSQLStore(context.Background(), DialectSQLite, "  "); err == nil {
		t.Fatalf("expected empty dsn error")
	}
}
