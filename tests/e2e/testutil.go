//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/recall/internal/memory"
	"github.com/nidhogg/recall/internal/store"
)

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testLogger   *zap.Logger
	testPGDSN    string
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("recall_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

func TestMain(m *testing.M) {
	testLogger, _ = zap.NewDevelopment()
	ctx := context.Background()

	dsn, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container: %v\n", err)
		os.Exit(1)
	}
	testPGDSN = dsn

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		pgCleanup()
		fmt.Fprintf(os.Stderr, "redis container: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = redisURL

	code := m.Run()
	redisCleanup()
	pgCleanup()
	os.Exit(code)
}

// newStack wires a service over the real Postgres store and Redis cache.
func newStack(t *testing.T) (*memory.Service, *store.Postgres) {
	t.Helper()
	ctx := context.Background()

	pg, err := store.NewPostgres(ctx, testPGDSN, testLogger)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pg.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cache, err := memory.NewRedisCache(testRedisURL, testLogger)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}

	cfg := memory.DefaultServiceConfig()
	cfg.CacheTTL = 5 * time.Second
	svc := memory.NewService(pg, cache, nil, cfg, testLogger)
	t.Cleanup(func() {
		svc.Flush()
		cache.Close()
		pg.Close()
	})
	return svc, pg
}
