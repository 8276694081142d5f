package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/config"
	"github.com/devicegate/devicegate/pkg/registry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	clickhousePort = 9000
)

var ErrUnknownStore = errors.New("unknown binding store")

// Backends holds the connections the service was configured with. Unused
// backends stay nil.
type Backends struct {
	Redis      *redis.Client
	Postgres   *pgxpool.Pool
	ClickHouse *sql.DB
	storeKind  string
	database   string
}

func Connect(ctx context.Context, cfg common.ConfigStore) (*Backends, error) {
	return connectEx(ctx, cfg, false /*migrate*/, false)
}

func Migrate(ctx context.Context, cfg common.ConfigStore, up bool) error {
	b, err := connectEx(ctx, cfg, true /*migrate*/, up)
	if b != nil {
		b.Close()
	}

	return err
}

func storeKind(cfg common.ConfigStore) string {
	return strings.ToLower(strings.TrimSpace(cfg.Get(common.StoreKey).Value()))
}

func connectEx(ctx context.Context, cfg common.ConfigStore, migrate, up bool) (*Backends, error) {
	b := &Backends{
		storeKind: storeKind(cfg),
		database:  cfg.Get(common.ClickHouseDBKey).Value(),
	}

	switch b.storeKind {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, b.storeKind)
	}

	errs, ctx := errgroup.WithContext(ctx)

	if b.storeKind == StoreRedis {
		errs.Go(func() error {
			client, err := connectRedis(ctx, RedisConnectOpts{
				Addr:     config.RedisAddress(ctx, cfg.Get(common.RedisAddrKey)),
				Password: cfg.Get(common.RedisPasswordKey).Value(),
				DB:       config.AsInt(cfg.Get(common.RedisDBKey), 0),
			})
			b.Redis = client
			return err
		})
	}

	if b.storeKind == StorePostgres {
		errs.Go(func() error {
			pool, err := connectPostgres(ctx, cfg.Get(common.PostgresURLKey).Value())
			if err != nil {
				return err
			}
			b.Postgres = pool

			if err := pool.Ping(ctx); err != nil {
				return err
			}

			if migrate {
				return migratePostgres(common.TraceContext(ctx, "postgres"), pool, &migrateContext{BindingsTable: bindingsTable}, up)
			}

			return nil
		})
	}

	if host := cfg.Get(common.ClickHouseHostKey).Value(); len(host) > 0 {
		errs.Go(func() error {
			opts := ClickHouseConnectOpts{
				Host:     host,
				Database: b.database,
				User:     cfg.Get(common.ClickHouseUserKey).Value(),
				Password: cfg.Get(common.ClickHousePasswordKey).Value(),
				Port:     clickhousePort,
				Verbose:  config.AsBool(cfg.Get(common.VerboseKey)),
			}
			b.ClickHouse = connectClickhouse(ctx, opts)
			if err := b.ClickHouse.PingContext(ctx); err != nil {
				return err
			}

			if migrate {
				return migrateClickhouse(common.TraceContext(ctx, "clickhouse"), b.ClickHouse, opts.Database, up)
			}

			return nil
		})
	}

	if err := errs.Wait(); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

// BindingStore returns the registry store for the configured backend
func (b *Backends) BindingStore() registry.Store {
	switch b.storeKind {
	case StoreRedis:
		return NewRedisStore(b.Redis)
	case StorePostgres:
		return NewPostgresStore(b.Postgres)
	default:
		return registry.NewMemoryStore()
	}
}

// TimeSeries returns nil when ClickHouse is not configured
func (b *Backends) TimeSeries() *TimeSeriesStore {
	if b.ClickHouse == nil {
		return nil
	}

	return NewTimeSeries(b.ClickHouse, b.database)
}

func (b *Backends) Close() {
	if b.Redis != nil {
		b.Redis.Close()
	}

	if b.Postgres != nil {
		b.Postgres.Close()
	}

	if b.ClickHouse != nil {
		b.ClickHouse.Close()
	}
}
