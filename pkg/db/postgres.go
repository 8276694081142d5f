package db

import (
	"context"
	"embed"
	"log/slog"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	pgMigrationsSchema = "public"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

func connectPostgres(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	slog.DebugContext(ctx, "Connecting to Postgres...")
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create pgxpool", common.ErrAttr(err))
		return nil, err
	}

	return pool, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool, migrateCtx *migrateContext, up bool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	d, err := iofs.New(NewTemplateFS(postgresMigrationsFS, migrateCtx), "migrations/postgres")
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read from Postgres migrations IOFS", common.ErrAttr(err))
		return err
	}

	// NOTE: beware the run migrations twice problem with migrate, related to search_path
	// the fix is to add '&search_path=public' to the connection string
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{SchemaName: pgMigrationsSchema})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create migrate driver", common.ErrAttr(err))
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create migration engine for Postgres", common.ErrAttr(err))
		return err
	}

	if up {
		slog.DebugContext(ctx, "Applying Postgres migrations...")
		err = m.Up()
	} else {
		slog.DebugContext(ctx, "Rolling back Postgres migrations...")
		err = m.Down()
	}

	if err != nil && err != migrate.ErrNoChange {
		slog.ErrorContext(ctx, "Failed to apply migrations in Postgres", "up", up, common.ErrAttr(err))
		return err
	}

	slog.InfoContext(ctx, "Postgres migrated", "up", up, "changes", (err != migrate.ErrNoChange))

	return nil
}
