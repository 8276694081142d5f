package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/devicegate/devicegate/pkg/common"
	"github.com/golang-migrate/migrate/v4"
	chmigrate "github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	clickhouseRetentionDays = 180
)

//go:embed migrations/clickhouse/*.sql
var clickhouseMigrationsFS embed.FS

type ClickHouseConnectOpts struct {
	Host     string
	Database string
	User     string
	Password string
	Port     int
	Verbose  bool
}

func connectClickhouse(ctx context.Context, opts ClickHouseConnectOpts) *sql.DB {
	slog.DebugContext(ctx, "Connecting to ClickHouse", "host", opts.Host, "db", opts.Database, "user", opts.User)
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%v", opts.Host, opts.Port)},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: time.Second * 30,
		Debug:       opts.Verbose,
		Debugf: func(format string, v ...any) {
			slog.Log(context.TODO(), common.LevelTrace, fmt.Sprintf(format, v...), "source", "clickhouse")
		},
	})
	conn.SetMaxIdleConns(2)
	conn.SetMaxOpenConns(5)
	conn.SetConnMaxLifetime(time.Hour)
	return conn
}

func migrateClickhouse(ctx context.Context, db *sql.DB, dbName string, up bool) error {
	migrateCtx := &migrateContext{
		Database:      dbName,
		RetentionDays: clickhouseRetentionDays,
	}

	d, err := iofs.New(NewTemplateFS(clickhouseMigrationsFS, migrateCtx), "migrations/clickhouse")
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read from ClickHouse migrations IOFS", common.ErrAttr(err))
		return err
	}

	config := &chmigrate.Config{
		MigrationsTable:       chmigrate.DefaultMigrationsTable,
		MigrationsTableEngine: chmigrate.DefaultMigrationsTableEngine,
		DatabaseName:          dbName,
		MultiStatementEnabled: true,
		MultiStatementMaxSize: chmigrate.DefaultMultiStatementMaxSize,
	}

	driver, err := chmigrate.WithInstance(db, config)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to connect to ClickHouse", common.ErrAttr(err))
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "clickhouse", driver)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create migration engine for ClickHouse", common.ErrAttr(err))
		return err
	}

	if up {
		err = m.Up()
	} else {
		err = m.Down()
	}

	if err != nil && err != migrate.ErrNoChange {
		slog.ErrorContext(ctx, "Failed to apply migrations in ClickHouse", "up", up, common.ErrAttr(err))
		return err
	}

	slog.InfoContext(ctx, "ClickHouse migrated", "up", up, "changes", (err != migrate.ErrNoChange))

	return nil
}
