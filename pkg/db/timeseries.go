package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/devicegate/devicegate/pkg/common"
)

const admissionLogTable = "admission_logs"

// TimeSeriesStore writes the admission access log to ClickHouse
type TimeSeriesStore struct {
	clickhouse *sql.DB
	database   string
}

func NewTimeSeries(clickhouse *sql.DB, database string) *TimeSeriesStore {
	return &TimeSeriesStore{
		clickhouse: clickhouse,
		database:   database,
	}
}

func (ts *TimeSeriesStore) table(name string) string {
	return ts.database + "." + name
}

func (ts *TimeSeriesStore) WriteAccessLogBatch(ctx context.Context, records []*common.AccessRecord) error {
	scope, err := ts.clickhouse.Begin()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to begin batch insert", common.ErrAttr(err))
		return err
	}

	batch, err := scope.Prepare(fmt.Sprintf("INSERT INTO %s (uid, zone, fingerprint, outcome, devices, timestamp)", ts.table(admissionLogTable)))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to prepare insert query", common.ErrAttr(err))
		_ = scope.Rollback()
		return err
	}

	for i, r := range records {
		_, err = batch.Exec(r.UID, r.Zone, r.Fingerprint, r.Outcome, r.Devices, r.Timestamp)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to exec insert for record", common.ErrAttr(err), "index", i)
			_ = scope.Rollback()
			return err
		}
	}

	if err := scope.Commit(); err != nil {
		slog.ErrorContext(ctx, "Failed to commit access log batch", common.ErrAttr(err))
		return err
	}

	slog.DebugContext(ctx, "Inserted batch of access records", "count", len(records))

	return nil
}

func (ts *TimeSeriesStore) Ping(ctx context.Context) error {
	return ts.clickhouse.PingContext(ctx)
}
