package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/registry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bindingsTable = "device_bindings"

var (
	selectBindingQuery = fmt.Sprintf(`SELECT record, version FROM %s WHERE key = $1`, bindingsTable)
	upsertBindingQuery = fmt.Sprintf(`INSERT INTO %[1]s (key, record, version) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET record = EXCLUDED.record, version = EXCLUDED.version, updated_at = NOW()`, bindingsTable)
	// the row is only replaced while its version is still the one we read
	conditionalUpsertBindingQuery = upsertBindingQuery + fmt.Sprintf(` WHERE %s.version = $4`, bindingsTable)
)

// PostgresStore keeps binding records in a JSONB column guarded by a version
// column for conditional writes
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ registry.ConditionalStore = (*PostgresStore)(nil)

func (s *PostgresStore) Get(ctx context.Context, key string) (*registry.BindingRecord, error) {
	var data []byte
	var version int64

	err := s.pool.QueryRow(ctx, selectBindingQuery, key).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrRecordNotFound
		}

		slog.ErrorContext(ctx, "Failed to read binding record from Postgres", "key", key, common.ErrAttr(err))
		return nil, err
	}

	rec, err := registry.DecodeRecord(data)
	if err != nil {
		slog.WarnContext(ctx, "Failed to decode binding record", "key", key, common.ErrAttr(err))
		return &registry.BindingRecord{Version: version}, registry.ErrRecordCorrupted
	}

	// version column is authoritative
	rec.Version = version

	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, rec *registry.BindingRecord) error {
	data, err := registry.EncodeRecord(rec)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, upsertBindingQuery, key, data, rec.Version); err != nil {
		slog.ErrorContext(ctx, "Failed to write binding record to Postgres", "key", key, common.ErrAttr(err))
		return err
	}

	return nil
}

func (s *PostgresStore) PutIf(ctx context.Context, key string, rec *registry.BindingRecord, expectedVersion int64) error {
	data, err := registry.EncodeRecord(rec)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, conditionalUpsertBindingQuery, key, data, rec.Version, expectedVersion)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to conditionally write binding record", "key", key, common.ErrAttr(err))
		return err
	}

	if tag.RowsAffected() == 0 {
		return registry.ErrVersionConflict
	}

	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
