package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/registry"
	"github.com/redis/go-redis/v9"
)

type RedisConnectOpts struct {
	Addr     string
	Password string
	DB       int
}

func connectRedis(ctx context.Context, opts RedisConnectOpts) (*redis.Client, error) {
	slog.DebugContext(ctx, "Connecting to Redis", "addr", opts.Addr, "db", opts.DB)

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.ErrorContext(ctx, "Failed to ping Redis", common.ErrAttr(err))
		client.Close()
		return nil, err
	}

	return client, nil
}

// RedisStore keeps binding records as JSON strings. Conditional writes use
// WATCH/MULTI/EXEC on the record key.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var _ registry.ConditionalStore = (*RedisStore)(nil)

func (s *RedisStore) Get(ctx context.Context, key string) (*registry.BindingRecord, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, registry.ErrRecordNotFound
		}

		slog.ErrorContext(ctx, "Failed to read binding record from Redis", "key", key, common.ErrAttr(err))
		return nil, err
	}

	rec, err := registry.DecodeRecord(data)
	if err != nil {
		slog.WarnContext(ctx, "Failed to decode binding record", "key", key, common.ErrAttr(err))
		return &registry.BindingRecord{}, registry.ErrRecordCorrupted
	}

	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, rec *registry.BindingRecord) error {
	data, err := registry.EncodeRecord(rec)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, 0).Err()
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	rec, err := registry.DecodeRecord(data)
	if err != nil {
		return 0, nil
	}

	return rec.Version, nil
}

func (s *RedisStore) PutIf(ctx context.Context, key string, rec *registry.BindingRecord, expectedVersion int64) error {
	data, err := registry.EncodeRecord(rec)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		version, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}

		if version != expectedVersion {
			return registry.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})

		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return registry.ErrVersionConflict
	}

	return err
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
