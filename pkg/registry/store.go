package registry

import (
	"context"
	"errors"
)

const keyPrefix = "uid:"

var (
	ErrRecordNotFound  = errors.New("binding record not found")
	ErrRecordCorrupted = errors.New("binding record cannot be decoded")
	ErrVersionConflict = errors.New("binding record version conflict")
	// ErrStoreUnavailable and ErrTooManyConflicts are retryable
	ErrStoreUnavailable = errors.New("binding store unavailable")
	ErrTooManyConflicts = errors.New("too many concurrent binding updates")
)

// Key returns the storage key of the record for uid
func Key(uid string) string {
	return keyPrefix + uid
}

// Store persists binding records. Get returns ErrRecordNotFound for missing
// keys. On ErrRecordCorrupted Get may return a record carrying only the stored
// version.
type Store interface {
	Get(ctx context.Context, key string) (*BindingRecord, error)
	Put(ctx context.Context, key string, rec *BindingRecord) error
	Ping(ctx context.Context) error
}

// ConditionalStore can write a record only if the stored version still equals
// expectedVersion. Missing and undecodable records have version 0.
type ConditionalStore interface {
	Store
	PutIf(ctx context.Context, key string, rec *BindingRecord, expectedVersion int64) error
}
