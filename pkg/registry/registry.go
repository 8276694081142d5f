package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/jpillora/backoff"
)

const (
	ConcurrencyLastWriterWins = "lww"
	ConcurrencyCAS            = "cas"
)

type Outcome int

const (
	Rejected Outcome = iota
	Bound
	Refreshed
)

func (o Outcome) String() string {
	switch o {
	case Bound:
		return "bound"
	case Refreshed:
		return "refreshed"
	default:
		return "rejected"
	}
}

type Result struct {
	Outcome Outcome
	// Devices is the number of bound devices after the transition
	Devices int
}

func (r *Result) Admitted() bool {
	return r.Outcome != Rejected
}

type Status struct {
	Devices int  `json:"devices"`
	Max     int  `json:"max"`
	Bound   bool `json:"bound"`
}

type Policy struct {
	MaxDevices int
	// DeviceTTL prunes devices unused for longer, zero disables expiry
	DeviceTTL   time.Duration
	Concurrency string
	MaxRetries  int
}

var (
	ErrUnknownConcurrency = errors.New("unknown concurrency mode")
)

func (p Policy) cas() bool {
	return p.Concurrency == ConcurrencyCAS
}

// ParseConcurrency normalizes a configured concurrency mode, empty means CAS
func ParseConcurrency(value string) (string, error) {
	switch mode := strings.ToLower(strings.TrimSpace(value)); mode {
	case "":
		return ConcurrencyCAS, nil
	case ConcurrencyCAS, ConcurrencyLastWriterWins:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownConcurrency, value)
	}
}

// ConflictObserver is notified about every lost compare-and-swap race
type ConflictObserver interface {
	ObserveConflict()
}

// Registry owns per-UID bound device sets
type Registry struct {
	store    Store
	policy   Policy
	observer ConflictObserver
	now      func() time.Time
	backoff  backoff.Backoff
}

func NewRegistry(store Store, policy Policy, observer ConflictObserver) (*Registry, error) {
	concurrency, err := ParseConcurrency(policy.Concurrency)
	if err != nil {
		return nil, err
	}
	policy.Concurrency = concurrency

	if policy.MaxDevices <= 0 {
		policy.MaxDevices = 3
	}

	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 5
	}

	if policy.cas() {
		if _, ok := store.(ConditionalStore); !ok {
			slog.Warn("Store does not support conditional writes, falling back to last writer wins")
			policy.Concurrency = ConcurrencyLastWriterWins
		}
	}

	return &Registry{
		store:    store,
		policy:   policy,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
		backoff: backoff.Backoff{
			Min:    5 * time.Millisecond,
			Max:    200 * time.Millisecond,
			Factor: 2,
			Jitter: true,
		},
	}, nil
}

func (r *Registry) Policy() Policy {
	return r.policy
}

// read treats missing, corrupted and unreadable records as empty
func (r *Registry) read(ctx context.Context, key string) *BindingRecord {
	rec, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		return rec
	case errors.Is(err, ErrRecordNotFound):
		slog.Log(ctx, common.LevelTrace, "Binding record not found", "key", key)
		return &BindingRecord{}
	case errors.Is(err, ErrRecordCorrupted):
		slog.WarnContext(ctx, "Treating corrupted binding record as empty", "key", key)
		empty := &BindingRecord{}
		if rec != nil {
			empty.Version = rec.Version
		}
		return empty
	default:
		slog.ErrorContext(ctx, "Failed to read binding record, treating as empty", "key", key, common.ErrAttr(err))
		return &BindingRecord{}
	}
}

// transition applies the admission state machine to rec in place and returns
// false if nothing needs to be persisted
func (r *Registry) transition(rec *BindingRecord, fingerprint string, tnow time.Time) (*Result, bool) {
	if r.policy.DeviceTTL > 0 {
		rec.prune(tnow.Add(-r.policy.DeviceTTL))
	}

	if i := rec.Find(fingerprint); i >= 0 {
		rec.Devices[i].LastUsed = tnow
		rec.UpdatedAt = common.JSONTime(tnow)
		return &Result{Outcome: Refreshed, Devices: len(rec.Devices)}, true
	}

	if len(rec.Devices) >= r.policy.MaxDevices {
		return &Result{Outcome: Rejected, Devices: len(rec.Devices)}, false
	}

	rec.Devices = append(rec.Devices, DeviceEntry{Fingerprint: fingerprint, LastUsed: tnow})
	if rec.CreatedAt.Time().IsZero() {
		rec.CreatedAt = common.JSONTime(tnow)
	}
	rec.UpdatedAt = common.JSONTime(tnow)

	return &Result{Outcome: Bound, Devices: len(rec.Devices)}, true
}

// AdmitOrReject binds fingerprint to uid if there is a free slot, refreshes
// it if already bound or rejects the device otherwise. A rejection never
// modifies stored state.
func (r *Registry) AdmitOrReject(ctx context.Context, uid string, fingerprint string) (*Result, error) {
	key := Key(uid)
	b := r.backoff

	for attempt := 0; ; attempt++ {
		rec := r.read(ctx, key)
		expectedVersion := rec.Version

		result, changed := r.transition(rec, fingerprint, r.now())
		if !changed {
			return result, nil
		}

		rec.Version = expectedVersion + 1

		var err error
		if r.policy.cas() {
			err = r.store.(ConditionalStore).PutIf(ctx, key, rec, expectedVersion)
		} else {
			err = r.store.Put(ctx, key, rec)
		}

		if err == nil {
			slog.DebugContext(ctx, "Persisted binding record", "key", key, "outcome", result.Outcome.String(),
				"devices", result.Devices, "version", rec.Version)
			return result, nil
		}

		if !errors.Is(err, ErrVersionConflict) {
			slog.ErrorContext(ctx, "Failed to persist binding record", "key", key, common.ErrAttr(err))
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		if r.observer != nil {
			r.observer.ObserveConflict()
		}

		if attempt >= r.policy.MaxRetries {
			slog.WarnContext(ctx, "Giving up on binding record update", "key", key, "attempts", attempt+1)
			return nil, ErrTooManyConflicts
		}

		slog.DebugContext(ctx, "Binding record changed concurrently, retrying", "key", key, "attempt", attempt)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
}

// Inspect reports binding state without modifying it
func (r *Registry) Inspect(ctx context.Context, uid string, fingerprint string) *Status {
	rec := r.read(ctx, Key(uid))

	if r.policy.DeviceTTL > 0 {
		rec.prune(r.now().Add(-r.policy.DeviceTTL))
	}

	return &Status{
		Devices: len(rec.Devices),
		Max:     r.policy.MaxDevices,
		Bound:   rec.Find(fingerprint) >= 0,
	}
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}
