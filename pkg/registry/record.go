package registry

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
)

var errEmptyFingerprint = errors.New("device entry without fingerprint")

type DeviceEntry struct {
	Fingerprint string
	LastUsed    time.Time
}

type deviceEntryJSON struct {
	Fingerprint string          `json:"fingerprint"`
	LastUsed    common.JSONTime `json:"lastUsed"`
}

// legacy entries were written as {"id": "<fp>", "ts": <unix millis>}
type legacyDeviceEntryJSON struct {
	ID string `json:"id"`
	TS int64  `json:"ts"`
}

func (e DeviceEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(deviceEntryJSON{
		Fingerprint: e.Fingerprint,
		LastUsed:    common.JSONTime(e.LastUsed),
	})
}

func (e *DeviceEntry) UnmarshalJSON(b []byte) error {
	var current deviceEntryJSON
	if err := json.Unmarshal(b, &current); err == nil && len(current.Fingerprint) > 0 {
		e.Fingerprint = current.Fingerprint
		e.LastUsed = current.LastUsed.Time()
		return nil
	}

	var legacy legacyDeviceEntryJSON
	if err := json.Unmarshal(b, &legacy); err != nil {
		return err
	}

	if len(legacy.ID) == 0 {
		return errEmptyFingerprint
	}

	e.Fingerprint = legacy.ID
	if legacy.TS > 0 {
		e.LastUsed = time.UnixMilli(legacy.TS).UTC()
	}

	return nil
}

// BindingRecord is the persisted set of devices bound to one UID
type BindingRecord struct {
	Devices   []DeviceEntry   `json:"devices"`
	CreatedAt common.JSONTime `json:"createdAt"`
	UpdatedAt common.JSONTime `json:"updatedAt"`
	Version   int64           `json:"version"`
}

func (r *BindingRecord) Find(fingerprint string) int {
	for i, d := range r.Devices {
		if d.Fingerprint == fingerprint {
			return i
		}
	}

	return -1
}

// dedup collapses repeated fingerprints keeping the first occurrence
func (r *BindingRecord) dedup() {
	if len(r.Devices) < 2 {
		return
	}

	seen := make(map[string]struct{}, len(r.Devices))
	devices := r.Devices[:0]

	for _, d := range r.Devices {
		if _, ok := seen[d.Fingerprint]; ok {
			continue
		}
		seen[d.Fingerprint] = struct{}{}
		devices = append(devices, d)
	}

	r.Devices = devices
}

// prune drops devices not used since cutoff and reports if anything changed
func (r *BindingRecord) prune(cutoff time.Time) bool {
	devices := r.Devices[:0]
	for _, d := range r.Devices {
		if !d.LastUsed.IsZero() && d.LastUsed.Before(cutoff) {
			continue
		}
		devices = append(devices, d)
	}

	changed := len(devices) != len(r.Devices)
	r.Devices = devices

	return changed
}

func (r *BindingRecord) Clone() *BindingRecord {
	clone := *r
	clone.Devices = append([]DeviceEntry(nil), r.Devices...)
	return &clone
}

func DecodeRecord(data []byte) (*BindingRecord, error) {
	rec := &BindingRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}

	rec.dedup()

	return rec, nil
}

func EncodeRecord(rec *BindingRecord) ([]byte, error) {
	if rec.Devices == nil {
		rec.Devices = []DeviceEntry{}
	}

	return json.Marshal(rec)
}
