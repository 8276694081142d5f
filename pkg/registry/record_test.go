package registry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDecodeLegacyRecord(t *testing.T) {
	data := []byte(`{"devices":[{"id":"aa","ts":1700000000000},{"id":"bb","ts":1700000001000}]}`)

	rec, err := DecodeRecord(data)
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.Devices) != 2 || rec.Devices[0].Fingerprint != "aa" || rec.Devices[1].Fingerprint != "bb" {
		t.Fatalf("Unexpected devices: %+v", rec.Devices)
	}

	if expected := time.UnixMilli(1700000000000); !rec.Devices[0].LastUsed.Equal(expected) {
		t.Errorf("Unexpected lastUsed: %v", rec.Devices[0].LastUsed)
	}

	if rec.Version != 0 {
		t.Errorf("Unexpected version: %v", rec.Version)
	}

	encoded, err := EncodeRecord(rec)
	if err != nil {
		t.Fatal(err)
	}

	if strings.Contains(string(encoded), `"id"`) || !strings.Contains(string(encoded), `"fingerprint":"aa"`) {
		t.Errorf("Record was not written in current format: %s", encoded)
	}
}

func TestDecodeCollapsesDuplicates(t *testing.T) {
	data := []byte(`{"devices":[
		{"fingerprint":"aa","lastUsed":"2024-01-01T00:00:00Z"},
		{"id":"bb","ts":1700000000000},
		{"fingerprint":"aa","lastUsed":"2024-02-01T00:00:00Z"}
	],"version":4}`)

	rec, err := DecodeRecord(data)
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.Devices) != 2 {
		t.Fatalf("Unexpected devices: %+v", rec.Devices)
	}

	if rec.Devices[0].LastUsed.Month() != time.January {
		t.Error("First occurrence was not kept")
	}

	if rec.Version != 4 {
		t.Errorf("Unexpected version: %v", rec.Version)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, data := range []string{`{not json`, `{"devices":[{"ts":1}]}`, `{"devices":"x"}`} {
		if _, err := DecodeRecord([]byte(data)); err == nil {
			t.Errorf("Expected error for %s", data)
		}
	}
}

func TestEncodeEmptyRecord(t *testing.T) {
	encoded, err := EncodeRecord(&BindingRecord{})
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &raw); err != nil {
		t.Fatal(err)
	}

	if string(raw["devices"]) != "[]" {
		t.Errorf("Unexpected devices: %s", raw["devices"])
	}
}
