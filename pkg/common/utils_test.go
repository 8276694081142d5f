package common

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRelURL(t *testing.T) {
	testCases := []struct {
		prefix   string
		url      string
		expected string
	}{
		{"", "test", "/test"},
		{"", "/test", "/test"},
		{"/", "test", "/test"},
		{"my", "", "/my/"},
		{"/my", "/", "/my/"},
		{"my", "/test", "/my/test"},
		{"/my/", "/test/", "/my/test/"},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("relURL_%v", i), func(t *testing.T) {
			actual := RelURL(tc.prefix, tc.url)
			if actual != tc.expected {
				t.Errorf("Actual url (%v) is different from expected (%v)", actual, tc.expected)
			}
		})
	}
}

func TestEnvToBool(t *testing.T) {
	testCases := []struct {
		value    string
		expected bool
	}{
		{"1", true},
		{"true", true},
		{" yes ", true},
		{"0", false},
		{"", false},
		{"nope", false},
	}

	for _, tc := range testCases {
		if actual := EnvToBool(tc.value); actual != tc.expected {
			t.Errorf("EnvToBool(%q) = %v, expected %v", tc.value, actual, tc.expected)
		}
	}
}

func TestJSONTimeRoundtrip(t *testing.T) {
	tnow := time.Date(2024, 3, 1, 10, 20, 30, 500, time.UTC)

	data, err := json.Marshal(struct {
		At JSONTime `json:"at"`
	}{At: JSONTime(tnow)})
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		At JSONTime `json:"at"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if !decoded.At.Time().Equal(tnow) {
		t.Errorf("Unexpected time after decoding %s: %v", data, decoded.At)
	}
}

func TestRecoveredAnswers500(t *testing.T) {
	handler := Recovered(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Unexpected status code %d", w.Code)
	}

	if body := w.Body.String(); body != "Internal Server Error: boom\n" {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestEnvMapFileFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("GATE_TEST_FROM_FILE=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GATE_TEST_FROM_FILE", "process")
	t.Setenv("GATE_TEST_FROM_ENV", "process")

	em, err := NewEnvMap(path)
	if err != nil {
		t.Fatal(err)
	}

	if v := em.Get("GATE_TEST_FROM_FILE"); v != "file" {
		t.Errorf("Unexpected value from file: %v", v)
	}

	if v := em.Get("GATE_TEST_FROM_ENV"); v != "process" {
		t.Errorf("Unexpected value from environment: %v", v)
	}
}
