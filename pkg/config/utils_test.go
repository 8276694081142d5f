package config

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
)

func TestSplitHost(t *testing.T) {
	testCases := []struct {
		value string
		host  string
		port  string
	}{
		{"redis.devicegate.local", "redis.devicegate.local", ""},
		{"redis.devicegate.local:6380", "redis.devicegate.local", "6380"},
		{"[::1]:6379", "::1", "6379"},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("splitHost_%v", i), func(t *testing.T) {
			h, p, err := splitHostPort(tc.value)
			if err != nil {
				t.Fatal(err)
			}
			if h != tc.host {
				t.Errorf("Actual host (%v) is different from expected (%v)", h, tc.host)
			}
			if p != tc.port {
				t.Errorf("Actual port (%v) is different from expected (%v)", p, tc.port)
			}
		})
	}
}

func TestAsDuration(t *testing.T) {
	testCases := []struct {
		value    string
		expected time.Duration
	}{
		{"", time.Minute},
		{"365d", 365 * 24 * time.Hour},
		{"90m", 90 * time.Minute},
		{"garbage", time.Minute},
	}

	for _, tc := range testCases {
		actual := AsDuration(NewStaticValue(common.DeviceTTLKey, tc.value), time.Minute)
		if actual != tc.expected {
			t.Errorf("AsDuration(%q) = %v, expected %v", tc.value, actual, tc.expected)
		}
	}
}

func TestBaseConfigFallsBackToDefaults(t *testing.T) {
	cfg := NewBaseConfig(nil)
	cfg.Add(NewStaticValue(common.MaxDevicesKey, "5"))

	if v := AsInt(cfg.Get(common.MaxDevicesKey), 0); v != 5 {
		t.Errorf("Unexpected max devices: %v", v)
	}

	if v := cfg.Get(common.FingerprintStrategyKey).Value(); v != "balanced" {
		t.Errorf("Unexpected default strategy: %v", v)
	}

	if addr := RedisAddress(context.TODO(), NewStaticValue(common.RedisAddrKey, "cache")); addr != "cache:6379" {
		t.Errorf("Unexpected redis address: %v", addr)
	}
}

func TestEnvConfigReadsEnvironment(t *testing.T) {
	t.Setenv("GATE_MAX_DEVICES", "7")
	t.Setenv("GATE_CORS_ORIGINS", "https://a.example, https://b.example")

	envMap, err := common.NewEnvMap("")
	if err != nil {
		t.Fatal(err)
	}

	cfg := NewEnvConfig(envMap)

	if v := AsInt(cfg.Get(common.MaxDevicesKey), 3); v != 7 {
		t.Errorf("Unexpected max devices: %v", v)
	}

	if origins := AsList(cfg.Get(common.CORSOriginsKey)); len(origins) != 2 || origins[1] != "https://b.example" {
		t.Errorf("Unexpected origins: %v", origins)
	}

	if v := cfg.Get(common.StoreKey).Value(); v != "memory" {
		t.Errorf("Unexpected default store: %v", v)
	}
}
