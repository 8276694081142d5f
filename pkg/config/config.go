package config

import (
	"context"
	"log/slog"
	"sync"

	"github.com/devicegate/devicegate/pkg/common"
)

var envNames = map[common.ConfigKey]string{
	common.StageKey:               "STAGE",
	common.VerboseKey:             "VERBOSE",
	common.HostKey:                "GATE_HOST",
	common.PortKey:                "GATE_PORT",
	common.LocalAddressKey:        "GATE_LOCAL_ADDRESS",
	common.SecretKey:              "GATE_SECRET",
	common.MaxDevicesKey:          "GATE_MAX_DEVICES",
	common.ConflictURLKey:         "GATE_CONFLICT_URL",
	common.DownloadsURLKey:        "GATE_DOWNLOADS_URL",
	common.DownloadsTTLKey:        "GATE_DOWNLOADS_TTL",
	common.FingerprintStrategyKey: "GATE_FINGERPRINT_STRATEGY",
	common.DeviceIDHeaderKey:      "GATE_DEVICE_ID_HEADER",
	common.DeviceTTLKey:           "GATE_DEVICE_TTL",
	common.ConcurrencyKey:         "GATE_CONCURRENCY",
	common.CASRetriesKey:          "GATE_CAS_RETRIES",
	common.ValidateZoneFirstKey:   "GATE_VALIDATE_ZONE_FIRST",
	common.TransferModeKey:        "GATE_TRANSFER_MODE",
	common.TransferTTLKey:         "GATE_TRANSFER_TTL",
	common.StoreKey:               "GATE_STORE",
	common.RedisAddrKey:           "REDIS_ADDR",
	common.RedisPasswordKey:       "REDIS_PASSWORD",
	common.RedisDBKey:             "REDIS_DB",
	common.PostgresURLKey:         "GATE_POSTGRES_URL",
	common.ClickHouseHostKey:      "GATE_CLICKHOUSE_HOST",
	common.ClickHouseDBKey:        "GATE_CLICKHOUSE_DB",
	common.ClickHouseUserKey:      "GATE_CLICKHOUSE_USER",
	common.ClickHousePasswordKey:  "GATE_CLICKHOUSE_PASSWORD",
	common.RateLimitHeaderKey:     "RATE_LIMIT_HEADER",
	common.LeakyBucketBurstKey:    "GATE_LEAKY_BUCKET_BURST",
	common.LeakyBucketRateKey:     "GATE_LEAKY_BUCKET_RPS",
	common.CORSOriginsKey:         "GATE_CORS_ORIGINS",
	common.HealthCheckIntervalKey: "HEALTHCHECK",
	common.SupportURLKey:          "GATE_SUPPORT_URL",
}

var defaults = map[common.ConfigKey]string{
	common.HostKey:                "localhost",
	common.PortKey:                "8080",
	common.MaxDevicesKey:          "3",
	common.DownloadsTTLKey:        "5m",
	common.FingerprintStrategyKey: "balanced",
	common.ConcurrencyKey:         "cas",
	common.CASRetriesKey:          "5",
	common.TransferModeKey:        "redirect",
	common.TransferTTLKey:         "10m",
	common.StoreKey:               "memory",
	common.RedisAddrKey:           "localhost:6379",
	common.ClickHouseDBKey:        "devicegate",
	common.LeakyBucketBurstKey:    "20",
	common.LeakyBucketRateKey:     "2",
}

// EnvName returns the environment variable behind the key
func EnvName(key common.ConfigKey) string {
	return envNames[key]
}

type envConfigItem struct {
	key   common.ConfigKey
	name  string
	value string
}

var _ common.ConfigItem = (*envConfigItem)(nil)

func (ci *envConfigItem) Key() common.ConfigKey {
	return ci.key
}

func (ci *envConfigItem) Value() string {
	return ci.value
}

type envConfig struct {
	lock   sync.RWMutex
	envMap *common.EnvMap
	items  map[common.ConfigKey]*envConfigItem
}

var _ common.ConfigStore = (*envConfig)(nil)

func NewEnvConfig(envMap *common.EnvMap) *envConfig {
	c := &envConfig{
		envMap: envMap,
		items:  make(map[common.ConfigKey]*envConfigItem, len(envNames)),
	}

	c.load()

	return c
}

func (c *envConfig) load() {
	c.lock.Lock()
	defer c.lock.Unlock()

	for key, name := range envNames {
		value, ok := c.envMap.GetEx(name)
		if !ok {
			value = defaults[key]
		}

		c.items[key] = &envConfigItem{key: key, name: name, value: value}
	}
}

func (c *envConfig) Get(key common.ConfigKey) common.ConfigItem {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if item, ok := c.items[key]; ok {
		return item
	}

	return &envConfigItem{key: key}
}

func (c *envConfig) Update(ctx context.Context) {
	if err := c.envMap.Update(); err != nil {
		slog.ErrorContext(ctx, "Failed to update environment", common.ErrAttr(err))
		return
	}

	c.load()
	slog.DebugContext(ctx, "Reloaded configuration", "count", len(envNames))
}
