package common

import "context"

type ConfigKey int

const (
	StageKey ConfigKey = iota
	VerboseKey
	HostKey
	PortKey
	LocalAddressKey
	SecretKey
	MaxDevicesKey
	ConflictURLKey
	DownloadsURLKey
	DownloadsTTLKey
	FingerprintStrategyKey
	DeviceIDHeaderKey
	DeviceTTLKey
	ConcurrencyKey
	CASRetriesKey
	ValidateZoneFirstKey
	TransferModeKey
	TransferTTLKey
	StoreKey
	RedisAddrKey
	RedisPasswordKey
	RedisDBKey
	PostgresURLKey
	ClickHouseHostKey
	ClickHouseDBKey
	ClickHouseUserKey
	ClickHousePasswordKey
	RateLimitHeaderKey
	LeakyBucketBurstKey
	LeakyBucketRateKey
	CORSOriginsKey
	HealthCheckIntervalKey
	SupportURLKey
	// Add new fields _above_
	COMMON_CONFIG_KEYS_COUNT
)

type ConfigItem interface {
	Key() ConfigKey
	Value() string
}

type ConfigStore interface {
	Get(key ConfigKey) ConfigItem
	Update(ctx context.Context)
}
