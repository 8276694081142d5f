package common

const (
	DownloadEndpoint = "download"
	TransferEndpoint = "dl"
	StatusEndpoint   = "status"
	ConflictEndpoint = "conflict"
	HealthEndpoint   = "health"
	LiveEndpoint     = "live"
	MetricsEndpoint  = "metrics"
)
