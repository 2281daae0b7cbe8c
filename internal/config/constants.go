package config

// Constants defining default values for application configuration
const (
	DefaultDBPath = "./feedcache.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultScorerURL     = "http://localhost:9000/v1/score"
	DefaultScorerTimeout = 60 // Seconds per scorer invocation
	DefaultScorerLimit   = 100

	DefaultGroupSize         = 5
	DefaultBatchDelaySeconds = 2
	DefaultCacheTTLMinutes   = 360

	DefaultMinValidRows    = 5
	DefaultStaleBatchLimit = 50

	DefaultInterval  = 30 // Minutes between sweep runs, 0 for one-shot
	DefaultSweepMode = SweepModeStale

	DefaultAdminRateLimit = 10 // Admin requests per minute per IP

	DefaultLogLevel = "info"
)

// Sweep modes understood by the periodic sweep loop.
const (
	SweepModeStale = "stale"
	SweepModeAll   = "all"
)
