package database

import "time"

// Connection pool sizing for the cache workload: many short readers, and
// writers limited to one orchestrator group at a time.
const (
	defaultMaxOpenConns    = 8
	defaultMaxIdleConns    = 4
	defaultConnMaxLifetime = 30 * time.Minute
	defaultBusyTimeout     = 5 * time.Second
	defaultPageCacheKiB    = 32 * 1024
)

// Config controls how the SQLite file is opened.
type Config struct {
	DBPath string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration
	// PageCacheKiB sizes SQLite's page cache per connection.
	PageCacheKiB int
	// ReadOnly opens the file with mode=ro and skips migrations.
	ReadOnly bool
}

// NewConfig returns a read-write configuration for dbPath with default pool settings.
func NewConfig(dbPath string) *Config {
	return &Config{
		DBPath:          dbPath,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		BusyTimeout:     defaultBusyTimeout,
		PageCacheKiB:    defaultPageCacheKiB,
	}
}
