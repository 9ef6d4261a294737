package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 5 * time.Minute
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Login attempt policy
const (
	MaxLoginAttempts   = 5
	TokenLogPrefix     = 20
	RecordWriteTimeout = 5 * time.Second
)

// Background job intervals
const (
	RetentionJobInterval = time.Hour
	RunLockTTL           = 15 * time.Minute
)
