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
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	CleanupJobInterval  = 5 * time.Minute
	TypingSweepInterval = time.Second
)

// Presence rows untouched for this long are dropped by the cleanup job.
const PresenceRetention = 90 * 24 * time.Hour

// WebSocket connection settings
const (
	SendBufferSize     = 64
	WriteTimeout       = 10 * time.Second
	HeartbeatGrace     = 10 * time.Second
	MaxClientFrameSize = 64 * 1024
)

// Default rate limiting
const (
	DefaultRateLimitPerMin  = 60
	InitiateRateLimitPerMin = 10
)
