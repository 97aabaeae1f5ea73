package config

import "time"

const (
	// Acceptance SLA
	DefaultHandoffTimeout = 60 * time.Second
	CountdownTick         = 1 * time.Second

	// Duplicate suppression
	DedupBucket        = 5 * time.Second
	DedupMaxEntries    = 50
	DedupTrimTo        = 25
	DedupConversations = 10000

	// Admin projections
	AdminSessionListLimit   = 50
	DefaultNotificationPoll = 3 * time.Second
	DefaultSweepInterval    = 10 * time.Second
	DefaultHistoryRetention = 30 * 24 * time.Hour

	MaxMessageLength        = 4000
	MaxInitialMessageLength = 2000
)

// WebSocket timings
const (
	WSWriteWait      = 10 * time.Second
	WSPongWait       = 60 * time.Second
	WSPingPeriod     = (WSPongWait * 9) / 10
	WSMaxMessageSize = 8192
	WSSendBuffer     = 256
)

// HTTP server timeouts
const (
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// Redis channel used to relay handoff events between server instances.
const RelayChannel = "handoff:events"

// Relay subscription retry
const (
	RelayRetryMinInterval = 500 * time.Millisecond
	RelayRetryMaxInterval = 30 * time.Second
)

const RedisDedupPrefix = "handoff:dedup:"
