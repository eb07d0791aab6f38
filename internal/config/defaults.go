package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultManagerPort         = 5038
	DefaultDialTimeout         = 10 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultBannerTimeout       = 5 * time.Second
	DefaultActionTimeout       = 10 * time.Second
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 60 * time.Second
	DefaultEventBuffer         = 1024
	DefaultBusBacklog          = 256
	DefaultBusRetryBudget      = 3
	DefaultReconcileInterval   = 60 * time.Second
	DefaultReconcileTimeout    = 15 * time.Second
	DefaultServerHost          = "0.0.0.0"
	DefaultServerPort          = 8080
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultMirrorBatchSize     = 200
	DefaultMirrorFlushInterval = 2 * time.Second
	DefaultRedisStream         = "queue-stats:events"
	DefaultRedisMaxLen         = 100000
)

func (c *DaemonConfig) applyDefaults() {
	// Manager defaults
	if c.Manager.Port == 0 {
		c.Manager.Port = DefaultManagerPort
	}
	if c.Manager.DialTimeout == 0 {
		c.Manager.DialTimeout = DefaultDialTimeout
	}
	if c.Manager.WriteTimeout == 0 {
		c.Manager.WriteTimeout = DefaultWriteTimeout
	}
	if c.Manager.BannerTimeout == 0 {
		c.Manager.BannerTimeout = DefaultBannerTimeout
	}
	if c.Manager.ActionTimeout == 0 {
		c.Manager.ActionTimeout = DefaultActionTimeout
	}
	if c.Manager.Reconnect.BaseDelay == 0 {
		c.Manager.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Manager.Reconnect.MaxDelay == 0 {
		c.Manager.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Manager.HaltOnAuthFailure == nil {
		halt := true
		c.Manager.HaltOnAuthFailure = &halt
	}
	if c.Manager.EventBuffer == 0 {
		c.Manager.EventBuffer = DefaultEventBuffer
	}

	// Bus defaults
	if c.Bus.Backlog == 0 {
		c.Bus.Backlog = DefaultBusBacklog
	}
	if c.Bus.RetryBudget == 0 {
		c.Bus.RetryBudget = DefaultBusRetryBudget
	}

	// State defaults
	if c.State.ReconcileInterval == 0 {
		c.State.ReconcileInterval = DefaultReconcileInterval
	}
	if c.State.ReconcileTimeout == 0 {
		c.State.ReconcileTimeout = DefaultReconcileTimeout
	}

	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}

	// Database defaults (only meaningful when enabled)
	if c.Database.Enabled() {
		applyDBDefaults(&c.Database)
	}

	// Mirror defaults
	if c.Mirror.BatchSize == 0 {
		c.Mirror.BatchSize = DefaultMirrorBatchSize
	}
	if c.Mirror.FlushInterval == 0 {
		c.Mirror.FlushInterval = DefaultMirrorFlushInterval
	}

	// Redis defaults (only meaningful when enabled)
	if c.Redis.Enabled() {
		if c.Redis.Stream == "" {
			c.Redis.Stream = DefaultRedisStream
		}
		if c.Redis.MaxLen == 0 {
			c.Redis.MaxLen = DefaultRedisMaxLen
		}
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
