package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFeedURL           = "wss://feed.marketboard.local/ws"
	DefaultReconnectBaseWait = 1 * time.Second
	DefaultReconnectMaxWait  = 60 * time.Second

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultListingsCapacity  = 1024
	DefaultSalesCapacity     = 512
	DefaultRetainersCapacity = 64
	DefaultAlertsCapacity    = 128
	DefaultUndercutsCapacity = 128

	DefaultSaleWindow = 6

	DefaultResyncInterval    = 15 * time.Minute
	DefaultResyncConcurrency = 8
	DefaultResyncTimeout     = 30 * time.Second

	DefaultTravelSameDatacenter = 100
	DefaultTravelCrossDC        = 500

	DefaultHTTPPort = 8080

	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28
)

func (c *Config) applyDefaults() {
	// Feed defaults
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.ReconnectBaseWait == 0 {
		c.Feed.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.Feed.ReconnectMaxWait == 0 {
		c.Feed.ReconnectMaxWait = DefaultReconnectMaxWait
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Bus defaults
	if c.Bus.ListingsCapacity == 0 {
		c.Bus.ListingsCapacity = DefaultListingsCapacity
	}
	if c.Bus.SalesCapacity == 0 {
		c.Bus.SalesCapacity = DefaultSalesCapacity
	}
	if c.Bus.RetainersCapacity == 0 {
		c.Bus.RetainersCapacity = DefaultRetainersCapacity
	}
	if c.Bus.AlertsCapacity == 0 {
		c.Bus.AlertsCapacity = DefaultAlertsCapacity
	}
	if c.Bus.UndercutsCapacity == 0 {
		c.Bus.UndercutsCapacity = DefaultUndercutsCapacity
	}

	// Cache defaults
	if c.Cache.SaleWindow == 0 {
		c.Cache.SaleWindow = DefaultSaleWindow
	}

	// Resync defaults
	if c.Resync.Interval == 0 {
		c.Resync.Interval = DefaultResyncInterval
	}
	if c.Resync.Concurrency == 0 {
		c.Resync.Concurrency = DefaultResyncConcurrency
	}
	if c.Resync.Timeout == 0 {
		c.Resync.Timeout = DefaultResyncTimeout
	}

	// Travel defaults; same-world travel is free unless configured.
	if c.Travel.SameDatacenter == 0 {
		c.Travel.SameDatacenter = DefaultTravelSameDatacenter
	}
	if c.Travel.CrossDC == 0 {
		c.Travel.CrossDC = DefaultTravelCrossDC
	}

	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
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
