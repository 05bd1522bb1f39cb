package config

import "time"

// Config is the root configuration for a marketboard instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Database DatabaseConfig `yaml:"database"`
	Bus      BusConfig      `yaml:"bus"`
	Cache    CacheConfig    `yaml:"cache"`
	Resync   ResyncConfig   `yaml:"resync"`
	Travel   TravelConfig   `yaml:"travel"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig holds the query/health server settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// InstanceConfig identifies this marketboard instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds upstream feed connection settings.
type FeedConfig struct {
	URL               string        `yaml:"url"`
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`
}

// DatabaseConfig holds the PostgreSQL connection for world metadata and
// market snapshots.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BusConfig holds per-topic subscription buffer sizes.
type BusConfig struct {
	ListingsCapacity  int `yaml:"listings_capacity"`
	SalesCapacity     int `yaml:"sales_capacity"`
	RetainersCapacity int `yaml:"retainers_capacity"`
	AlertsCapacity    int `yaml:"alerts_capacity"`
	UndercutsCapacity int `yaml:"undercuts_capacity"`
}

// CacheConfig holds market cache settings.
type CacheConfig struct {
	SaleWindow int `yaml:"sale_window"`
}

// ResyncConfig holds resync sweeper settings.
type ResyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TravelConfig holds the flat travel cost step function used by resale
// ranking, in gil.
type TravelConfig struct {
	SameWorld      int64 `yaml:"same_world"`
	SameDatacenter int64 `yaml:"same_datacenter"`
	CrossDC        int64 `yaml:"cross_datacenter"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json or text
	File       string `yaml:"file"`   // empty disables file output
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}
