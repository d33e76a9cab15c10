package config

import "time"

// Relay definition relay_service YAML structure
type Relay struct {
	Port           string        `mapstructure:"port"`
	NodeID         string        `mapstructure:"node_id"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	OutboundQueue  int           `mapstructure:"outbound_queue"`
	RedeliverOnReg bool          `mapstructure:"redeliver_on_register"`
	EnablePprof    bool          `mapstructure:"pprof"`

	Presence     PresenceConfig     `mapstructure:"presence"`
	MessageStore MessageStoreConfig `mapstructure:"message_store"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Events       EventsConfig       `mapstructure:"events"`
	Bridge       BridgeConfig       `mapstructure:"bridge"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Health       ServiceConfig      `mapstructure:"health"`
	Worker       WorkerConfig       `mapstructure:"worker"`
}

// PresenceConfig definition presence store setting
type PresenceConfig struct {
	// Backend "redis" or "memory"
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// MessageStoreConfig definition message store setting
type MessageStoreConfig struct {
	// Backend "mongo", "postgres", "sqlite" or "memory"
	Backend  string         `mapstructure:"backend"`
	Mongo    DatabaseConfig `mapstructure:"mongo"`
	Postgres DatabaseConfig `mapstructure:"pg"`
	SQLite   string         `mapstructure:"sqlite_path"`
}

// DirectoryConfig definition user directory lookup
type DirectoryConfig struct {
	// Backend "postgres", "mysql" or "" (disabled)
	Backend  string         `mapstructure:"backend"`
	Database DatabaseConfig `mapstructure:"db"`
}

// EventsConfig definition lifecycle event sink
type EventsConfig struct {
	// Sink "kafka", "rabbitmq", "nats" or "" (disabled)
	Sink          string   `mapstructure:"sink"`
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	URL           string   `mapstructure:"url"`
	RetryCount    int      `mapstructure:"retry_count"`
	RetryInterval int      `mapstructure:"retry_interval"`
}

// BridgeConfig definition cross node relay
type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"channel_prefix"`
}

// AuthConfig definition token check on websocket upgrade
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Secret  string `mapstructure:"secret"`
}

// WorkerConfig definition best-effort worker pool
type WorkerConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// ServiceConfig definition service port & name
type ServiceConfig struct {
	Port string `mapstructure:"service_port"`
	Name string `mapstructure:"service_name"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	RedisDB int `mapstructure:"redis_db"`
	// Addr 直連用；為空時走 sentinel
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// ApplyDefaults fill zero values with the relay defaults
func (c *Relay) ApplyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = 64
	}
	if c.Presence.TTL <= 0 {
		c.Presence.TTL = 15 * time.Second
	}
	if c.Presence.SweepInterval <= 0 {
		c.Presence.SweepInterval = 5 * time.Second
	}
	if c.Presence.KeyPrefix == "" {
		c.Presence.KeyPrefix = "presence:"
	}
	if c.Bridge.Prefix == "" {
		c.Bridge.Prefix = "relay:user:"
	}
	if c.Worker.Workers <= 0 {
		c.Worker.Workers = 4
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = 1024
	}
}
