// Package config defines and loads the deployment configuration for the
// orchestrator and the API server. Values come from an optional YAML file
// overlaid with environment variables; validation happens once at load time
// so the rest of the system can trust the struct.
package config

import "time"

// Config is the top-level configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Transport TransportConfig `mapstructure:"transport"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	API       APIConfig       `mapstructure:"api"`
}

// ServiceConfig identifies the process and its logging behavior.
type ServiceConfig struct {
	// Name appears in logs and trace resource attributes.
	Name string `mapstructure:"name" validate:"required"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// TransportConfig selects and configures the event bus backend.
type TransportConfig struct {
	// Kind is one of kafka, redis, memory.
	Kind string `mapstructure:"kind" validate:"oneof=kafka redis memory"`

	Kafka KafkaConfig `mapstructure:"kafka"`
	Redis RedisConfig `mapstructure:"redis"`
}

// KafkaConfig configures the Kafka backend.
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	GroupID     string   `mapstructure:"group_id"`
	ClientID    string   `mapstructure:"client_id"`
}

// RedisConfig configures the Redis Streams backend.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	StreamPrefix string        `mapstructure:"stream_prefix"`
	Group        string        `mapstructure:"group"`
	Consumer     string        `mapstructure:"consumer"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
	ClaimMinIdle time.Duration `mapstructure:"claim_min_idle"`
}

// StorageConfig selects and configures the registry backend.
type StorageConfig struct {
	// Kind is one of postgres, memory.
	Kind string `mapstructure:"kind" validate:"oneof=postgres memory"`
	// DSN is the Postgres connection string, required for the postgres kind.
	DSN string `mapstructure:"dsn" validate:"required_if=Kind postgres"`
}

// MonitorConfig tunes the stale job monitor.
type MonitorConfig struct {
	// SweepInterval is how often the monitor scans for stale jobs.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	// JobTTL is how long a running job may go without an outcome before the
	// monitor fails it.
	JobTTL time.Duration `mapstructure:"job_ttl" validate:"gt=0"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}
