package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix namespaces the environment overrides, e.g.
// COMPLYFORGE_TRANSPORT_KIND=redis.
const envPrefix = "COMPLYFORGE"

// Load reads configuration from the YAML file at path (optional; pass "" to
// rely on defaults and environment only), overlays environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "complyforge")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("transport.kind", "memory")
	v.SetDefault("transport.kafka.topic_prefix", "analysis.")
	v.SetDefault("transport.kafka.group_id", "orchestrator")
	v.SetDefault("transport.kafka.client_id", "complyforge-orchestrator")
	v.SetDefault("transport.redis.addr", "localhost:6379")
	v.SetDefault("transport.redis.stream_prefix", "analysis.")
	v.SetDefault("transport.redis.group", "orchestrator")
	v.SetDefault("transport.redis.consumer", "complyforge-orchestrator")
	v.SetDefault("transport.redis.block_timeout", 5*time.Second)
	v.SetDefault("transport.redis.claim_min_idle", time.Minute)

	v.SetDefault("storage.kind", "memory")

	v.SetDefault("monitor.sweep_interval", time.Minute)
	v.SetDefault("monitor.job_ttl", 10*time.Minute)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.read_timeout", 5*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)
	v.SetDefault("api.shutdown_timeout", 20*time.Second)
}

func validate(cfg *Config) error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", verrs.Error())
		}
		return fmt.Errorf("validate config: %w", err)
	}

	// Cross-field constraints validator tags cannot express.
	if cfg.Transport.Kind == "kafka" && len(cfg.Transport.Kafka.Brokers) == 0 {
		return errors.New("invalid configuration: transport.kafka.brokers is required for the kafka transport")
	}
	return nil
}
