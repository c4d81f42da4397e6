package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "complyforge", cfg.Service.Name)
	assert.Equal(t, "memory", cfg.Transport.Kind)
	assert.Equal(t, "memory", cfg.Storage.Kind)
	assert.Equal(t, time.Minute, cfg.Monitor.SweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.Monitor.JobTTL)
	assert.Equal(t, ":8080", cfg.API.Addr)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
service:
  name: orchestrator-eu
  log_level: debug
transport:
  kind: kafka
  kafka:
    brokers: ["kafka-0:9092", "kafka-1:9092"]
    topic_prefix: "prod.analysis."
storage:
  kind: postgres
  dsn: "postgres://orchestrator@db/analysis"
monitor:
  sweep_interval: 30s
  job_ttl: 15m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "orchestrator-eu", cfg.Service.Name)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, []string{"kafka-0:9092", "kafka-1:9092"}, cfg.Transport.Kafka.Brokers)
	assert.Equal(t, "prod.analysis.", cfg.Transport.Kafka.TopicPrefix)
	assert.Equal(t, "postgres", cfg.Storage.Kind)
	assert.Equal(t, 30*time.Second, cfg.Monitor.SweepInterval)
	assert.Equal(t, 15*time.Minute, cfg.Monitor.JobTTL)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("COMPLYFORGE_TRANSPORT_KIND", "redis")
	t.Setenv("COMPLYFORGE_TRANSPORT_REDIS_ADDR", "redis-0:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Transport.Kind)
	assert.Equal(t, "redis-0:6379", cfg.Transport.Redis.Addr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown transport kind",
			content: `
transport:
  kind: rabbitmq
`,
		},
		{
			name: "kafka without brokers",
			content: `
transport:
  kind: kafka
`,
		},
		{
			name: "postgres without dsn",
			content: `
storage:
  kind: postgres
`,
		},
		{
			name: "invalid log level",
			content: `
service:
  log_level: verbose
`,
		},
		{
			name: "zero job ttl",
			content: `
monitor:
  job_ttl: 0s
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
