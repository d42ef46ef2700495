package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kafkacli.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendConfluent, cfg.Backend)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "earliest", cfg.Kafka.AutoOffsetReset)
	assert.Equal(t, 5000, cfg.Kafka.FlushTimeoutMs)
	assert.Equal(t, time.Second, cfg.Session.Timeout)
	assert.Equal(t, time.Second, cfg.Session.FlushTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Follow.InitialInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Nil(t, cfg.TopicDefaults())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
backend: sarama
kafka:
  brokers: ["k1:9092", "k2:9092"]
  group_id: readers
  required_acks: leader
  extra:
    - "socket.timeout.ms=100"
session:
  timeout: 250ms
  topic:
    - "auto.commit.interval.ms=500"
logging:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendSarama, cfg.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "readers", cfg.Kafka.GroupId)
	assert.Equal(t, "leader", cfg.Kafka.RequiredAcks)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.Timeout)
	assert.Equal(t, map[string]interface{}{"socket.timeout.ms": "100"}, cfg.KafkaExtra())
	assert.Equal(t, map[string]interface{}{"auto.commit.interval.ms": "500"}, cfg.TopicDefaults())
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KAFKACLI_BACKEND", "sarama")
	t.Setenv("KAFKACLI_KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("KAFKACLI_SESSION_FLUSH_TIMEOUT", "3s")
	t.Setenv("KAFKACLI_LOGGING_PRETTY", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendSarama, cfg.Backend)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3*time.Second, cfg.Session.FlushTimeout)
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "backend", body: "backend: redis", want: "backend must be one of"},
		{name: "acks", body: "kafka:\n  required_acks: some", want: "kafka.required_acks"},
		{name: "offset reset", body: "kafka:\n  auto_offset_reset: middle", want: "kafka.auto_offset_reset"},
		{name: "timeout", body: "session:\n  timeout: 0s", want: "session.timeout must be > 0"},
		{name: "extra", body: "kafka:\n  extra: [\"novalue\"]", want: "kafka.extra"},
		{name: "topic", body: "session:\n  topic: [\"=1\"]", want: "session.topic"},
		{name: "log level", body: "logging:\n  level: loud", want: "logging.level"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeFile(t, c.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParsePairs(t *testing.T) {
	got, err := ParsePairs([]string{"a=1", " b = 2 ", "a=3", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": "3", "b": "2", "c": ""}, got)

	got, err = ParsePairs(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParsePairs([]string{"a"})
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.Dump()
	require.NoError(t, err)

	assert.Contains(t, string(out), "backend: confluent")
	assert.Contains(t, string(out), "timeout: 1s")
	assert.Contains(t, string(out), "- localhost:9092")
}
