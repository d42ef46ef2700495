package backend

import (
	"testing"

	"github.com/kkiling/kafka-client/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Backend: config.BackendConfluent,
		Kafka: config.KafkaConfig{
			Brokers:           []string{"k1:9092"},
			GroupId:           "g",
			ClientId:          "c",
			AutoOffsetReset:   "Latest",
			DisableAutoCommit: true,
			Version:           "3.0.0",
			RequiredAcks:      "LEADER",
			Compression:       "zstd",
			FlushTimeoutMs:    700,
			Extra:             []string{"socket.timeout.ms=100"},
		},
	}
}

func TestConsumerCfg(t *testing.T) {
	cfg := testConfig()

	cc := ConfluentConsumerCfg(cfg)
	assert.Equal(t, []string{"k1:9092"}, cc.BootstrapServers)
	assert.Equal(t, "g", cc.GroupId)
	assert.Equal(t, "latest", cc.AutoOffsetReset)
	assert.True(t, cc.DisableAutoCommit)
	assert.Equal(t, map[string]interface{}{"socket.timeout.ms": "100"}, cc.Extra)

	sc := SaramaConsumerCfg(cfg)
	assert.Equal(t, "3.0.0", sc.Version)
	assert.Equal(t, "latest", sc.AutoOffsetReset)
	assert.Equal(t, "c", sc.ClientId)
}

func TestProducerCfg(t *testing.T) {
	cfg := testConfig()

	cp := ConfluentProducerCfg(cfg)
	assert.Equal(t, 700, cp.FlushTimeoutMs)
	assert.Equal(t, map[string]interface{}{"socket.timeout.ms": "100"}, cp.Extra)

	sp := SaramaProducerCfg(cfg)
	assert.Equal(t, "leader", sp.RequiredAcks)
	assert.Equal(t, "zstd", sp.Compression)
}

func TestUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = "redis"

	c, err := NewConsumer(cfg)
	require.Error(t, err)
	assert.Nil(t, c)

	p, err := NewProducer(cfg, nil)
	require.Error(t, err)
	assert.Nil(t, p)
}
