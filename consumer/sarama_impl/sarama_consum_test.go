package sarama_impl

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/kkiling/kafka-client/consumer"
	"github.com/kkiling/kafka-client/kafkaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOffsets отдает фиксированные oldest/newest для любой партиции
type fakeOffsets struct {
	oldest, newest int64
}

func (f fakeOffsets) GetOffset(_ string, _ int32, t int64) (int64, error) {
	if t == sarama.OffsetOldest {
		return f.oldest, nil
	}
	return f.newest, nil
}

func testConfig() *sarama.Config {
	cfg := mocks.NewTestConfig()
	cfg.Consumer.Return.Errors = true
	return cfg
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Cfg{}
	cfg.applyDefaults()
	assert.Equal(t, "2.8.0", cfg.Version)
	assert.Equal(t, "earliest", cfg.AutoOffsetReset)
	assert.Error(t, cfg.validate())

	cfg.BootstrapServers = []string{"b:9092"}
	require.NoError(t, cfg.validate())

	sc, err := buildSaramaConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, sarama.OffsetOldest, sc.Consumer.Offsets.Initial)
	assert.True(t, sc.Consumer.Offsets.AutoCommit.Enable)

	cfg.AutoOffsetReset = "LATEST"
	sc, err = buildSaramaConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, sarama.OffsetNewest, sc.Consumer.Offsets.Initial)

	cfg.AutoOffsetReset = "bogus"
	_, err = buildSaramaConfig(cfg)
	assert.Error(t, err)

	cfg.AutoOffsetReset = "earliest"
	cfg.Version = "not-a-version"
	_, err = buildSaramaConfig(cfg)
	assert.Error(t, err)
}

func TestConsumeUntilEndOfPartition(t *testing.T) {
	mc := mocks.NewConsumer(t, testConfig())
	mc.ExpectConsumePartition("orders", 0, 0).
		YieldMessage(&sarama.ConsumerMessage{Offset: 0, Value: []byte("first")}).
		YieldMessage(&sarama.ConsumerMessage{Offset: 1, Value: []byte("second"), Key: []byte("k")})

	c := newSaramaConsumer(mc, fakeOffsets{oldest: 0, newest: 2}, nil, sarama.OffsetOldest)
	top, err := c.NewTopic("orders", nil)
	require.NoError(t, err)
	require.NoError(t, top.ConsumeStart(0, consumer.OffsetBeginning))
	assert.Error(t, top.ConsumeStart(0, consumer.OffsetBeginning))

	rec, err := top.Consume(0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), rec.Value)
	assert.IsType(t, &sarama.ConsumerMessage{}, rec.Native)

	rec, err = top.Consume(0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), rec.Value)
	assert.Equal(t, []byte("k"), rec.Key)

	_, err = top.Consume(0, time.Second)
	assert.Equal(t, kafkaerr.CodePartitionEOF, kafkaerr.CodeOf(err))

	require.NoError(t, top.ConsumeStop(0))
	require.NoError(t, top.ConsumeStop(0))
}

func TestConsumeStoredWithoutGroupUsesInitial(t *testing.T) {
	mc := mocks.NewConsumer(t, testConfig())
	mc.ExpectConsumePartition("orders", 3, 10)

	c := newSaramaConsumer(mc, fakeOffsets{oldest: 4, newest: 10}, nil, sarama.OffsetNewest)
	top, err := c.NewTopic("orders", nil)
	require.NoError(t, err)
	require.NoError(t, top.ConsumeStart(3, consumer.OffsetStored))

	_, err = top.Consume(3, time.Second)
	assert.Equal(t, kafkaerr.CodePartitionEOF, kafkaerr.CodeOf(err))
	require.NoError(t, top.ConsumeStop(3))
}

func TestConsumeTimeoutAndError(t *testing.T) {
	mc := mocks.NewConsumer(t, testConfig())
	pc := mc.ExpectConsumePartition("orders", 0, 5)

	c := newSaramaConsumer(mc, fakeOffsets{oldest: 0, newest: 9}, nil, sarama.OffsetOldest)
	top, err := c.NewTopic("orders", nil)
	require.NoError(t, err)
	require.NoError(t, top.ConsumeStart(0, 5))

	_, err = top.Consume(0, 20*time.Millisecond)
	assert.Equal(t, kafkaerr.CodeTimedOut, kafkaerr.CodeOf(err))

	pc.YieldError(sarama.ErrNotLeaderForPartition)
	_, err = top.Consume(0, time.Second)
	be, ok := kafkaerr.AsBrokerError(err)
	require.True(t, ok)
	assert.Equal(t, kafkaerr.Code(sarama.ErrNotLeaderForPartition), be.Code)
	assert.Equal(t, "orders", be.Topic)
}

func TestConsumeNotStarted(t *testing.T) {
	c := newSaramaConsumer(mocks.NewConsumer(t, testConfig()), fakeOffsets{}, nil, sarama.OffsetOldest)
	top, err := c.NewTopic("orders", nil)
	require.NoError(t, err)

	_, err = top.Consume(0, time.Millisecond)
	assert.Equal(t, kafkaerr.CodeUnknownPart, kafkaerr.CodeOf(err))
}

func TestFlushAndCloseWithoutGroup(t *testing.T) {
	c := newSaramaConsumer(mocks.NewConsumer(t, testConfig()), fakeOffsets{}, nil, sarama.OffsetOldest)

	assert.NoError(t, c.Flush(time.Millisecond))
	assert.NoError(t, c.Close())
}

// markerConsumer отдает партиции, чей fetch уже дошел до hwm
type markerConsumer struct {
	sarama.Consumer
	hwm int64
}

func (m markerConsumer) ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	pc, err := m.Consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return markerPartition{PartitionConsumer: pc, hwm: m.hwm}, nil
}

type markerPartition struct {
	sarama.PartitionConsumer
	hwm int64
}

func (p markerPartition) HighWaterMarkOffset() int64 {
	return p.hwm
}

func TestConsumeEndsAfterControlRecord(t *testing.T) {
	mc := mocks.NewConsumer(t, testConfig())
	// смещение 2 занято контрольной записью и не доставляется
	mc.ExpectConsumePartition("orders", 0, 0).
		YieldMessage(&sarama.ConsumerMessage{Value: []byte("first")}).
		YieldMessage(&sarama.ConsumerMessage{Value: []byte("second")})

	c := newSaramaConsumer(markerConsumer{Consumer: mc, hwm: 3}, fakeOffsets{oldest: 0, newest: 3}, nil, sarama.OffsetOldest)
	top, err := c.NewTopic("orders", nil)
	require.NoError(t, err)
	require.NoError(t, top.ConsumeStart(0, consumer.OffsetBeginning))

	for _, want := range []string{"first", "second"} {
		rec, err := top.Consume(0, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []byte(want), rec.Value)
	}

	_, err = top.Consume(0, 20*time.Millisecond)
	assert.Equal(t, kafkaerr.CodePartitionEOF, kafkaerr.CodeOf(err))
	require.NoError(t, top.ConsumeStop(0))
}

// slowOffsetManager коммитит дольше таймаута flush
type slowOffsetManager struct {
	wait             time.Duration
	closed           atomic.Bool
	commitAfterClose atomic.Bool
}

func (m *slowOffsetManager) ManagePartition(string, int32) (sarama.PartitionOffsetManager, error) {
	return nil, sarama.ErrOutOfBrokers
}

func (m *slowOffsetManager) Commit() {
	time.Sleep(m.wait)
	if m.closed.Load() {
		m.commitAfterClose.Store(true)
	}
}

func (m *slowOffsetManager) Close() error {
	m.closed.Store(true)
	return nil
}

func TestCloseWaitsForTimedOutFlush(t *testing.T) {
	om := &slowOffsetManager{wait: 100 * time.Millisecond}
	c := newSaramaConsumer(mocks.NewConsumer(t, testConfig()), fakeOffsets{}, om, sarama.OffsetOldest)

	err := c.Flush(10 * time.Millisecond)
	assert.Equal(t, kafkaerr.CodeTimedOut, kafkaerr.CodeOf(err))

	require.NoError(t, c.Close())
	assert.True(t, om.closed.Load())
	assert.False(t, om.commitAfterClose.Load(), "commit finished on a closed offset manager")
}
