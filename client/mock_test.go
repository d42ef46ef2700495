package client

import (
	"time"

	"github.com/kkiling/kafka-client/consumer"
	"github.com/kkiling/kafka-client/producer"
	"github.com/kkiling/kafka-client/topicconf"
	"github.com/stretchr/testify/mock"
)

type MockConsumer struct {
	mock.Mock
}

func (m *MockConsumer) NewTopic(name string, conf topicconf.Config) (consumer.Topic, error) {
	args := m.Called(name, conf)
	t, _ := args.Get(0).(consumer.Topic)
	return t, args.Error(1)
}

func (m *MockConsumer) Flush(timeout time.Duration) error {
	return m.Called(timeout).Error(0)
}

func (m *MockConsumer) Close() error {
	return m.Called().Error(0)
}

type MockConsumerTopic struct {
	mock.Mock
	name string
}

func (m *MockConsumerTopic) Name() string {
	return m.name
}

func (m *MockConsumerTopic) ConsumeStart(partition int32, offset int64) error {
	return m.Called(partition, offset).Error(0)
}

func (m *MockConsumerTopic) Consume(partition int32, timeout time.Duration) (*consumer.Record, error) {
	args := m.Called(partition, timeout)
	rec, _ := args.Get(0).(*consumer.Record)
	return rec, args.Error(1)
}

func (m *MockConsumerTopic) ConsumeStop(partition int32) error {
	return m.Called(partition).Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) NewTopic(name string, conf topicconf.Config) (producer.Topic, error) {
	args := m.Called(name, conf)
	t, _ := args.Get(0).(producer.Topic)
	return t, args.Error(1)
}

func (m *MockProducer) Flush(timeout time.Duration) int {
	return m.Called(timeout).Int(0)
}

func (m *MockProducer) Close() error {
	return m.Called().Error(0)
}

type MockProducerTopic struct {
	mock.Mock
	name string
}

func (m *MockProducerTopic) Name() string {
	return m.name
}

func (m *MockProducerTopic) Produce(msg *producer.Message) error {
	return m.Called(msg).Error(0)
}
