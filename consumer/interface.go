package consumer

import (
	"time"

	"github.com/kkiling/kafka-client/topicconf"
)

// Логические смещения, значения совпадают с librdkafka.
const (
	OffsetBeginning int64 = -2
	OffsetEnd       int64 = -1
	// OffsetStored продолжить с сохраненного (закоммиченного) смещения группы
	OffsetStored int64 = -1000
)

// Record одна полученная запись.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Timestamp time.Time
	// Native исходное сообщение библиотеки брокера (*kafka.Message, *sarama.ConsumerMessage)
	Native interface{}
}

// Consumer consumer-возможности клиента брокера.
type Consumer interface {
	NewTopic(name string, conf topicconf.Config) (Topic, error)
	// Flush ограниченный по времени сброс состояния (коммит смещений)
	Flush(timeout time.Duration) error
	Close() error
}

// Topic привязка к одному топику.
//
// Consume возвращает запись либо *kafkaerr.BrokerError. Конец партиции
// сообщается кодом kafkaerr.CodePartitionEOF, истечение таймаута -
// kafkaerr.CodeTimedOut.
type Topic interface {
	Name() string
	ConsumeStart(partition int32, offset int64) error
	Consume(partition int32, timeout time.Duration) (*Record, error)
	ConsumeStop(partition int32) error
}
