package client

import (
	"time"

	"github.com/kkiling/kafka-client/consumer"
)

// Message полученная запись. Неизменяема после создания.
type Message struct {
	record *consumer.Record
}

func newMessage(record *consumer.Record) *Message {
	return &Message{record: record}
}

func (m *Message) Payload() []byte {
	return m.record.Value
}

// Acknowledge ничего не делает: долговечность смещений обеспечивает
// auto commit клиента брокера.
func (m *Message) Acknowledge(interface{}) error {
	return nil
}

// Original исходная запись библиотеки брокера.
func (m *Message) Original() interface{} {
	return m.record.Native
}

func (m *Message) Topic() string {
	return m.record.Topic
}

func (m *Message) Partition() int32 {
	return m.record.Partition
}

func (m *Message) Offset() int64 {
	return m.record.Offset
}

func (m *Message) Key() []byte {
	return m.record.Key
}

func (m *Message) Headers() map[string][]byte {
	return m.record.Headers
}

func (m *Message) Timestamp() time.Time {
	return m.record.Timestamp
}
