package producer

import (
	"sort"
	"time"

	"github.com/kkiling/kafka-client/topicconf"
)

// PartitionUnassigned партицию выбирает партиционер библиотеки
const PartitionUnassigned int32 = -1

// Флаги сообщения, биты совпадают с RD_KAFKA_MSG_F_*.
const (
	MsgFlagFree  = 0x1
	MsgFlagCopy  = 0x2
	MsgFlagBlock = 0x4
)

type Header struct {
	Key   string
	Value []byte
}

// Message исходящее сообщение со всеми метаданными.
type Message struct {
	Partition int32
	Flags     int
	Value     []byte
	Key       []byte
	Headers   map[string][]byte
	// Timestamp в миллисекундах, 0 - проставит брокер
	Timestamp int64
	// Opaque токен вызывающего, передается без изменений в отчет о доставке
	Opaque interface{}
}

// Time время сообщения или нулевое значение, если его назначит брокер.
func (m *Message) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// SortedHeaders заголовки в детерминированном порядке.
func (m *Message) SortedHeaders() []Header {
	if len(m.Headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, Header{Key: k, Value: m.Headers[k]})
	}
	return headers
}

// Delivery отчет о доставке одного сообщения.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
	Opaque    interface{}
	Error     error
}

// DeliveryHandler вызывается из горутины адаптера для каждого отчета.
type DeliveryHandler func(d Delivery)

// Producer producer-возможности клиента брокера.
type Producer interface {
	NewTopic(name string, conf topicconf.Config) (Topic, error)
	// Flush ждет отправки буфера не дольше timeout, возвращает число неотправленных
	Flush(timeout time.Duration) int
	Close() error
}

type Topic interface {
	Name() string
	// Produce асинхронная отправка, подтверждение брокера не ожидается
	Produce(msg *Message) error
}
