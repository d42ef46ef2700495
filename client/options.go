package client

import (
	"time"

	"github.com/kkiling/kafka-client/consumer"
	"github.com/kkiling/kafka-client/producer"
	"github.com/kkiling/kafka-client/topicconf"
)

const (
	DefaultTimeout      = 1000 * time.Millisecond
	DefaultFlushTimeout = 1000 * time.Millisecond
)

// callOptions набор опций одного вызова. Каждая операция читает только свои ключи.
type callOptions struct {
	partition    int32
	offset       *int64
	timeout      time.Duration
	topicOptions topicconf.Config
	flags        int
	key          []byte
	headers      map[string][]byte
	timestamp    int64
	opaque       interface{}
}

type CallOption func(*callOptions)

// WithPartition целевая партиция, по умолчанию 0.
func WithPartition(partition int32) CallOption {
	return func(o *callOptions) { o.partition = partition }
}

// WithOffset начальное смещение чтения, по умолчанию consumer.OffsetStored.
func WithOffset(offset int64) CallOption {
	return func(o *callOptions) { o.offset = &offset }
}

// WithTimeout максимальное ожидание одной записи, по умолчанию 1000 ms.
func WithTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = timeout }
}

// WithTopicOptions переопределения конфигурации топика на один вызов.
// Повторные вызовы объединяются, побеждает последнее значение.
func WithTopicOptions(options map[string]interface{}) CallOption {
	return func(o *callOptions) {
		if len(options) == 0 {
			return
		}
		if o.topicOptions == nil {
			o.topicOptions = make(topicconf.Config, len(options))
		}
		for k, v := range options {
			o.topicOptions[k] = v
		}
	}
}

// WithMessageFlags биты producer.MsgFlag*.
func WithMessageFlags(flags int) CallOption {
	return func(o *callOptions) { o.flags = flags }
}

func WithKey(key []byte) CallOption {
	return func(o *callOptions) { o.key = key }
}

func WithHeaders(headers map[string]string) CallOption {
	return func(o *callOptions) {
		if headers == nil {
			return
		}
		raw := make(map[string][]byte, len(headers))
		for k, v := range headers {
			raw[k] = []byte(v)
		}
		o.headers = raw
	}
}

func WithRawHeaders(headers map[string][]byte) CallOption {
	return func(o *callOptions) { o.headers = headers }
}

// WithHeaderList приводит список заголовков к отображению, повтор ключа
// перезаписывает предыдущее значение.
func WithHeaderList(headers []producer.Header) CallOption {
	return func(o *callOptions) {
		if headers == nil {
			return
		}
		raw := make(map[string][]byte, len(headers))
		for _, h := range headers {
			raw[h.Key] = h.Value
		}
		o.headers = raw
	}
}

// WithTimestamp время записи в миллисекундах, 0 - назначит брокер.
func WithTimestamp(ms int64) CallOption {
	return func(o *callOptions) { o.timestamp = ms }
}

// WithOpaque токен корреляции, передается библиотеке без изменений.
func WithOpaque(opaque interface{}) CallOption {
	return func(o *callOptions) { o.opaque = opaque }
}

func collect(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type ConsumeOptions struct {
	Partition    int32
	Offset       int64
	Timeout      time.Duration
	TopicOptions topicconf.Config
}

func NewConsumeOptions(opts ...CallOption) ConsumeOptions {
	o := collect(opts)
	res := ConsumeOptions{
		Partition:    o.partition,
		Offset:       consumer.OffsetStored,
		Timeout:      o.timeout,
		TopicOptions: o.topicOptions,
	}
	if o.offset != nil {
		res.Offset = *o.offset
	}
	if res.Timeout <= 0 {
		res.Timeout = DefaultTimeout
	}
	return res
}

type ProduceOptions struct {
	Partition    int32
	Flags        int
	Key          []byte
	Headers      map[string][]byte
	Timestamp    int64
	Opaque       interface{}
	TopicOptions topicconf.Config
}

func NewProduceOptions(opts ...CallOption) ProduceOptions {
	o := collect(opts)
	return ProduceOptions{
		Partition:    o.partition,
		Flags:        o.flags,
		Key:          o.key,
		Headers:      o.headers,
		Timestamp:    o.timestamp,
		Opaque:       o.opaque,
		TopicOptions: o.topicOptions,
	}
}

func (o ProduceOptions) message(payload []byte) *producer.Message {
	return &producer.Message{
		Partition: o.Partition,
		Flags:     o.Flags,
		Value:     payload,
		Key:       o.Key,
		Headers:   o.Headers,
		Timestamp: o.Timestamp,
		Opaque:    o.Opaque,
	}
}
