package producer_impl

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/kkiling/kafka-client/kafkaerr"
	"github.com/kkiling/kafka-client/producer"
	"github.com/kkiling/kafka-client/topicconf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Cfg struct {
	BootstrapServers []string `yaml:"bootstrap_servers" mapstructure:"bootstrap_servers"`
	ClientId         string   `yaml:"client_id" mapstructure:"client_id"`
	// Таймаут flush при переполнении локальной очереди
	FlushTimeoutMs int `yaml:"flush_timeout_ms" mapstructure:"flush_timeout_ms" default:"5000"`
	// Дополнительные свойства librdkafka
	Extra map[string]interface{} `yaml:"extra" mapstructure:"extra"`
}

// librdkafkaProducer часть *kafka.Producer, которой пользуется адаптер
type librdkafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

type Producer struct {
	flushTimeoutMs int
	producer       librdkafkaProducer
	topicConf      topicconf.Config
	onDelivery     producer.DeliveryHandler
	wg             sync.WaitGroup
}

func buildConfigMap(cfg Cfg, topicDefaults topicconf.Config) (*kafka.ConfigMap, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, fmt.Errorf("bootstrap servers required")
	}

	conf := kafka.ConfigMap{
		"bootstrap.servers":            strings.Join(cfg.BootstrapServers, ","),
		"acks":                         "all",
		"queue.buffering.max.kbytes":   1024 * 1024,
		"queue.buffering.max.messages": 1000000,
	}
	if cfg.ClientId != "" {
		conf["client.id"] = cfg.ClientId
	}
	for k, v := range cfg.Extra {
		if err := conf.SetKey(k, v); err != nil {
			return nil, errors.Wrapf(err, "fail set %s", k)
		}
	}
	for k, v := range topicDefaults {
		if k == "" {
			continue
		}
		if err := conf.SetKey(k, v); err != nil {
			return nil, errors.Wrapf(err, "fail set topic option %s", k)
		}
	}
	return &conf, nil
}

// NewProducer onDelivery может быть nil, тогда неудачные доставки только логируются.
func NewProducer(cfg Cfg, topicDefaults topicconf.Config, onDelivery producer.DeliveryHandler) (*Producer, error) {
	conf, err := buildConfigMap(cfg, topicDefaults)
	if err != nil {
		return nil, fmt.Errorf("invalid producer config: %w", err)
	}

	p, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return newProducer(p, cfg.FlushTimeoutMs, topicDefaults, onDelivery), nil
}

func newProducer(p librdkafkaProducer, flushTimeoutMs int, topicDefaults topicconf.Config,
	onDelivery producer.DeliveryHandler) *Producer {
	if flushTimeoutMs <= 0 {
		flushTimeoutMs = 5000
	}
	k := &Producer{
		producer:       p,
		flushTimeoutMs: flushTimeoutMs,
		topicConf:      topicDefaults.Clone(),
		onDelivery:     onDelivery,
	}
	k.wg.Add(1)
	go k.deliveryReports()
	return k
}

// deliveryReports вычитывает Events до закрытия продюсера
func (k *Producer) deliveryReports() {
	defer k.wg.Done()
	for ev := range k.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			d := producer.Delivery{
				Topic:     topicName(e.TopicPartition),
				Partition: e.TopicPartition.Partition,
				Offset:    int64(e.TopicPartition.Offset),
				Opaque:    e.Opaque,
			}
			if e.TopicPartition.Error != nil {
				d.Error = translateError(e.TopicPartition.Error).WithPartition(d.Topic, d.Partition)
				log.Error().Err(d.Error).Interface("opaque", d.Opaque).Msg("delivery failed")
			}
			if k.onDelivery != nil {
				k.onDelivery(d)
			}
		case kafka.Error:
			log.Error().Err(e).Msg("kafka producer error")
		}
	}
}

func (k *Producer) NewTopic(name string, conf topicconf.Config) (producer.Topic, error) {
	if name == "" {
		return nil, errors.New("topic name is empty")
	}
	for _, key := range conf.Keys() {
		if applied, ok := k.topicConf[key]; !ok || fmt.Sprint(applied) != fmt.Sprint(conf[key]) {
			log.Warn().Str("topic", name).Str("option", key).
				Msg("topic option differs from producer config and can not be applied after creation")
		}
	}
	return &kafkaTopic{name: name, parent: k}, nil
}

func (k *Producer) Flush(timeout time.Duration) int {
	return k.producer.Flush(int(timeout.Milliseconds()))
}

func (k *Producer) Close() error {
	k.producer.Close()
	k.wg.Wait()
	return nil
}

// Shutdown ждет доставки всех сообщений (не дольше FlushTimeoutMs) и закрывает
// продюсер. Для использования продюсера без client.Client: сессия клиента
// сама вызывает Flush со своим таймаутом и Close.
func (k *Producer) Shutdown() error {
	if left := k.producer.Flush(k.flushTimeoutMs); left > 0 {
		log.Warn().Msgf("outstanding events still un-flushed: %d", left)
	}
	return k.Close()
}

type kafkaTopic struct {
	name   string
	parent *Producer
}

func (t *kafkaTopic) Name() string {
	return t.name
}

func (t *kafkaTopic) Produce(msg *producer.Message) error {
	var headers []kafka.Header
	for _, h := range msg.SortedHeaders() {
		headers = append(headers, kafka.Header{Key: h.Key, Value: h.Value})
	}

	err := t.parent.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &t.name, Partition: msg.Partition},
		Value:          msg.Value,
		Key:            msg.Key,
		Headers:        headers,
		Timestamp:      msg.Time(),
		Opaque:         msg.Opaque,
	}, nil)

	if kafkaError, ok := err.(kafka.Error); ok && kafkaError.Code() == kafka.ErrQueueFull &&
		msg.Flags&producer.MsgFlagBlock != 0 {
		log.Warn().Err(err).Msg("kafka local queue full error - Going to Flush then retry...")
		flushedMessages := t.parent.producer.Flush(t.parent.flushTimeoutMs)
		log.Info().Msgf("flushed kafka messages. Outstanding events still un-flushed: %d", flushedMessages)
		return t.Produce(msg)
	}

	if err != nil {
		return translateError(err).WithPartition(t.name, msg.Partition)
	}
	return nil
}

func translateError(err error) *kafkaerr.BrokerError {
	if ke, ok := err.(kafka.Error); ok {
		return kafkaerr.MakeBrokerErr(kafkaerr.Code(ke.Code()), ke.String())
	}
	return kafkaerr.MakeBrokerErr(kafkaerr.CodeUnknown, err.Error())
}

func topicName(tp kafka.TopicPartition) string {
	if tp.Topic == nil {
		return ""
	}
	return *tp.Topic
}
