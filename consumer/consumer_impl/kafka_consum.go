package consumer_impl

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/kkiling/kafka-client/consumer"
	"github.com/kkiling/kafka-client/kafkaerr"
	"github.com/kkiling/kafka-client/topicconf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Cfg struct {
	BootstrapServers []string `yaml:"bootstrap_servers" mapstructure:"bootstrap_servers"`
	GroupId          string   `yaml:"group_id" mapstructure:"group_id"`
	ClientId         string   `yaml:"client_id" mapstructure:"client_id"`
	// Откуда читать, если у группы нет сохраненного смещения
	AutoOffsetReset string `yaml:"auto_offset_reset" mapstructure:"auto_offset_reset" default:"earliest"`
	// Отключить auto commit. Сессия сама смещения не коммитит
	DisableAutoCommit bool `yaml:"disable_auto_commit" mapstructure:"disable_auto_commit"`
	// Дополнительные свойства librdkafka
	Extra map[string]interface{} `yaml:"extra" mapstructure:"extra"`
}

// librdkafkaConsumer часть *kafka.Consumer, которой пользуется адаптер
type librdkafkaConsumer interface {
	IncrementalAssign(partitions []kafka.TopicPartition) error
	IncrementalUnassign(partitions []kafka.TopicPartition) error
	Poll(timeoutMs int) kafka.Event
	Commit() ([]kafka.TopicPartition, error)
	Close() error
}

type KafkaConsumer struct {
	consumer librdkafkaConsumer
	// Топиковые свойства, с которыми создан клиент
	topicConf topicconf.Config

	mu sync.Mutex
	// Закрывается по завершении коммита, запущенного Flush
	committing chan struct{}
}

func buildConfigMap(cfg Cfg, topicDefaults topicconf.Config) (*kafka.ConfigMap, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, fmt.Errorf("bootstrap servers required")
	}
	if cfg.GroupId == "" {
		return nil, fmt.Errorf("group id required")
	}
	reset := cfg.AutoOffsetReset
	if reset == "" {
		reset = "earliest"
	}

	conf := kafka.ConfigMap{
		"bootstrap.servers":    strings.Join(cfg.BootstrapServers, ","),
		"group.id":             cfg.GroupId,
		"enable.auto.commit":   !cfg.DisableAutoCommit,
		"enable.partition.eof": true,
		"auto.offset.reset":    reset,
	}
	if cfg.ClientId != "" {
		conf["client.id"] = cfg.ClientId
	}
	for k, v := range cfg.Extra {
		if err := conf.SetKey(k, v); err != nil {
			return nil, errors.Wrapf(err, "fail set %s", k)
		}
	}
	// librdkafka принимает топиковые свойства в глобальном конфиге
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

func NewConsumer(cfg Cfg, topicDefaults topicconf.Config) (*KafkaConsumer, error) {
	conf, err := buildConfigMap(cfg, topicDefaults)
	if err != nil {
		return nil, fmt.Errorf("invalid consumer config: %w", err)
	}

	c, err := kafka.NewConsumer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return newKafkaConsumer(c, topicDefaults), nil
}

func newKafkaConsumer(c librdkafkaConsumer, topicDefaults topicconf.Config) *KafkaConsumer {
	return &KafkaConsumer{
		consumer:  c,
		topicConf: topicDefaults.Clone(),
	}
}

func (k *KafkaConsumer) NewTopic(name string, conf topicconf.Config) (consumer.Topic, error) {
	if name == "" {
		return nil, errors.New("topic name is empty")
	}
	for _, key := range conf.Keys() {
		if applied, ok := k.topicConf[key]; !ok || fmt.Sprint(applied) != fmt.Sprint(conf[key]) {
			// Go-обертка librdkafka не дает отдельного хендла топика
			log.Warn().Str("topic", name).Str("option", key).
				Msg("topic option differs from consumer config and can not be applied after creation")
		}
	}
	return &kafkaTopic{name: name, consumer: k.consumer}, nil
}

// Flush коммитит сохраненные смещения, ожидая не дольше timeout.
// Незавершенный коммит дожидается Close.
func (k *KafkaConsumer) Flush(timeout time.Duration) error {
	k.mu.Lock()
	pending := k.committing
	k.mu.Unlock()
	if pending != nil {
		// прошлый коммит еще идет
		select {
		case <-pending:
		case <-time.After(timeout):
			return kafkaerr.MakeBrokerErr(kafkaerr.CodeTimedOut, "flush timed out")
		}
	}

	finished := make(chan struct{})
	done := make(chan error, 1)
	k.mu.Lock()
	k.committing = finished
	k.mu.Unlock()
	go func() {
		defer close(finished)
		done <- k.commit()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return kafkaerr.MakeBrokerErr(kafkaerr.CodeTimedOut, "flush timed out")
	}
}

func (k *KafkaConsumer) commit() error {
	log.Debug().Msg("start commit")
	tps, err := k.consumer.Commit()

	if ke, ok := err.(kafka.Error); ok {
		if ke.Code() == kafka.ErrNoOffset {
			log.Debug().Err(err).Msgf("error no offset")
			return nil
		}
		return translateError(ke)
	} else if err != nil {
		return err
	}

	for _, tp := range tps {
		log.Debug().Msgf("commit %s[%d]: %d", topicName(tp), tp.Partition, tp.Offset)
	}
	return nil
}

// Close ждет коммит, начатый Flush: он ограничен таймаутом запроса librdkafka.
func (k *KafkaConsumer) Close() error {
	k.mu.Lock()
	pending := k.committing
	k.mu.Unlock()
	if pending != nil {
		<-pending
	}
	return k.consumer.Close()
}

type kafkaTopic struct {
	name     string
	consumer librdkafkaConsumer
}

func (t *kafkaTopic) Name() string {
	return t.name
}

func (t *kafkaTopic) partition(partition int32, offset kafka.Offset) []kafka.TopicPartition {
	return []kafka.TopicPartition{{Topic: &t.name, Partition: partition, Offset: offset}}
}

func (t *kafkaTopic) ConsumeStart(partition int32, offset int64) error {
	if err := t.consumer.IncrementalAssign(t.partition(partition, kafka.Offset(offset))); err != nil {
		return errors.Wrapf(err, "failed to start consume %s[%d]", t.name, partition)
	}
	log.Debug().Msgf("consume start - %s[%d] at %d", t.name, partition, offset)
	return nil
}

func (t *kafkaTopic) ConsumeStop(partition int32) error {
	if err := t.consumer.IncrementalUnassign(t.partition(partition, kafka.OffsetInvalid)); err != nil {
		return errors.Wrapf(err, "failed to stop consume %s[%d]", t.name, partition)
	}
	log.Debug().Msgf("consume stop - %s[%d]", t.name, partition)
	return nil
}

func (t *kafkaTopic) owns(tp kafka.TopicPartition, partition int32) bool {
	return topicName(tp) == t.name && tp.Partition == partition
}

func (t *kafkaTopic) Consume(partition int32, timeout time.Duration) (*consumer.Record, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, kafkaerr.MakeBrokerErr(kafkaerr.CodeTimedOut, "Local: Timed out").
				WithPartition(t.name, partition)
		}

		// Poll(0) не блокирует
		pollMs := int(remaining.Milliseconds())
		if pollMs < 1 {
			pollMs = 1
		}
		switch ev := t.consumer.Poll(pollMs).(type) {
		case nil:
			continue
		case *kafka.Message:
			if !t.owns(ev.TopicPartition, partition) {
				log.Debug().Msgf("skip message from %s[%d]", topicName(ev.TopicPartition), ev.TopicPartition.Partition)
				continue
			}
			if ev.TopicPartition.Error != nil {
				return nil, translateError(ev.TopicPartition.Error).WithPartition(t.name, partition)
			}
			log.Debug().Msgf("consume message - %s[%d]: %d", t.name, partition, ev.TopicPartition.Offset)
			return toRecord(ev), nil
		case kafka.PartitionEOF:
			if t.owns(kafka.TopicPartition(ev), partition) {
				return nil, kafkaerr.MakeBrokerErr(kafkaerr.CodePartitionEOF, "Broker: No more messages").
					WithPartition(t.name, partition)
			}
		case kafka.Error:
			return nil, translateError(ev).WithPartition(t.name, partition)
		default:
			log.Debug().Msgf("ignore event %v", ev)
		}
	}
}

func toRecord(m *kafka.Message) *consumer.Record {
	var headers map[string][]byte
	if len(m.Headers) > 0 {
		headers = make(map[string][]byte, len(m.Headers))
		for _, h := range m.Headers {
			headers[h.Key] = h.Value
		}
	}
	return &consumer.Record{
		Topic:     topicName(m.TopicPartition),
		Partition: m.TopicPartition.Partition,
		Offset:    int64(m.TopicPartition.Offset),
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Timestamp: m.Timestamp,
		Native:    m,
	}
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
