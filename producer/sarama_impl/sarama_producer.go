package sarama_impl

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/kkiling/kafka-client/kafkaerr"
	"github.com/kkiling/kafka-client/producer"
	"github.com/kkiling/kafka-client/topicconf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Cfg struct {
	BootstrapServers []string `yaml:"bootstrap_servers" mapstructure:"bootstrap_servers"`
	ClientId         string   `yaml:"client_id" mapstructure:"client_id"`
	Version          string   `yaml:"version" mapstructure:"version" default:"2.8.0"`
	// all | leader | none
	RequiredAcks string `yaml:"required_acks" mapstructure:"required_acks" default:"all"`
	// none | gzip | snappy | lz4 | zstd
	Compression string `yaml:"compression" mapstructure:"compression" default:"none"`
}

func (c *Cfg) applyDefaults() {
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
}

func (c Cfg) validate() error {
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("sarama producer: brokers required")
	}
	return nil
}

func buildSaramaConfig(c Cfg) (*sarama.Config, error) {
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("sarama producer: invalid Version %q: %w", c.Version, err)
	}

	sc := sarama.NewConfig()
	sc.Version = version
	if c.ClientId != "" {
		sc.ClientID = c.ClientId
	}

	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("sarama producer: invalid RequiredAcks %q", c.RequiredAcks)
	}

	switch strings.ToLower(c.Compression) {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("sarama producer: invalid Compression %q", c.Compression)
	}

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = newPartitioner
	return sc, nil
}

// envelope метаданные исходящего сообщения
type envelope struct {
	opaque     interface{}
	unassigned bool
}

// partitioner уважает явную партицию, для PartitionUnassigned хеширует ключ
type partitioner struct {
	hash sarama.Partitioner
}

func newPartitioner(topic string) sarama.Partitioner {
	return &partitioner{hash: sarama.NewHashPartitioner(topic)}
}

func (p *partitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if env, ok := msg.Metadata.(*envelope); ok && env.unassigned {
		return p.hash.Partition(msg, numPartitions)
	}
	if msg.Partition < 0 || msg.Partition >= numPartitions {
		return -1, sarama.ErrInvalidPartition
	}
	return msg.Partition, nil
}

func (p *partitioner) RequiresConsistency() bool {
	return true
}

type SaramaProducer struct {
	producer   sarama.AsyncProducer
	onDelivery producer.DeliveryHandler
	inflight   int64
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

func NewProducer(cfg Cfg, onDelivery producer.DeliveryHandler) (*SaramaProducer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	p, err := sarama.NewAsyncProducer(cfg.BootstrapServers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return newSaramaProducer(p, onDelivery), nil
}

func newSaramaProducer(p sarama.AsyncProducer, onDelivery producer.DeliveryHandler) *SaramaProducer {
	s := &SaramaProducer{producer: p, onDelivery: onDelivery}
	s.wg.Add(2)
	go s.successes()
	go s.failures()
	return s
}

func (s *SaramaProducer) report(d producer.Delivery) {
	atomic.AddInt64(&s.inflight, -1)
	if s.onDelivery != nil {
		s.onDelivery(d)
	}
}

func opaqueOf(m *sarama.ProducerMessage) interface{} {
	if env, ok := m.Metadata.(*envelope); ok {
		return env.opaque
	}
	return nil
}

func (s *SaramaProducer) successes() {
	defer s.wg.Done()
	for m := range s.producer.Successes() {
		s.report(producer.Delivery{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Opaque:    opaqueOf(m),
		})
	}
}

func (s *SaramaProducer) failures() {
	defer s.wg.Done()
	for perr := range s.producer.Errors() {
		d := producer.Delivery{Error: translateError(perr.Err)}
		if perr.Msg != nil {
			d.Topic = perr.Msg.Topic
			d.Partition = perr.Msg.Partition
			d.Offset = perr.Msg.Offset
			d.Opaque = opaqueOf(perr.Msg)
		}
		log.Error().Err(d.Error).Interface("opaque", d.Opaque).Msg("delivery failed")
		s.report(d)
	}
}

func (s *SaramaProducer) NewTopic(name string, conf topicconf.Config) (producer.Topic, error) {
	if name == "" {
		return nil, errors.New("topic name is empty")
	}
	if len(conf) > 0 {
		log.Warn().Str("topic", name).Strs("options", conf.Keys()).
			Msg("sarama has no topic level configuration, options ignored")
	}
	return &saramaTopic{name: name, parent: s}, nil
}

// Flush ждет отчетов по всем отправленным сообщениям не дольше timeout.
func (s *SaramaProducer) Flush(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	for {
		left := atomic.LoadInt64(&s.inflight)
		if left <= 0 || !time.Now().Before(deadline) {
			return int(left)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *SaramaProducer) Close() error {
	s.closeOnce.Do(func() {
		s.producer.AsyncClose()
		s.wg.Wait()
	})
	return nil
}

type saramaTopic struct {
	name   string
	parent *SaramaProducer
}

func (t *saramaTopic) Name() string {
	return t.name
}

func (t *saramaTopic) Produce(msg *producer.Message) error {
	pm := &sarama.ProducerMessage{
		Topic:     t.name,
		Partition: msg.Partition,
		Value:     sarama.ByteEncoder(msg.Value),
		Timestamp: msg.Time(),
		Metadata: &envelope{
			opaque:     msg.Opaque,
			unassigned: msg.Partition == producer.PartitionUnassigned,
		},
	}
	if msg.Key != nil {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}
	for _, h := range msg.SortedHeaders() {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value})
	}

	atomic.AddInt64(&t.parent.inflight, 1)
	t.parent.producer.Input() <- pm
	return nil
}

func translateError(err error) *kafkaerr.BrokerError {
	var kerr sarama.KError
	if errors.As(err, &kerr) {
		return kafkaerr.MakeBrokerErr(kafkaerr.Code(kerr), kerr.Error())
	}
	if err == nil {
		return kafkaerr.MakeBrokerErr(kafkaerr.CodeUnknown, "unknown producer error")
	}
	return kafkaerr.MakeBrokerErr(kafkaerr.CodeUnknown, err.Error())
}
