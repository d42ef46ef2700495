package sarama_impl

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/kkiling/kafka-client/consumer"
	"github.com/kkiling/kafka-client/kafkaerr"
	"github.com/kkiling/kafka-client/topicconf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Cfg struct {
	BootstrapServers []string `yaml:"bootstrap_servers" mapstructure:"bootstrap_servers"`
	// Без группы OffsetStored читается с AutoOffsetReset
	GroupId  string `yaml:"group_id" mapstructure:"group_id"`
	ClientId string `yaml:"client_id" mapstructure:"client_id"`
	Version  string `yaml:"version" mapstructure:"version" default:"2.8.0"`
	// earliest | latest
	AutoOffsetReset   string `yaml:"auto_offset_reset" mapstructure:"auto_offset_reset" default:"earliest"`
	DisableAutoCommit bool   `yaml:"disable_auto_commit" mapstructure:"disable_auto_commit"`
}

func (c *Cfg) applyDefaults() {
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = "earliest"
	}
}

func (c Cfg) validate() error {
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("sarama consumer: brokers required")
	}
	return nil
}

func buildSaramaConfig(cfg Cfg) (*sarama.Config, error) {
	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("sarama consumer: invalid Version %q: %w", cfg.Version, err)
	}

	sc := sarama.NewConfig()
	sc.Version = version
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = !cfg.DisableAutoCommit
	if cfg.ClientId != "" {
		sc.ClientID = cfg.ClientId
	}

	switch strings.ToLower(cfg.AutoOffsetReset) {
	case "earliest", "smallest", "beginning":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	case "latest", "largest", "end":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		return nil, fmt.Errorf("sarama consumer: invalid AutoOffsetReset %q", cfg.AutoOffsetReset)
	}
	return sc, nil
}

// offsetSource разрешает логические смещения в реальные (sarama.Client)
type offsetSource interface {
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
}

type SaramaConsumer struct {
	consumer sarama.Consumer
	offsets  offsetSource
	// nil, если группа не задана
	offsetManager sarama.OffsetManager
	client        sarama.Client
	initial       int64

	mu sync.Mutex
	// Закрывается по завершении коммита, запущенного Flush
	committing chan struct{}
}

func NewConsumer(cfg Cfg) (*SaramaConsumer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.BootstrapServers, sc)
	if err != nil {
		return nil, fmt.Errorf("sarama consumer: new client: %w", err)
	}
	c, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var om sarama.OffsetManager
	if cfg.GroupId != "" {
		om, err = sarama.NewOffsetManagerFromClient(cfg.GroupId, client)
		if err != nil {
			_ = c.Close()
			_ = client.Close()
			return nil, fmt.Errorf("failed to create offset manager: %w", err)
		}
	}

	sarCons := newSaramaConsumer(c, client, om, sc.Consumer.Offsets.Initial)
	sarCons.client = client
	return sarCons, nil
}

func newSaramaConsumer(c sarama.Consumer, offsets offsetSource, om sarama.OffsetManager, initial int64) *SaramaConsumer {
	return &SaramaConsumer{
		consumer:      c,
		offsets:       offsets,
		offsetManager: om,
		initial:       initial,
	}
}

func (s *SaramaConsumer) NewTopic(name string, conf topicconf.Config) (consumer.Topic, error) {
	if name == "" {
		return nil, errors.New("topic name is empty")
	}
	if len(conf) > 0 {
		log.Warn().Str("topic", name).Strs("options", conf.Keys()).
			Msg("sarama has no topic level configuration, options ignored")
	}
	return &saramaTopic{
		name:    name,
		parent:  s,
		cursors: make(map[int32]*cursor),
	}, nil
}

// Flush коммитит отмеченные смещения группы, ожидая не дольше timeout.
func (s *SaramaConsumer) Flush(timeout time.Duration) error {
	if s.offsetManager == nil {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	s.mu.Lock()
	pending := s.committing
	s.mu.Unlock()
	if pending != nil {
		// прошлый коммит еще идет
		select {
		case <-pending:
		case <-timer.C:
			return kafkaerr.MakeBrokerErr(kafkaerr.CodeTimedOut, "flush timed out")
		}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.committing = done
	s.mu.Unlock()
	go func() {
		defer close(done)
		s.offsetManager.Commit()
	}()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return kafkaerr.MakeBrokerErr(kafkaerr.CodeTimedOut, "flush timed out")
	}
}

// waitCommit дожидается коммита, начатого Flush.
func (s *SaramaConsumer) waitCommit() {
	s.mu.Lock()
	pending := s.committing
	s.mu.Unlock()
	if pending != nil {
		<-pending
	}
}

func (s *SaramaConsumer) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.waitCommit()
	if s.offsetManager != nil {
		keep(s.offsetManager.Close())
	}
	keep(s.consumer.Close())
	if s.client != nil && !s.client.Closed() {
		keep(s.client.Close())
	}
	return firstErr
}

type cursor struct {
	pc  sarama.PartitionConsumer
	pom sarama.PartitionOffsetManager
	// Следующее ожидаемое смещение
	next int64
}

type saramaTopic struct {
	name   string
	parent *SaramaConsumer

	mu      sync.Mutex
	cursors map[int32]*cursor
}

func (t *saramaTopic) Name() string {
	return t.name
}

func (t *saramaTopic) resolve(partition int32, offset int64) (int64, sarama.PartitionOffsetManager, error) {
	var pom sarama.PartitionOffsetManager
	if offset == consumer.OffsetStored {
		offset = t.parent.initial
		if t.parent.offsetManager != nil {
			var err error
			pom, err = t.parent.offsetManager.ManagePartition(t.name, partition)
			if err != nil {
				return 0, nil, err
			}
			offset, _ = pom.NextOffset()
		}
	}
	if offset >= 0 {
		return offset, pom, nil
	}

	// OffsetOldest и OffsetNewest у sarama совпадают с OffsetBeginning и OffsetEnd
	resolved, err := t.parent.offsets.GetOffset(t.name, partition, offset)
	if err != nil {
		if pom != nil {
			_ = pom.Close()
		}
		return 0, nil, err
	}
	return resolved, pom, nil
}

func (t *saramaTopic) ConsumeStart(partition int32, offset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.cursors[partition]; ok {
		return errors.Errorf("%s[%d] already consuming", t.name, partition)
	}

	start, pom, err := t.resolve(partition, offset)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve offset %d for %s[%d]", offset, t.name, partition)
	}
	pc, err := t.parent.consumer.ConsumePartition(t.name, partition, start)
	if err != nil {
		if pom != nil {
			_ = pom.Close()
		}
		return errors.Wrapf(err, "failed to start consume %s[%d]", t.name, partition)
	}

	t.cursors[partition] = &cursor{pc: pc, pom: pom, next: start}
	log.Debug().Msgf("consume start - %s[%d] at %d", t.name, partition, start)
	return nil
}

func (t *saramaTopic) ConsumeStop(partition int32) error {
	t.mu.Lock()
	cur, ok := t.cursors[partition]
	delete(t.cursors, partition)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	err := cur.pc.Close()
	if cur.pom != nil {
		if pomErr := cur.pom.Close(); err == nil {
			err = pomErr
		}
	}
	log.Debug().Msgf("consume stop - %s[%d]", t.name, partition)
	if err != nil {
		return errors.Wrapf(err, "failed to stop consume %s[%d]", t.name, partition)
	}
	return nil
}

// Consume конец партиции определяется по high water mark. Если хвост
// партиции занят контрольными записями транзакций, конец отдается только
// по истечении timeout.
func (t *saramaTopic) Consume(partition int32, timeout time.Duration) (*consumer.Record, error) {
	t.mu.Lock()
	cur, ok := t.cursors[partition]
	t.mu.Unlock()
	if !ok {
		return nil, kafkaerr.MakeBrokerErr(kafkaerr.CodeUnknownPart, "partition is not started").
			WithPartition(t.name, partition)
	}

	hwm, err := t.parent.offsets.GetOffset(t.name, partition, sarama.OffsetNewest)
	if err != nil {
		return nil, translateError(err).WithPartition(t.name, partition)
	}
	if cur.next >= hwm {
		select {
		case m, ok := <-cur.pc.Messages():
			if ok {
				return t.record(cur, m), nil
			}
		default:
		}
		return nil, kafkaerr.MakeBrokerErr(kafkaerr.CodePartitionEOF, "Broker: No more messages").
			WithPartition(t.name, partition)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m, ok := <-cur.pc.Messages():
		if !ok {
			return nil, kafkaerr.MakeBrokerErr(kafkaerr.CodeUnknown, "partition consumer closed").
				WithPartition(t.name, partition)
		}
		return t.record(cur, m), nil
	case cerr, ok := <-cur.pc.Errors():
		if !ok || cerr == nil {
			return nil, kafkaerr.MakeBrokerErr(kafkaerr.CodeUnknown, "partition consumer closed").
				WithPartition(t.name, partition)
		}
		return nil, translateError(cerr.Err).WithPartition(t.name, partition)
	case <-timer.C:
	}

	select {
	case m, ok := <-cur.pc.Messages():
		if ok {
			return t.record(cur, m), nil
		}
	default:
	}
	// Хвост партиции может состоять из контрольных записей транзакций,
	// которые не доходят до Messages: если fetch уже ответил до hwm,
	// читать больше нечего
	if cur.pc.HighWaterMarkOffset() >= hwm {
		return nil, kafkaerr.MakeBrokerErr(kafkaerr.CodePartitionEOF, "Broker: No more messages").
			WithPartition(t.name, partition)
	}
	return nil, kafkaerr.MakeBrokerErr(kafkaerr.CodeTimedOut, "Local: Timed out").
		WithPartition(t.name, partition)
}

func (t *saramaTopic) record(cur *cursor, m *sarama.ConsumerMessage) *consumer.Record {
	cur.next = m.Offset + 1
	if cur.pom != nil {
		cur.pom.MarkOffset(cur.next, "")
	}
	log.Debug().Msgf("consume message - %s[%d]: %d", t.name, m.Partition, m.Offset)

	var headers map[string][]byte
	if len(m.Headers) > 0 {
		headers = make(map[string][]byte, len(m.Headers))
		for _, h := range m.Headers {
			if h != nil {
				headers[string(h.Key)] = h.Value
			}
		}
	}
	return &consumer.Record{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Timestamp: m.Timestamp,
		Native:    m,
	}
}

func translateError(err error) *kafkaerr.BrokerError {
	var kerr sarama.KError
	if errors.As(err, &kerr) {
		return kafkaerr.MakeBrokerErr(kafkaerr.Code(kerr), kerr.Error())
	}
	return kafkaerr.MakeBrokerErr(kafkaerr.CodeUnknown, err.Error())
}
