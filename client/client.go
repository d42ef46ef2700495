package client

import (
	"context"
	"time"

	"github.com/kkiling/kafka-client/consumer"
	"github.com/kkiling/kafka-client/kafkaerr"
	"github.com/kkiling/kafka-client/producer"
	"github.com/kkiling/kafka-client/topicconf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// session роль клиента: *consumerSession или *producerSession
type session interface {
	role() kafkaerr.Role
	shutdown(flushTimeout time.Duration)
}

// Client все время жизни либо consumer, либо producer. Операция чужой роли
// возвращает kafkaerr.RoleError без обращения к брокеру.
// Не безопасен для конкурентного использования.
type Client struct {
	session      session
	flushTimeout time.Duration
}

type Option func(*Client)

// WithFlushTimeout ограничение на flush при Shutdown, по умолчанию 1000 ms.
func WithFlushTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.flushTimeout = timeout
		}
	}
}

func newClient(opts []Option) *Client {
	c := &Client{flushTimeout: DefaultFlushTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitAsConsumer клиент в роли consumer. При nil хендле клиент остается
// неинициализированным.
func InitAsConsumer(handle consumer.Consumer, defaults topicconf.Config, opts ...Option) *Client {
	c := newClient(opts)
	if handle != nil {
		c.session = &consumerSession{handle: handle, defaults: defaults}
	}
	return c
}

// InitAsProducer клиент в роли producer. При nil хендле клиент остается
// неинициализированным.
func InitAsProducer(handle producer.Producer, defaults topicconf.Config, opts ...Option) *Client {
	c := newClient(opts)
	if handle != nil {
		c.session = &producerSession{handle: handle, defaults: defaults}
	}
	return c
}

func (c *Client) Role() kafkaerr.Role {
	if c.session == nil {
		return kafkaerr.RoleUninitialized
	}
	return c.session.role()
}

func (c *Client) asConsumer(op string) (*consumerSession, error) {
	if s, ok := c.session.(*consumerSession); ok {
		return s, nil
	}
	err := kafkaerr.MakeRoleErr(op, kafkaerr.RoleConsumer, c.Role())
	sessionErrors.WithLabelValues("", "role").Inc()
	return nil, err
}

func (c *Client) asProducer(op string) (*producerSession, error) {
	if s, ok := c.session.(*producerSession); ok {
		return s, nil
	}
	err := kafkaerr.MakeRoleErr(op, kafkaerr.RoleProducer, c.Role())
	sessionErrors.WithLabelValues("", "role").Inc()
	return nil, err
}

// GetMessage читает ровно одну запись и закрывает курсор партиции.
// Возвращает nil, nil при достижении конца партиции.
func (c *Client) GetMessage(ctx context.Context, topic string, opts ...CallOption) (*Message, error) {
	s, err := c.asConsumer("GetMessage")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := NewConsumeOptions(opts...)
	t, err := s.open(topic, o)
	if err != nil {
		return nil, err
	}

	msg, err := s.receiveOne(t, o.Partition, o.Timeout)
	if err != nil || msg == nil {
		// курсор уже закрыт
		return nil, err
	}
	s.stop(t, o.Partition)
	return msg, nil
}

// GetMessageIterator открывает курсор и возвращает итератор по записям.
func (c *Client) GetMessageIterator(ctx context.Context, topic string, opts ...CallOption) (*MessageIterator, error) {
	s, err := c.asConsumer("GetMessageIterator")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := NewConsumeOptions(opts...)
	t, err := s.open(topic, o)
	if err != nil {
		return nil, err
	}
	return newMessageIterator(ctx, s, t, o.Partition, o.Timeout), nil
}

// SendMessage асинхронно публикует payload. Подтверждение доставки, повторы
// и буферизация остаются на стороне библиотеки брокера.
func (c *Client) SendMessage(ctx context.Context, payload []byte, topic string, opts ...CallOption) error {
	s, err := c.asProducer("SendMessage")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.send(payload, topic, NewProduceOptions(opts...))
}

// Shutdown сбрасывает буферы (не дольше flush timeout) и освобождает хендл.
// Ошибки только логируются. После Shutdown клиент неинициализирован.
func (c *Client) Shutdown() error {
	if c.session == nil {
		return nil
	}
	c.session.shutdown(c.flushTimeout)
	c.session = nil
	return nil
}

type consumerSession struct {
	handle   consumer.Consumer
	defaults topicconf.Config
}

func (s *consumerSession) role() kafkaerr.Role {
	return kafkaerr.RoleConsumer
}

func (s *consumerSession) open(topic string, o ConsumeOptions) (consumer.Topic, error) {
	t, err := s.handle.NewTopic(topic, topicconf.Merge(s.defaults, o.TopicOptions))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create consumer topic %s", topic)
	}
	if err := t.ConsumeStart(o.Partition, o.Offset); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *consumerSession) stop(t consumer.Topic, partition int32) {
	if err := t.ConsumeStop(partition); err != nil {
		log.Warn().Err(err).Str("topic", t.Name()).Int32("partition", partition).Msg("consume stop failed")
	}
}

// receiveOne ждет следующую запись не дольше timeout. При любом исходе,
// кроме полученной записи, курсор партиции закрывается.
func (s *consumerSession) receiveOne(t consumer.Topic, partition int32, timeout time.Duration) (*Message, error) {
	start := time.Now()
	rec, err := t.Consume(partition, timeout)
	receiveLatency.WithLabelValues(t.Name()).Observe(time.Since(start).Seconds())

	if err == nil && rec != nil {
		messagesConsumed.WithLabelValues(t.Name()).Inc()
		return newMessage(rec), nil
	}

	s.stop(t, partition)
	if err == nil {
		err = kafkaerr.MakeBrokerErr(kafkaerr.CodeUnknown, "empty record")
	}

	switch kafkaerr.CodeOf(err) {
	case kafkaerr.CodePartitionEOF:
		partitionEOF.WithLabelValues(t.Name()).Inc()
		log.Debug().Msgf("partition eof - %s[%d]", t.Name(), partition)
		return nil, nil
	case kafkaerr.CodeTimedOut:
		sessionErrors.WithLabelValues(t.Name(), "timeout").Inc()
		return nil, kafkaerr.MakeTimeoutErr(t.Name(), partition, timeout)
	}

	sessionErrors.WithLabelValues(t.Name(), "broker").Inc()
	be, ok := kafkaerr.AsBrokerError(err)
	if !ok {
		be = kafkaerr.MakeBrokerErr(kafkaerr.CodeUnknown, err.Error())
	}
	if be.Topic == "" {
		be = be.WithPartition(t.Name(), partition)
	}
	return nil, be
}

func (s *consumerSession) shutdown(flushTimeout time.Duration) {
	if err := s.handle.Flush(flushTimeout); err != nil {
		log.Warn().Err(err).Msg("consumer flush incomplete")
	}
	if err := s.handle.Close(); err != nil {
		log.Error().Err(err).Msg("consumer close failed")
	}
}

type producerSession struct {
	handle   producer.Producer
	defaults topicconf.Config
}

func (s *producerSession) role() kafkaerr.Role {
	return kafkaerr.RoleProducer
}

func (s *producerSession) send(payload []byte, topic string, o ProduceOptions) error {
	t, err := s.handle.NewTopic(topic, topicconf.Merge(s.defaults, o.TopicOptions))
	if err != nil {
		return errors.Wrapf(err, "failed to create producer topic %s", topic)
	}
	if err := t.Produce(o.message(payload)); err != nil {
		sessionErrors.WithLabelValues(topic, "broker").Inc()
		return err
	}
	messagesProduced.WithLabelValues(topic).Inc()
	return nil
}

func (s *producerSession) shutdown(flushTimeout time.Duration) {
	if left := s.handle.Flush(flushTimeout); left > 0 {
		log.Warn().Msgf("outstanding events still un-flushed: %d", left)
	}
	if err := s.handle.Close(); err != nil {
		log.Error().Err(err).Msg("producer close failed")
	}
}
