package client

import (
	"context"
	"time"

	"github.com/kkiling/kafka-client/consumer"
)

// MessageIterator однопроходный итератор по записям партиции.
//
//	it, err := c.GetMessageIterator(ctx, "orders")
//	for it.Next() {
//		handle(it.Message())
//	}
//	if err := it.Err(); err != nil { ... }
//
// Next возвращает false на конце партиции (Err() == nil) или при ошибке.
// После этого итератор исчерпан, для повторного чтения нужен новый итератор.
type MessageIterator struct {
	ctx       context.Context
	session   *consumerSession
	topic     consumer.Topic
	partition int32
	timeout   time.Duration

	msg  *Message
	err  error
	done bool
}

func newMessageIterator(ctx context.Context, s *consumerSession, t consumer.Topic,
	partition int32, timeout time.Duration) *MessageIterator {
	return &MessageIterator{
		ctx:       ctx,
		session:   s,
		topic:     t,
		partition: partition,
		timeout:   timeout,
	}
}

func (it *MessageIterator) Next() bool {
	if it.done {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.session.stop(it.topic, it.partition)
		it.finish(err)
		return false
	}

	msg, err := it.session.receiveOne(it.topic, it.partition, it.timeout)
	if err != nil || msg == nil {
		it.finish(err)
		return false
	}
	it.msg = msg
	return true
}

func (it *MessageIterator) finish(err error) {
	it.done = true
	it.msg = nil
	it.err = err
}

// Message текущая запись, nil до первого Next и после завершения.
func (it *MessageIterator) Message() *Message {
	return it.msg
}

func (it *MessageIterator) Err() error {
	return it.err
}

// Close закрывает курсор, если итерация брошена до завершения.
func (it *MessageIterator) Close() error {
	if it.done {
		return nil
	}
	it.session.stop(it.topic, it.partition)
	it.finish(nil)
	return nil
}
