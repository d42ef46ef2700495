package client

import (
	"context"
)

// IMessage единый контракт сообщения для разных брокеров.
type IMessage interface {
	Payload() []byte
	Acknowledge(data interface{}) error
	Original() interface{}
}

type IClient interface {
	GetMessage(ctx context.Context, topic string, opts ...CallOption) (*Message, error)
	GetMessageIterator(ctx context.Context, topic string, opts ...CallOption) (*MessageIterator, error)
	SendMessage(ctx context.Context, payload []byte, topic string, opts ...CallOption) error
	Shutdown() error
}

var (
	_ IMessage = (*Message)(nil)
	_ IClient  = (*Client)(nil)
)
