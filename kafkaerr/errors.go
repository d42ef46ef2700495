package kafkaerr

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Code коды ошибок брокера. Отрицательные значения совпадают с локальными
// кодами librdkafka, положительные - коды протокола Kafka.
type Code int

const (
	CodeNoError      Code = 0
	CodeUnknown      Code = -1
	CodeQueueFull    Code = -184
	CodeTimedOut     Code = -185
	CodeUnknownPart  Code = -190
	CodePartitionEOF Code = -191
)

func (c Code) String() string {
	switch c {
	case CodeNoError:
		return "no error"
	case CodeQueueFull:
		return "local queue full"
	case CodeTimedOut:
		return "timed out"
	case CodeUnknownPart:
		return "unknown partition"
	case CodePartitionEOF:
		return "partition eof"
	case CodeUnknown:
		return "unknown"
	}
	return fmt.Sprintf("broker error %d", int(c))
}

type Role int

const (
	RoleUninitialized Role = iota
	RoleConsumer
	RoleProducer
)

func (r Role) String() string {
	switch r {
	case RoleConsumer:
		return "consumer"
	case RoleProducer:
		return "producer"
	}
	return "uninitialized"
}

// RoleError операция вызвана у сессии без нужной роли.
// Возвращается до любого обращения к брокеру.
type RoleError struct {
	Op   string
	Want Role
	Have Role
}

func (r *RoleError) Error() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s is not init (session role: %s)", r.Op, r.Want, r.Have)
}

// TimeoutError за отведенное время не пришло ни одной записи.
type TimeoutError struct {
	Topic     string
	Partition int32
	Timeout   time.Duration
}

func (t *TimeoutError) Error() string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf("time out after %s waiting for %s[%d]", t.Timeout, t.Topic, t.Partition)
}

// BrokerError любая другая ошибка, о которой сообщила библиотека брокера.
type BrokerError struct {
	Code      Code
	Message   string
	Topic     string
	Partition int32
}

func (b *BrokerError) Error() string {
	if b == nil {
		return ""
	}
	msg := b.Message
	if msg == "" {
		msg = b.Code.String()
	}
	if b.Topic == "" {
		return fmt.Sprintf("broker error %d: %s", int(b.Code), msg)
	}
	return fmt.Sprintf("broker error %d on %s[%d]: %s", int(b.Code), b.Topic, b.Partition, msg)
}

func MakeRoleErr(op string, want, have Role) error {
	return &RoleError{Op: op, Want: want, Have: have}
}

func MakeTimeoutErr(topic string, partition int32, timeout time.Duration) error {
	return &TimeoutError{Topic: topic, Partition: partition, Timeout: timeout}
}

func MakeBrokerErr(code Code, msg string) *BrokerError {
	return &BrokerError{Code: code, Message: msg}
}

func MakeBrokerWrapErr(code Code, err error, msg string) *BrokerError {
	if err == nil {
		return MakeBrokerErr(code, msg)
	}
	return &BrokerError{Code: code, Message: errors.Wrap(err, msg).Error()}
}

// WithPartition возвращает копию ошибки с привязкой к топику и партиции.
func (b *BrokerError) WithPartition(topic string, partition int32) *BrokerError {
	cp := *b
	cp.Topic = topic
	cp.Partition = partition
	return &cp
}

func IsRole(err error) bool {
	var re *RoleError
	return errors.As(err, &re)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func AsBrokerError(err error) (*BrokerError, bool) {
	var be *BrokerError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// CodeOf код ошибки брокера или CodeUnknown, если err не BrokerError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNoError
	}
	if be, ok := AsBrokerError(err); ok {
		return be.Code
	}
	return CodeUnknown
}
