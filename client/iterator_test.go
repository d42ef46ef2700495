package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/kkiling/kafka-client/consumer"
	"github.com/kkiling/kafka-client/kafkaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMessageIterator(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("%d records", n), func(t *testing.T) {
			cl, _, top := newConsumerClient("orders", nil)
			top.On("ConsumeStart", int32(0), consumer.OffsetBeginning).Return(nil).Once()
			for i := 0; i < n; i++ {
				top.On("Consume", int32(0), DefaultTimeout).
					Return(record("orders", int64(i), fmt.Sprintf("m%d", i)), nil).Once()
			}
			top.On("Consume", int32(0), DefaultTimeout).
				Return(nil, kafkaerr.MakeBrokerErr(kafkaerr.CodePartitionEOF, "")).Once()
			top.On("ConsumeStop", int32(0)).Return(nil).Once()

			it, err := cl.GetMessageIterator(context.Background(), "orders", WithOffset(consumer.OffsetBeginning))
			require.NoError(t, err)

			var got []string
			for it.Next() {
				got = append(got, string(it.Message().Payload()))
			}
			require.NoError(t, it.Err())
			assert.Len(t, got, n)
			for i, p := range got {
				assert.Equal(t, fmt.Sprintf("m%d", i), p)
			}

			// исчерпан
			assert.False(t, it.Next())
			assert.Nil(t, it.Message())
			assert.NoError(t, it.Close())
			top.AssertExpectations(t)
			top.AssertNumberOfCalls(t, "ConsumeStop", 1)
		})
	}
}

func TestMessageIteratorTimeout(t *testing.T) {
	cl, _, top := newConsumerClient("orders", nil)
	top.On("ConsumeStart", int32(0), consumer.OffsetStored).Return(nil)
	top.On("Consume", int32(0), DefaultTimeout).Return(record("orders", 0, "a"), nil).Once()
	top.On("Consume", int32(0), DefaultTimeout).
		Return(nil, kafkaerr.MakeBrokerErr(kafkaerr.CodeTimedOut, "")).Once()
	top.On("ConsumeStop", int32(0)).Return(nil).Once()

	it, err := cl.GetMessageIterator(context.Background(), "orders")
	require.NoError(t, err)

	require.True(t, it.Next())
	assert.Equal(t, []byte("a"), it.Message().Payload())
	assert.False(t, it.Next())

	var te *kafkaerr.TimeoutError
	require.ErrorAs(t, it.Err(), &te)
	assert.Equal(t, "orders", te.Topic)
	assert.Equal(t, DefaultTimeout, te.Timeout)
	top.AssertNumberOfCalls(t, "Consume", 2)
	top.AssertNumberOfCalls(t, "ConsumeStop", 1)
}

func TestMessageIteratorContextCancel(t *testing.T) {
	cl, _, top := newConsumerClient("orders", nil)
	top.On("ConsumeStart", int32(0), consumer.OffsetStored).Return(nil)
	top.On("Consume", int32(0), DefaultTimeout).Return(record("orders", 0, "a"), nil).Once()
	top.On("ConsumeStop", int32(0)).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	it, err := cl.GetMessageIterator(ctx, "orders")
	require.NoError(t, err)

	require.True(t, it.Next())
	cancel()
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), context.Canceled)

	top.AssertExpectations(t)
	top.AssertNumberOfCalls(t, "Consume", 1)
}

func TestMessageIteratorClose(t *testing.T) {
	cl, _, top := newConsumerClient("orders", nil)
	top.On("ConsumeStart", int32(0), consumer.OffsetStored).Return(nil)
	top.On("Consume", int32(0), DefaultTimeout).Return(record("orders", 0, "a"), nil)
	top.On("ConsumeStop", int32(0)).Return(nil).Once()

	it, err := cl.GetMessageIterator(context.Background(), "orders")
	require.NoError(t, err)
	require.True(t, it.Next())

	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
	top.AssertNumberOfCalls(t, "ConsumeStop", 1)
}

func TestMessageIteratorOpenFailure(t *testing.T) {
	handle := &MockConsumer{}
	handle.On("NewTopic", "orders", mock.Anything).Return(nil, assert.AnError)

	it, err := InitAsConsumer(handle, nil).GetMessageIterator(context.Background(), "orders")

	assert.Nil(t, it)
	assert.ErrorIs(t, err, assert.AnError)
}
