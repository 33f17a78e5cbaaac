package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/common"
)

// mockKafkaReader serves queued messages, then blocks until ctx is done.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	m.committed = append(m.committed, msgs...)
	m.mu.Unlock()
	return nil
}

func (m *mockKafkaReader) Committed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

func (m *mockKafkaReader) Close() error {
	m.closed = true
	return nil
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []*common.ProducerMessage
}

func (c *capturePublisher) Publish(_ context.Context, msg *common.ProducerMessage) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "keymed-patterns",
		Topics:  []string{TopicLabsCommitted},
		RetryConfig: RetryConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			DeadLetterTopic: TopicDeadLetterLabs,
		},
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(testConsumerConfig()))

	cfg := testConsumerConfig()
	cfg.Brokers = nil
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = testConsumerConfig()
	cfg.Topics = nil
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = testConsumerConfig()
	cfg.AutoOffsetReset = "middle"
	assert.Error(t, ValidateConsumerConfig(cfg))
}

func TestConsumer_DispatchesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicLabsCommitted, Key: []byte("sess-1"), Value: []byte(`{"a":1}`), Headers: []kafka.Header{{Key: "event_type", Value: []byte(EventLabsCommitted)}}},
		{Topic: "unrelated", Value: []byte("x")},
	}}
	logger := testutil.NewMockLogger()
	c := newConsumerWithReader(reader, testConsumerConfig(), nil, logger)

	got := make(chan *common.Message, 1)
	require.NoError(t, c.Subscribe(TopicLabsCommitted, func(_ context.Context, msg *common.Message) error {
		got <- msg
		return nil
	}))
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)

	select {
	case msg := <-got:
		assert.Equal(t, "sess-1", string(msg.Key))
		assert.Equal(t, EventLabsCommitted, msg.Headers["event_type"])
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}
	assert.Eventually(t, func() bool { return reader.Committed() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
	assert.True(t, logger.Contains("warn", "No handler for topic"))
	assert.Equal(t, int64(2), c.Stats().Consumed)
	assert.Equal(t, int64(1), c.Stats().Processed)
}

func TestProcessMessage_RetrySuccess(t *testing.T) {
	c := newConsumerWithReader(&mockKafkaReader{}, testConsumerConfig(), nil, nil)

	attempts := 0
	err := c.processMessage(context.Background(), &common.Message{}, func(context.Context, *common.Message) error {
		attempts++
		if attempts < 2 {
			return errors.New("fail")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), c.Stats().Retried)
}

func TestProcessMessage_DeadLetter(t *testing.T) {
	dl := &capturePublisher{}
	c := newConsumerWithReader(&mockKafkaReader{}, testConsumerConfig(), dl, nil)

	attempts := 0
	msg := &common.Message{Topic: TopicLabsCommitted, Key: []byte("sess-1"), Value: []byte("{}"), Headers: map[string]string{"event_type": EventLabsCommitted}}
	err := c.processMessage(context.Background(), msg, func(context.Context, *common.Message) error {
		attempts++
		return errors.New("pattern store down")
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)

	require.Len(t, dl.msgs, 1)
	assert.Equal(t, TopicDeadLetterLabs, dl.msgs[0].Topic)
	assert.Equal(t, TopicLabsCommitted, dl.msgs[0].Headers["original_topic"])
	assert.Equal(t, EventLabsCommitted, dl.msgs[0].Headers["event_type"])
	_, touched := msg.Headers["original_topic"]
	assert.False(t, touched, "inbound headers are not modified")
	assert.Equal(t, int64(1), c.Stats().DeadLettered)
}

func TestProcessMessage_DroppedWithoutDeadLetter(t *testing.T) {
	cfg := testConsumerConfig()
	cfg.RetryConfig.MaxRetries = 0
	c := newConsumerWithReader(&mockKafkaReader{}, cfg, nil, nil)

	err := c.processMessage(context.Background(), &common.Message{}, func(context.Context, *common.Message) error {
		return errors.New("fail")
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), c.Stats().Dropped)
}

func TestProcessMessage_CancelledDuringBackoff(t *testing.T) {
	cfg := testConsumerConfig()
	cfg.RetryConfig.RetryBackoff = time.Hour
	c := newConsumerWithReader(&mockKafkaReader{}, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.processMessage(ctx, &common.Message{}, func(context.Context, *common.Message) error {
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

//Personal.AI order the ending
