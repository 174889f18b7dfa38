package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-resampler/internal/metrics"
	"github.com/timkrebs/image-resampler/internal/models"
)

// ErrMalformedMessage is returned for stream entries that do not carry a job
// message. Such entries are acknowledged so they are not delivered again.
var ErrMalformedMessage = errors.New("malformed queue message")

// Consumer reads resize jobs from the Redis stream
type Consumer struct {
	client        *redis.Client
	metrics       *metrics.QueueMetrics
	logger        *slog.Logger
	streamName    string
	consumerGroup string
	consumerName  string
	pollTimeout   time.Duration
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	PollTimeout   time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(client *redis.Client, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	return &Consumer{
		client:        client,
		streamName:    cfg.StreamName,
		consumerGroup: cfg.ConsumerGroup,
		consumerName:  cfg.ConsumerName,
		pollTimeout:   cfg.PollTimeout,
		logger:        logger,
	}
}

// SetMetrics injects queue metrics collectors
func (c *Consumer) SetMetrics(m *metrics.QueueMetrics) {
	c.metrics = m
}

// EnsureGroup creates the consumer group if it doesn't exist
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.streamName, c.consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Message represents a message from the queue
type Message struct {
	ID   string
	Job  *models.JobMessage
	Data string
}

// Consume returns the next message for this consumer: first any message it
// read earlier without acknowledging, then new ones. It returns nil when
// nothing arrives within the poll timeout.
func (c *Consumer) Consume(ctx context.Context) (*Message, error) {
	start := time.Now()

	pending, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{c.streamName, "0"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read pending messages: %w", err)
	}
	if len(pending) > 0 && len(pending[0].Messages) > 0 {
		return c.receive(ctx, pending[0].Messages[0], start)
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{c.streamName, ">"},
		Count:    1,
		Block:    c.pollTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return c.receive(ctx, streams[0].Messages[0], start)
}

func (c *Consumer) receive(ctx context.Context, redisMsg redis.XMessage, start time.Time) (*Message, error) {
	msg, err := parseMessage(redisMsg)
	if err != nil {
		if c.metrics != nil {
			c.metrics.MessagesFailed.Inc()
		}
		c.logger.Warn("dropping malformed message", "message_id", redisMsg.ID, "error", err)
		if ackErr := c.Acknowledge(ctx, redisMsg.ID); ackErr != nil {
			return nil, errors.Join(err, ackErr)
		}
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.MessagesConsumed.Inc()
		metrics.RecordDuration(start, c.metrics.ConsumeDuration)
	}
	return msg, nil
}

func parseMessage(redisMsg redis.XMessage) (*Message, error) {
	data, ok := redisMsg.Values[dataField].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s field", ErrMalformedMessage, dataField)
	}

	var jobMsg models.JobMessage
	if err := json.Unmarshal([]byte(data), &jobMsg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return &Message{
		ID:   redisMsg.ID,
		Job:  &jobMsg,
		Data: data,
	}, nil
}

// Acknowledge marks a message as processed
func (c *Consumer) Acknowledge(ctx context.Context, messageID string) error {
	_, err := c.client.XAck(ctx, c.streamName, c.consumerGroup, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// GetPendingCount returns the number of pending messages in the consumer group
func (c *Consumer) GetPendingCount(ctx context.Context) (int64, error) {
	pending, err := c.client.XPending(ctx, c.streamName, c.consumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}
