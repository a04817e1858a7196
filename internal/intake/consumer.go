package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/console-automator/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// deliverySource is the part of rabbitmq.Client used by the consumer
type deliverySource interface {
	SetPrefetch(count int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Logger        *slog.Logger
	Client        deliverySource
	Service       *Service
	ConsumerTag   string
	PrefetchCount int
}

// Consumer feeds batches from a RabbitMQ queue into the Service
type Consumer struct {
	logger        *slog.Logger
	client        deliverySource
	service       *Service
	consumerTag   string
	prefetchCount int
}

// NewConsumer creates a new consumer
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	tag := cfg.ConsumerTag
	if tag == "" {
		tag = "console-automator"
	}
	return &Consumer{
		logger:        cfg.Logger,
		client:        cfg.Client,
		service:       cfg.Service,
		consumerTag:   tag,
		prefetchCount: cfg.PrefetchCount,
	}
}

// Run consumes until ctx is canceled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	if c.prefetchCount > 0 {
		if err := c.client.SetPrefetch(c.prefetchCount); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	deliveries, err := c.client.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Intake consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("prefetch_count", c.prefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Intake consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}
			c.handle(delivery)
		}
	}
}

func (c *Consumer) handle(delivery amqp.Delivery) {
	names, err := ParseBatch(delivery.Body)
	if err != nil {
		c.logger.Error("Failed to parse intake message",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(delivery.Body)),
		)
		c.nack(delivery)
		return
	}

	receipt, err := c.service.Submit(names, "amqp")
	if err != nil {
		// Both an empty batch and an invalid session are permanent for this message
		c.logger.Warn("Intake message rejected",
			slog.String("error", err.Error()),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
		)
		c.nack(delivery)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK intake message", slog.String("error", err.Error()))
		return
	}
	c.logger.Debug("Intake message accepted",
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
		slog.Int("queued", receipt.Queued),
	)
}

func (c *Consumer) nack(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		c.logger.Error("Failed to NACK intake message", slog.String("error", err.Error()))
	}
}

type batchMessage struct {
	AppNames []string `json:"app_names"`
}

// ParseBatch reads a message body as {"app_names": [...]}, a JSON array of
// names, or newline-separated text.
func ParseBatch(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrNoAppNames
	}

	switch trimmed[0] {
	case '{':
		var msg batchMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, fmt.Errorf("invalid batch JSON: %w", err)
		}
		return msg.AppNames, nil
	case '[':
		var names []string
		if err := json.Unmarshal(trimmed, &names); err != nil {
			return nil, fmt.Errorf("invalid batch JSON: %w", err)
		}
		return names, nil
	}
	return queue.SplitNames(string(trimmed)), nil
}
