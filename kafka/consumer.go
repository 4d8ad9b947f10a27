package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerkean/gnizde.4ko/config"
	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/notify"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func InitConsumer(cfg config.KafkaConfig, logger *zap.Logger) (sarama.Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true
	sc.Consumer.Retry.Backoff = 1 * time.Second

	consumer, err := sarama.NewConsumer([]string{cfg.Broker}, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized", zap.String("broker", cfg.Broker))
	return consumer, nil
}

// NotificationConsumer delivers order events to the operator chat.
type NotificationConsumer struct {
	sender     notify.Sender
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
}

func NewNotificationConsumer(sender notify.Sender, logger *zap.Logger) *NotificationConsumer {
	return &NotificationConsumer{sender: sender, logger: logger, maxRetries: 3, backoff: time.Second}
}

// Start consumes every partition of topic until ctx is done. Messages from
// all partitions are handled one at a time.
func (nc *NotificationConsumer) Start(ctx context.Context, consumer sarama.Consumer, topic string) error {
	partitions, err := consumer.Partitions(topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	messages := make(chan *sarama.ConsumerMessage)
	errs := make(chan *sarama.ConsumerError)
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition(topic, partition, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("failed to consume partition %d: %w", partition, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pc.Close()
			forwardPartition(ctx, pc, messages, errs)
		}()
	}

	nc.logger.Info("Kafka consumer started",
		zap.String("topic", topic),
		zap.Int("partitions", len(partitions)),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-messages:
			if err := nc.handleMessageWithRetry(ctx, message); err != nil {
				nc.logger.Error("Failed to handle message after retries",
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
			}
		case err := <-errs:
			nc.logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func forwardPartition(ctx context.Context, pc sarama.PartitionConsumer, messages chan<- *sarama.ConsumerMessage, errs chan<- *sarama.ConsumerError) {
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-pc.Messages():
			if !ok {
				return
			}
			select {
			case messages <- message:
			case <-ctx.Done():
				return
			}
		case err, ok := <-pc.Errors():
			if !ok {
				return
			}
			select {
			case errs <- err:
			case <-ctx.Done():
				return
			}
		}
	}
}

var errUndecodable = errors.New("undecodable event")

func (nc *NotificationConsumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var lastErr error
	for attempt := 1; attempt <= nc.maxRetries; attempt++ {
		err := nc.handleMessage(ctx, message)
		if err == nil {
			return nil
		}
		if errors.Is(err, errUndecodable) {
			return err
		}
		lastErr = err
		if attempt < nc.maxRetries {
			backoff := time.Duration(attempt) * nc.backoff
			nc.logger.Warn("Retrying message handling",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", nc.maxRetries, lastErr)
}

func (nc *NotificationConsumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	carrier := saramaHeaderCarrierConsumer(message.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	ctx, span := otel.Tracer("gnizde").Start(ctx, "ProcessOrderEvent")
	defer span.End()

	var event models.OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", errUndecodable, err)
	}
	if event.Order == nil {
		return fmt.Errorf("%w: event without order", errUndecodable)
	}

	span.SetAttributes(
		attribute.String("event.type", event.EventType),
		attribute.String("order.id", event.OrderID),
	)

	var text string
	switch event.EventType {
	case models.EventOrderCreated:
		text = notify.FormatOrderPlaced(event.Order)
	case models.EventOrderStatusChanged:
		if !notify.Notable(event.Order, event.PreviousStatus) {
			return nil
		}
		text = notify.FormatStatusChanged(event.Order, event.PreviousStatus)
	default:
		nc.logger.Debug("Unknown event type", zap.String("event_type", event.EventType))
		return nil
	}

	if err := nc.sender.Send(ctx, text); err != nil {
		span.RecordError(err)
		return err
	}
	nc.logger.Info("Order notification delivered",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
	)
	return nil
}

// saramaHeaderCarrierConsumer adapts consumed record headers for extraction.
type saramaHeaderCarrierConsumer []*sarama.RecordHeader

func (c saramaHeaderCarrierConsumer) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c saramaHeaderCarrierConsumer) Set(key, value string) {}

func (c saramaHeaderCarrierConsumer) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
