// Package kafka publishes order events and consumes them into operator
// notifications.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerkean/gnizde.4ko/config"
	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func InitProducer(cfg config.KafkaConfig, logger *zap.Logger) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer([]string{cfg.Broker}, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("Kafka producer initialized", zap.String("broker", cfg.Broker))
	return producer, nil
}

// PublishOrderEvent sends event keyed by its business order id, carrying the
// trace context in message headers.
func PublishOrderEvent(ctx context.Context, producer sarama.SyncProducer, topic string, event models.OrderEvent, logger *zap.Logger) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	carrier := make(saramaHeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(event.OrderID),
		Value:   sarama.ByteEncoder(eventJSON),
		Headers: []sarama.RecordHeader(carrier),
	}

	partition, offset, err := producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	logger.Info("Event published",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Publisher turns ledger notifications into order events. Events are sent
// from a background goroutine so checkout and webhook requests never wait
// on broker acknowledgement.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	// wait is set by tests to observe completion.
	wait func()
}

func NewPublisher(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, topic: topic, logger: logger}
}

func (p *Publisher) OrderPlaced(ctx context.Context, o *models.Order) {
	o = snapshot(o)
	p.publish(ctx, models.OrderEvent{
		EventType: models.EventOrderCreated,
		OrderID:   o.OrderID,
		Status:    o.Status,
		Total:     o.Total,
		Currency:  o.Currency,
		Order:     o,
	})
}

func (p *Publisher) StatusChanged(ctx context.Context, o *models.Order, previous models.OrderStatus) {
	o = snapshot(o)
	p.publish(ctx, models.OrderEvent{
		EventType:      models.EventOrderStatusChanged,
		OrderID:        o.OrderID,
		Status:         o.Status,
		PreviousStatus: previous,
		Total:          o.Total,
		Currency:       o.Currency,
		Order:          o,
	})
}

func (p *Publisher) publish(ctx context.Context, event models.OrderEvent) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if p.wait != nil {
			defer p.wait()
		}
		if err := PublishOrderEvent(ctx, p.producer, p.topic, event, p.logger); err != nil {
			p.logger.Error("Failed to publish order event",
				zap.String("event_type", event.EventType),
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		}
	}()
}

// snapshot copies the order so the caller may keep mutating it while the
// event is encoded.
func snapshot(o *models.Order) *models.Order {
	c := *o
	c.Items = append(models.LineItems(nil), o.Items...)
	return &c
}

// saramaHeaderCarrier adapts producer record headers to a TextMapCarrier.
type saramaHeaderCarrier []sarama.RecordHeader

func (c saramaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c saramaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
