package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/domain"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"

	kafkaGo "github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer used by the publisher
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error
	Close() error
}

// EventPublisher публикует события жизненного цикла подписчиков в Kafka.
// Messages are keyed by identity so the events of one subscriber stay in
// order within a partition.
type EventPublisher struct {
	writer messageWriter
	topics map[domain.LifecycleEventType]string
	log    *logger.Logger
}

// NewEventPublisher создает и настраивает новый продюсер Kafka.
func NewEventPublisher(cfg *Config, log *logger.Logger) (*EventPublisher, error) {
	if len(cfg.Brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(cfg.Brokers...),
		Balancer:     &kafkaGo.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.WriteTimeout,
	}

	log.Infow("Kafka producer initialized", "brokers", cfg.Brokers)
	return newEventPublisher(writer, cfg.TopicPrefix, log), nil
}

func newEventPublisher(writer messageWriter, topicPrefix string, log *logger.Logger) *EventPublisher {
	return &EventPublisher{
		writer: writer,
		topics: map[domain.LifecycleEventType]string{
			domain.LifecycleEventActivated: topicPrefix + TopicSubscriberActivated,
			domain.LifecycleEventExpired:   topicPrefix + TopicSubscriberExpired,
		},
		log: log,
	}
}

// Publish преобразует событие в JSON и отправляет в соответствующий топик
func (p *EventPublisher) Publish(ctx context.Context, event domain.LifecycleEvent) error {
	topic, ok := p.topics[event.Type]
	if !ok {
		return fmt.Errorf("kafka: unknown event type %q", event.Type)
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.log.Errorw("Failed to marshal lifecycle event", "error", err, "event_id", event.ID, "topic", topic)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafkaGo.Message{
		Topic: topic,
		Key:   []byte(event.Identity),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafkaGo.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			p.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "identity", event.Identity)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		p.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "identity", event.Identity)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	p.log.Debugw("Published lifecycle event", "topic", topic, "event_id", event.ID, "identity", event.Identity)
	return nil
}

// Close закрывает соединение Kafka Writer.
func (p *EventPublisher) Close() error {
	p.log.Infow("Closing Kafka producer writer...")
	if err := p.writer.Close(); err != nil {
		p.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}

// LogPublisher writes events to the log instead of a broker. It is used when
// no Kafka brokers are configured.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher создает LogPublisher
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish logs the event
func (p *LogPublisher) Publish(_ context.Context, event domain.LifecycleEvent) error {
	p.log.Infow("Lifecycle event",
		"type", string(event.Type),
		"identity", event.Identity,
		"status", string(event.Status),
		"expires_at", event.ExpiresAt.Format(time.RFC3339),
	)
	return nil
}
