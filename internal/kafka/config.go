package kafka

import (
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
)

// Топики событий жизненного цикла подписчиков
const (
	TopicSubscriberActivated = "subscriber_activated"
	TopicSubscriberExpired   = "subscriber_expired"
)

// Config конфигурация для Kafka
type Config struct {
	Brokers      []string
	TopicPrefix  string
	Partitions   int
	Replication  int
	RequiredAcks kafkaGo.RequiredAcks
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// NewConfig создает новую конфигурацию Kafka
func NewConfig(brokers []string) *Config {
	return &Config{
		Brokers:      brokers,
		Partitions:   3,
		Replication:  1,
		RequiredAcks: kafkaGo.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

// Topics returns the topic names with the configured prefix
func (c *Config) Topics() []string {
	return []string{c.TopicPrefix + TopicSubscriberActivated, c.TopicPrefix + TopicSubscriberExpired}
}
