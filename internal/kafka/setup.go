package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	kafkaGo "github.com/segmentio/kafka-go"
)

// EnsureTopics проверяет и создает необходимые топики Kafka.
func EnsureTopics(ctx context.Context, cfg *Config, log *logger.Logger) error {
	requiredTopics := make(map[string]kafkaGo.TopicConfig)
	for _, topic := range cfg.Topics() {
		requiredTopics[topic] = kafkaGo.TopicConfig{
			Topic:             topic,
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: cfg.Replication,
		}
	}

	log.Infow("Ensuring Kafka topics exist...", "topics", cfg.Topics())

	if len(cfg.Brokers) == 0 || cfg.Brokers[0] == "" {
		return errors.New("kafka broker address is empty")
	}
	broker := strings.TrimSpace(cfg.Brokers[0])
	if err := validateBroker(broker); err != nil {
		log.Errorw("Invalid Kafka broker address", "broker", broker, "error", err)
		return err
	}

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := kafkaGo.DialContext(connCtx, "tcp", broker)
	if err != nil {
		log.Errorw("Failed to connect to Kafka broker for topic creation", "broker", broker, "error", err)
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	// Topics can only be created through the controller
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller lookup failed: %w", err)
	}
	ctrlConn, err := kafkaGo.DialContext(connCtx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("kafka controller connection failed: %w", err)
	}
	defer ctrlConn.Close()

	partitions, err := ctrlConn.ReadPartitions()
	if err != nil {
		log.Errorw("Failed to read partitions from Kafka", "error", err)
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	existing := make(map[string]bool)
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	var toCreate []kafkaGo.TopicConfig
	for name, topicCfg := range requiredTopics {
		if existing[name] {
			log.Debugw("Topic already exists", "topic", name)
			continue
		}
		toCreate = append(toCreate, topicCfg)
	}
	if len(toCreate) == 0 {
		log.Infow("All required topics already exist.")
		return nil
	}

	if err := ctrlConn.CreateTopics(toCreate...); err != nil {
		if errors.Is(err, kafkaGo.TopicAlreadyExists) {
			log.Warnw("One or more topics already existed during creation attempt", "topics", topicNames(toCreate))
			return nil
		}
		log.Errorw("Failed to create topics", "error", err, "topics", topicNames(toCreate))
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	log.Infow("Successfully created topics", "topics", topicNames(toCreate))
	return nil
}

func validateBroker(broker string) error {
	_, portStr, err := net.SplitHostPort(broker)
	if err != nil {
		return fmt.Errorf("invalid broker address %s: %w", broker, err)
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		return fmt.Errorf("invalid broker port %s: %w", broker, err)
	}
	return nil
}

func topicNames(topicConfigs []kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(topicConfigs))
	for _, tc := range topicConfigs {
		names = append(names, tc.Topic)
	}
	return names
}
