// Package source feeds domain actions into the bus from external
// transports. HTTP ingestion lives in the server package; this package
// holds the Kafka consumer used when storefront actions arrive through a
// broker instead of direct HTTP calls.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/commercekit/relay/internal/bus"
)

// KafkaConfig configures the consumer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// action is the wire shape of one storefront action message.
type action struct {
	SessionID string                 `json:"session_id"`
	Topic     string                 `json:"topic"`
	Payload   map[string]interface{} `json:"payload"`
}

// KafkaSource consumes storefront actions from a topic and republishes
// them on the in-process bus. Messages are committed after publishing;
// the bus is synchronous, so a commit means every subscriber ran.
type KafkaSource struct {
	reader *kafka.Reader
	bus    *bus.Bus
	logger *slog.Logger
}

// NewKafkaSource creates the consumer.
func NewKafkaSource(cfg KafkaConfig, b *bus.Bus, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
		bus:    b,
		logger: logger.With("component", "kafka-source"),
	}
}

// Run consumes until ctx is cancelled or the reader is closed. Malformed
// messages are logged and committed so a single bad producer cannot wedge
// the partition.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.logger.Info("Kafka source started", "topic", s.reader.Config().Topic)

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var act action
		if err := json.Unmarshal(msg.Value, &act); err != nil {
			s.logger.Warn("Dropping malformed action message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else if act.SessionID == "" || act.Topic == "" {
			s.logger.Warn("Dropping action message without session or topic",
				"partition", msg.Partition, "offset", msg.Offset)
		} else {
			s.bus.Publish(ctx, bus.Message{
				SessionID: act.SessionID,
				Topic:     act.Topic,
				Payload:   act.Payload,
			})
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Error("Commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close shuts the reader down, unblocking Run.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
