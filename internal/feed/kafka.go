package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"safeboard/internal/board"
)

var messageKey = []byte("accident_config")

// readRetry is the pause after a failed read before the next attempt.
const readRetry = time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaFeed carries post-change rows on a Kafka topic. Every session reads
// with its own consumer group so each one sees every change.
type KafkaFeed struct {
	*Hub
	writer messageWriter
	reader messageReader
	logger board.Logger
	retry  time.Duration
}

// KafkaConfig configures a KafkaFeed.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaFeed creates a feed on cfg.Topic.
func NewKafkaFeed(cfg KafkaConfig, logger board.Logger) (*KafkaFeed, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka group id must not be empty")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1 << 20,
	})
	return newKafkaFeed(writer, reader, logger), nil
}

func newKafkaFeed(w messageWriter, r messageReader, logger board.Logger) *KafkaFeed {
	return &KafkaFeed{Hub: NewHub(), writer: w, reader: r, logger: logger, retry: readRetry}
}

// Publish writes cfg to the topic. Subscribers receive it once Run reads it back.
func (f *KafkaFeed) Publish(ctx context.Context, cfg board.AccidentConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config row: %w", err)
	}
	if err := f.writer.WriteMessages(ctx, kafka.Message{Key: messageKey, Value: payload}); err != nil {
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	return nil
}

// Run consumes the topic until ctx is done. Read errors are logged and
// retried after a pause.
func (f *KafkaFeed) Run(ctx context.Context) error {
	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			f.logger.Warn("reading from kafka", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(f.retry):
			}
			continue
		}
		cfg, err := decodeRow(msg.Value)
		if err != nil {
			f.logger.Warn("ignoring config change message", "offset", msg.Offset, "error", err)
			continue
		}
		f.broadcast(cfg)
	}
}

// Close closes the writer and the reader.
func (f *KafkaFeed) Close() error {
	return errors.Join(f.writer.Close(), f.reader.Close())
}

var _ board.ChangeFeed = (*KafkaFeed)(nil)
