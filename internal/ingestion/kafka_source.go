package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
)

// MessageReader is the subset of *kafka.Reader the source uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConfig configures the Kafka swap feed.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaSource consumes JSON-encoded SwapEvents from a topic.
type KafkaSource struct {
	reader     MessageReader
	logger     *zap.Logger
	retryDelay time.Duration
}

// NewKafkaSource creates a consumer-group reader for cfg.
func NewKafkaSource(cfg KafkaConfig, logger *zap.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return NewKafkaSourceFromReader(reader, logger)
}

// NewKafkaSourceFromReader wraps an existing reader.
func NewKafkaSourceFromReader(reader MessageReader, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSource{reader: reader, logger: logger, retryDelay: time.Second}
}

// Name returns "kafka".
func (s *KafkaSource) Name() string { return domain.SourceKafka }

// Subscribe reads until ctx is cancelled, then closes the reader.
func (s *KafkaSource) Subscribe(ctx context.Context) (<-chan domain.SwapEvent, error) {
	out := make(chan domain.SwapEvent, 256)

	go func() {
		defer close(out)
		defer func() {
			if err := s.reader.Close(); err != nil {
				s.logger.Warn("close kafka reader", zap.Error(err))
			}
		}()

		for {
			msg, err := s.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Warn("kafka read failed", zap.Error(err))
				select {
				case <-time.After(s.retryDelay):
					continue
				case <-ctx.Done():
					return
				}
			}

			event, err := DecodeSwapMessage(msg.Value)
			if err != nil {
				observability.RecordEventDropped("malformed")
				s.logger.Debug("dropping kafka message",
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// DecodeSwapMessage parses one JSON SwapEvent. The pair is lowercased and a
// missing source is set to kafka.
func DecodeSwapMessage(data []byte) (domain.SwapEvent, error) {
	var event domain.SwapEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.SwapEvent{}, fmt.Errorf("unmarshal swap: %v: %w", err, domain.ErrTransientStreamFault)
	}
	if event.PairID == "" {
		return domain.SwapEvent{}, fmt.Errorf("swap without pairId: %w", domain.ErrTransientStreamFault)
	}
	event.PairID = strings.ToLower(event.PairID)
	event.TxHash = strings.ToLower(event.TxHash)
	if event.Source == "" {
		event.Source = domain.SourceKafka
	}
	return event, nil
}
