// Package kafka publishes stored observations as a change feed.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

// Writer produces one message per stored observation. Messages are keyed by the
// observation's natural key, so a compacted topic retains the latest value per period.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes every committed observation in a single WriteMessages call.
func (w *Writer) Publish(ctx context.Context, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(obs))
	for i := range obs {
		msg, err := serializeToMessage(obs[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %s/%s: %w", obs[0].Source, obs[0].IndicatorKey, err)
	}
	w.logger.Debug("published observations", "source", obs[0].Source, "indicator", obs[0].IndicatorKey, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func serializeToMessage(obs domain.Observation) (kafkago.Message, error) {
	data, err := json.Marshal(obs)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(domain.NaturalKey(obs.MunicipalityCode, obs.IndicatorKey, obs.Source, obs.Year, obs.Month)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "indicator_key", Value: []byte(obs.IndicatorKey)},
			{Key: "collected_at", Value: []byte(obs.CollectedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
