package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// AnalyticsPublisher emits analytics events to Kafka.
type AnalyticsPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewAnalyticsPublisher constructs a publisher for the given topic.
func NewAnalyticsPublisher(k *Kafka, topic string) *AnalyticsPublisher {
	return newAnalyticsPublisher(k.NewWriter(topic))
}

func newAnalyticsPublisher(w messageWriter) *AnalyticsPublisher {
	return &AnalyticsPublisher{writer: w, now: time.Now}
}

// LogEvent records event for userKey. Messages are keyed by user so a contact's
// events stay ordered within a partition.
func (p *AnalyticsPublisher) LogEvent(ctx context.Context, userKey, event string, properties map[string]any) error {
	msg := AnalyticsEvent{
		MessageID:  uuid.NewString(),
		UserID:     userKey,
		Event:      event,
		Properties: properties,
		Timestamp:  p.now().UTC(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("analytics publisher: marshal event: %w", err)
	}

	record := kafka.Message{
		Key:   []byte(userKey),
		Value: value,
		Time:  msg.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("analytics publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *AnalyticsPublisher) Close() error {
	return p.writer.Close()
}
