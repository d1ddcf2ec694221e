package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// HandoffDispatcher publishes human handoff tasks to Kafka.
type HandoffDispatcher struct {
	writer messageWriter
	now    func() time.Time
}

// NewHandoffDispatcher constructs a dispatcher for the given topic.
func NewHandoffDispatcher(k *Kafka, topic string) *HandoffDispatcher {
	return newHandoffDispatcher(k.NewWriter(topic))
}

func newHandoffDispatcher(w messageWriter) *HandoffDispatcher {
	return &HandoffDispatcher{writer: w, now: time.Now}
}

// CreateTask enqueues a task with the given attributes for workflowSID and
// returns the generated task id.
func (d *HandoffDispatcher) CreateTask(ctx context.Context, attributes map[string]string, workflowSID string) (string, error) {
	if workflowSID == "" {
		return "", fmt.Errorf("handoff dispatcher: workflow sid is required")
	}
	task := HandoffTask{
		TaskID:      uuid.NewString(),
		WorkflowSID: workflowSID,
		Attributes:  attributes,
		CreatedAt:   d.now().UTC(),
	}
	value, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("handoff dispatcher: marshal task: %w", err)
	}

	record := kafka.Message{
		Key:   []byte(attributes["phone_number"]),
		Value: value,
		Time:  task.CreatedAt,
	}
	if err := d.writer.WriteMessages(ctx, record); err != nil {
		return "", fmt.Errorf("handoff dispatcher: write message: %w", err)
	}
	return task.TaskID, nil
}

// Close closes the underlying writer.
func (d *HandoffDispatcher) Close() error {
	return d.writer.Close()
}
