package queue

import "time"

// AnalyticsEvent is a track call keyed by the user it describes.
type AnalyticsEvent struct {
	MessageID  string         `json:"message_id"`
	UserID     string         `json:"user_id"`
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp"`
}

// HandoffTask asks the task router to put a human on the contact.
type HandoffTask struct {
	TaskID      string            `json:"task_id"`
	WorkflowSID string            `json:"workflow_sid"`
	Attributes  map[string]string `json:"attributes"`
	CreatedAt   time.Time         `json:"created_at"`
}
