package outbox

import "time"

const (
	AggregateNotification = "notification"

	// EventNotificationCreated doubles as the Kafka topic.
	EventNotificationCreated = "booking.notification.created.v1"
)

// Event is the envelope written to outbox_events. AggregateID becomes the
// Kafka message key.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NotificationCreated is the payload of EventNotificationCreated.
type NotificationCreated struct {
	NotificationID string    `json:"notification_id"`
	Recipient      string    `json:"recipient"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
