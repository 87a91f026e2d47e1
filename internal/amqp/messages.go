package amqp

import (
	"encoding/json"
	"time"
)

// NotificationMessage carries one operator notification to whatever relays
// it to the messaging channel.
type NotificationMessage struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	Category  string    `json:"category,omitempty"`
	MediaRef  string    `json:"media_ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewNotificationMessage stamps the message with createdAt, or the current
// time when createdAt is zero.
func NewNotificationMessage(id, recipient, text string, createdAt time.Time) *NotificationMessage {
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &NotificationMessage{
		ID:        id,
		Recipient: recipient,
		Text:      text,
		Timestamp: createdAt,
	}
}

func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
