// Package notify enqueues operator notifications. Delivery to the messaging
// channel happens elsewhere; a sink only has to persist or hand off the
// message.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"comprobantes/internal/amqp"
	"comprobantes/internal/core"
)

// DefaultRecipient names outbox files when no recipient is configured.
const DefaultRecipient = "operator"

type Notification struct {
	ID        string
	Recipient string
	Text      string
	Category  core.Category
	MediaRef  core.MediaRef
	CreatedAt time.Time
}

// New stamps a notification with a fresh ID.
func New(recipient, text string, createdAt time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Text:      text,
		CreatedAt: createdAt,
	}
}

type Sink interface {
	Enqueue(ctx context.Context, n Notification) error
}

// OutboxSink writes each notification to its own file in Dir:
// notify-<recipient>-<unix ms>-<id>.txt, first line "TO:<recipient>".
type OutboxSink struct {
	Dir string
}

func NewOutboxSink(dir string) (*OutboxSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create outbox: %w", err)
	}
	return &OutboxSink{Dir: dir}, nil
}

func (s *OutboxSink) Enqueue(ctx context.Context, n Notification) error {
	path := filepath.Join(s.Dir, OutboxFileName(n))
	body := "TO:" + n.Recipient + "\n" + n.Text + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write outbox file: %w", err)
	}
	return nil
}

// OutboxFileName returns the file name OutboxSink uses for n.
func OutboxFileName(n Notification) string {
	return fmt.Sprintf("notify-%s-%d-%s.txt", fileSafe(n.Recipient), n.CreatedAt.UnixMilli(), n.ID)
}

func fileSafe(s string) string {
	if s == "" {
		return DefaultRecipient
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '+', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// Publisher is satisfied by *amqp.Client.
type Publisher interface {
	PublishNotification(ctx context.Context, msg *amqp.NotificationMessage) error
}

type AMQPSink struct {
	Publisher Publisher
}

func (s AMQPSink) Enqueue(ctx context.Context, n Notification) error {
	msg := amqp.NewNotificationMessage(n.ID, n.Recipient, n.Text, n.CreatedAt)
	msg.Category = n.Category.String()
	msg.MediaRef = string(n.MediaRef)
	if err := s.Publisher.PublishNotification(ctx, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// MultiSink enqueues to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Enqueue(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Enqueue(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
