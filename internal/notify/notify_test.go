package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"comprobantes/internal/amqp"
	"comprobantes/internal/core"
)

func TestOutboxSink_Enqueue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outbox")
	sink, err := NewOutboxSink(dir)
	if err != nil {
		t.Fatal(err)
	}

	n := New("+57 300 111 2233", "FACTURA detectada\nValor: 45.000 COP", time.UnixMilli(1741532400000))
	if err := sink.Enqueue(context.Background(), n); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	name := "notify-+57_300_111_2233-1741532400000-" + n.ID + ".txt"
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("outbox file missing: %v", err)
	}
	want := "TO:+57 300 111 2233\nFACTURA detectada\nValor: 45.000 COP\n"
	if string(b) != want {
		t.Fatalf("outbox content = %q, want %q", b, want)
	}
}

func TestOutboxFileName_DefaultRecipient(t *testing.T) {
	n := Notification{ID: "x", CreatedAt: time.UnixMilli(5)}
	if got := OutboxFileName(n); got != "notify-operator-5-x.txt" {
		t.Fatalf("OutboxFileName() = %q", got)
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	a := New("r", "t", time.Now())
	b := New("r", "t", time.Now())
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("IDs not unique: %q %q", a.ID, b.ID)
	}
}

type fakePublisher struct {
	got *amqp.NotificationMessage
	err error
}

func (f *fakePublisher) PublishNotification(_ context.Context, msg *amqp.NotificationMessage) error {
	f.got = msg
	return f.err
}

func TestAMQPSink(t *testing.T) {
	pub := &fakePublisher{}
	n := New("+573001112233", "hola", time.Now())
	n.Category = core.Transaccion
	n.MediaRef = "abc:x.png"

	if err := (AMQPSink{Publisher: pub}).Enqueue(context.Background(), n); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if pub.got.ID != n.ID || pub.got.Category != "TRANSACCION" || pub.got.MediaRef != "abc:x.png" {
		t.Fatalf("published %+v", pub.got)
	}
	if pub.got.Recipient != "+573001112233" || !pub.got.Timestamp.Equal(n.CreatedAt) {
		t.Errorf("published %+v, want recipient and creation time carried over", pub.got)
	}

	pub.err = errors.New("circuit breaker is open")
	if err := (AMQPSink{Publisher: pub}).Enqueue(context.Background(), n); err == nil {
		t.Fatal("expected publish error")
	}
}

type sinkFunc func(context.Context, Notification) error

func (f sinkFunc) Enqueue(ctx context.Context, n Notification) error { return f(ctx, n) }

func TestMultiSink(t *testing.T) {
	var calls int
	ok := sinkFunc(func(context.Context, Notification) error { calls++; return nil })
	bad := sinkFunc(func(context.Context, Notification) error { calls++; return errors.New("offline") })

	err := MultiSink{bad, ok}.Enqueue(context.Background(), Notification{})
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("a failing sink stopped the fan-out, calls = %d", calls)
	}
	if err := (MultiSink{}).Enqueue(context.Background(), Notification{}); err != nil {
		t.Fatalf("empty MultiSink error = %v", err)
	}
}
