package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"taskline/internal/logging"
)

type captureSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func assigned(email string) Event {
	return Event{Name: TaskAssigned, EntityKind: "task", EntityID: "t1", Payload: map[string]any{
		"taskId": "t1", "title": "Ship it", "assigneeEmail": email, "assigneeName": "Ada",
	}}
}

func TestMailerDeliversAssignments(t *testing.T) {
	sender := &captureSender{}
	m := NewMailer(sender, MailerConfig{QueueSize: 4}, logging.Discard())
	m.Start(context.Background())
	if err := m.Emit(context.Background(), Event{Name: TaskUpdated}); err != nil {
		t.Fatalf("non assignment events are ignored: %v", err)
	}
	if err := m.Emit(context.Background(), assigned("")); err != nil {
		t.Fatalf("assignment without email is skipped: %v", err)
	}
	if err := m.Emit(context.Background(), assigned("ada@example.com")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	m.Close()
	if len(sender.sent) != 1 || sender.sent[0].To != "ada@example.com" {
		t.Fatalf("unexpected deliveries %+v", sender.sent)
	}
	if err := m.Emit(context.Background(), assigned("ada@example.com")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected closed queue, got %v", err)
	}
}

func TestAssignmentSubjectCannotInjectHeaders(t *testing.T) {
	ev := assigned("ada@example.com")
	ev.Payload["title"] = "hi\r\nBcc: victim@example.com"
	msg, ok := AssignmentMessage(ev)
	if !ok {
		t.Fatalf("expected a message")
	}
	if strings.ContainsAny(msg.Subject, "\r\n") {
		t.Fatalf("subject keeps line breaks: %q", msg.Subject)
	}
	data, err := msg.render("tasks@example.com")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	head, _, _ := strings.Cut(string(data), "\r\n\r\n")
	for _, line := range strings.Split(head, "\r\n") {
		if strings.HasPrefix(strings.ToLower(line), "bcc:") {
			t.Fatalf("injected header in %q", head)
		}
	}
	if strings.Count(head, "\r\n") != 4 {
		t.Fatalf("unexpected header block %q", head)
	}
	bad := Message{To: "ada@example.com\r\nBcc: victim@example.com", Subject: "x"}
	if _, err := bad.render("tasks@example.com"); err == nil {
		t.Fatalf("recipient with a line break must be rejected")
	}
}

func TestMailerQueueFull(t *testing.T) {
	m := NewMailer(&captureSender{}, MailerConfig{QueueSize: 1}, logging.Discard())
	if err := m.Emit(context.Background(), assigned("a@example.com")); err != nil {
		t.Fatalf("first emit: %v", err)
	}
	if err := m.Emit(context.Background(), assigned("b@example.com")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
}

func TestMailerBreakerOpens(t *testing.T) {
	sender := &captureSender{err: errors.New("relay down")}
	m := NewMailer(sender, MailerConfig{QueueSize: 8, BreakerFailures: 2, BreakerTimeout: time.Hour}, logging.Discard())
	m.Start(context.Background())
	for i := 0; i < 4; i++ {
		_ = m.Emit(context.Background(), assigned("ada@example.com"))
	}
	m.Close()
	if m.breaker.State().String() != "open" {
		t.Fatalf("expected open breaker, got %s", m.breaker.State())
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	rec := NewRecorder(4)
	boom := Func(func(context.Context, Event) error { return errors.New("boom") })
	err := Fanout{rec, nil, boom, Nop{}}.Emit(context.Background(), Event{Name: TaskUpdated})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected joined error, got %v", err)
	}
	if got := rec.Drain(); len(got) != 1 || got[0].Name != TaskUpdated {
		t.Fatalf("recorder missed event: %+v", got)
	}
}
