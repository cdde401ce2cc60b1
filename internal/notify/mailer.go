package notify

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var (
	ErrQueueFull   = errors.New("mail queue full")
	ErrQueueClosed = errors.New("mail queue closed")
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers through a plain SMTP relay.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (s SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := msg.render(s.From)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	return smtp.SendMail(addr, auth, s.From, []string{msg.To}, data)
}

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// headerSafe folds line breaks so a value cannot start a new header.
func headerSafe(v string) string {
	return strings.TrimSpace(headerBreaks.Replace(v))
}

// render builds the RFC 5322 message. Addresses with line breaks are rejected;
// the subject is folded and Q-encoded.
func (m Message) render(from string) ([]byte, error) {
	if strings.ContainsAny(from+m.To, "\r\n") {
		return nil, errors.New("mail address contains a line break")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerSafe(m.Subject)))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(m.Body)
	return []byte(b.String()), nil
}

type MailerConfig struct {
	QueueSize       int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	SendTimeout     time.Duration
}

// Mailer turns taskAssigned events into e-mails delivered by a background worker.
// Delivery goes through a circuit breaker; while it is open messages are dropped and logged.
type Mailer struct {
	sender  Sender
	log     logrus.FieldLogger
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	wg     sync.WaitGroup
}

func NewMailer(sender Sender, cfg MailerConfig, log logrus.FieldLogger) *Mailer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	m := &Mailer{
		sender:  sender,
		log:     log,
		timeout: cfg.SendTimeout,
		queue:   make(chan Message, cfg.QueueSize),
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	return m
}

// Emit enqueues an assignment e-mail. Other events are ignored.
func (m *Mailer) Emit(_ context.Context, ev Event) error {
	if ev.Name != TaskAssigned {
		return nil
	}
	msg, ok := AssignmentMessage(ev)
	if !ok {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrQueueClosed
	}
	select {
	case m.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// AssignmentMessage renders the e-mail for a taskAssigned event.
func AssignmentMessage(ev Event) (Message, bool) {
	to, _ := ev.Payload["assigneeEmail"].(string)
	if to == "" {
		return Message{}, false
	}
	title, _ := ev.Payload["title"].(string)
	name, _ := ev.Payload["assigneeName"].(string)
	if name == "" {
		name = to
	}
	taskID, _ := ev.Payload["taskId"].(string)
	body := fmt.Sprintf("Hello %s,\n\nYou have been assigned the task %q (id %s).\n", name, title, taskID)
	return Message{To: to, Subject: "New task assigned: " + headerSafe(title), Body: body}, true
}

// Start launches the delivery worker. It exits when the queue is closed.
func (m *Mailer) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for msg := range m.queue {
			m.deliver(ctx, msg)
		}
	}()
}

func (m *Mailer) deliver(ctx context.Context, msg Message) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.sender.Send(sendCtx, msg)
	})
	entry := m.log.WithFields(logrus.Fields{"to": msg.To, "subject": msg.Subject})
	if err != nil {
		entry.WithError(err).Warn("assignment mail not delivered")
		return
	}
	entry.Debug("assignment mail delivered")
}

// Close stops accepting messages and waits for the worker to flush the queue.
func (m *Mailer) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
