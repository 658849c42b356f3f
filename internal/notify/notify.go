package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"
	"strings"
)

// Notifier delivers a message to a destination such as a team mail alias.
type Notifier interface {
	Notify(ctx context.Context, destination, subject, body string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPNotifier sends plain-text mail.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) Notify(ctx context.Context, destination, subject, body string) error {
	if destination == "" {
		return errors.New("destination is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	from := n.cfg.From
	if from == "" {
		from = n.cfg.User
	}
	var auth smtp.Auth
	if n.cfg.User != "" {
		auth = smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
	}
	msg := buildMessage(from, destination, subject, body)
	addr := n.cfg.Host + ":" + strconv.Itoa(n.cfg.Port)
	if err := n.send(addr, auth, from, []string{destination}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func stripHeaderBreaks(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + stripHeaderBreaks(from) + "\r\n")
	b.WriteString("To: " + stripHeaderBreaks(to) + "\r\n")
	b.WriteString("Subject: " + stripHeaderBreaks(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// Publisher is the subset of the message bus used for notifications.
type Publisher interface {
	Publish(subject string, payload any) error
}

// BusNotifier publishes notifications for downstream consumers (chat
// integrations, paging) on a bus subject.
type BusNotifier struct {
	Publisher Publisher
	Subject   string
}

type Message struct {
	Destination string `json:"destination"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

func (n *BusNotifier) Notify(ctx context.Context, destination, subject, body string) error {
	return n.Publisher.Publish(n.Subject, Message{Destination: destination, Subject: subject, Body: body})
}

// Fanout sends to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, destination, subject, body string) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, destination, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only logs. It is the fallback when no transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, destination, subject, body string) error {
	n.Logger.Info("notification", slog.String("destination", destination), slog.String("subject", subject))
	return nil
}
