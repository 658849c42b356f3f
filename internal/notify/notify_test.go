package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

type recordingPublisher struct {
	subject string
	payload any
}

func (r *recordingPublisher) Publish(subject string, payload any) error {
	r.subject = subject
	r.payload = payload
	return nil
}

type failingNotifier struct{}

func (failingNotifier) Notify(ctx context.Context, destination, subject, body string) error {
	return errors.New("down")
}

func TestSMTPNotifierBuildsMessage(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.local", Port: 25, From: "alerts@example.com"})
	var gotAddr string
	var gotTo []string
	var gotMsg string
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}
	if err := n.Notify(context.Background(), "noc@example.com", "Alert: cpu_util > 90\r\nBcc: x", "body"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotAddr != "mail.local:25" || len(gotTo) != 1 || gotTo[0] != "noc@example.com" {
		t.Fatalf("unexpected envelope %s %v", gotAddr, gotTo)
	}
	if strings.Contains(gotMsg, "\r\nBcc:") {
		t.Fatalf("header injection not stripped: %q", gotMsg)
	}
	if !strings.HasSuffix(gotMsg, "\r\n\r\nbody") {
		t.Fatalf("unexpected message: %q", gotMsg)
	}
}

func TestBusNotifierPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	n := &BusNotifier{Publisher: pub, Subject: "alerts.notifications"}
	if err := n.Notify(context.Background(), "noc", "subj", "body"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg, ok := pub.payload.(Message)
	if pub.subject != "alerts.notifications" || !ok || msg.Destination != "noc" {
		t.Fatalf("unexpected publish %s %+v", pub.subject, pub.payload)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	pub := &recordingPublisher{}
	f := Fanout{failingNotifier{}, &BusNotifier{Publisher: pub, Subject: "s"}}
	err := f.Notify(context.Background(), "noc", "subj", "body")
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if pub.subject != "s" {
		t.Fatalf("expected later notifier to still run")
	}
}
