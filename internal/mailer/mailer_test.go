package mailer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestSMTPSendPasswordReset(t *testing.T) {
	m := NewSMTP("mail.example.com", "2525", "relay", "pw", "no-reply@example.com")
	m.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	var (
		gotAddr string
		gotAuth smtp.Auth
		gotTo   []string
		gotMsg  string
	)
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	link := "https://portal.example.com/reset?token=abc"
	if err := m.SendPasswordReset(context.Background(), "ada@example.com", link); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if gotAddr != "mail.example.com:2525" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotAuth == nil {
		t.Error("expected auth when a username is set")
	}
	if len(gotTo) != 1 || gotTo[0] != "ada@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	for _, want := range []string{"To: ada@example.com\r\n", "Subject: Reset your password\r\n", link} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestSMTPRejectsHeaderInjection(t *testing.T) {
	m := NewSMTP("mail.example.com", "25", "", "", "no-reply@example.com")
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send called")
		return nil
	}
	if err := m.SendPasswordReset(context.Background(), "a@b.com\r\nBcc: x@y.com", "l"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestSMTPWrapsRelayError(t *testing.T) {
	relay := errors.New("451 try later")
	m := NewSMTP("mail.example.com", "25", "", "", "no-reply@example.com")
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return relay }
	if err := m.SendPasswordReset(context.Background(), "a@b.com", "l"); !errors.Is(err, relay) {
		t.Fatalf("err = %v", err)
	}
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := m.SendPasswordReset(context.Background(), "ada@example.com", "https://x/reset?token=t"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if !strings.Contains(buf.String(), `"link":"https://x/reset?token=t"`) {
		t.Errorf("log = %s", buf.String())
	}
}
