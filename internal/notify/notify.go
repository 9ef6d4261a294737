package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a plain text message to one recipient.
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}

type Settings struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Sender          string
	DefaultReceiver string
}

func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SettingsProvider resolves the SMTP settings in effect for a send.
type SettingsProvider interface {
	SMTPSettings(ctx context.Context) (Settings, error)
}

// StaticSettings is a SettingsProvider that always returns itself.
type StaticSettings Settings

func (s StaticSettings) SMTPSettings(context.Context) (Settings, error) {
	return Settings(s), nil
}

// SMTPNotifier sends mail over implicit TLS on port 465, STARTTLS on 587
// and plain SMTP otherwise.
type SMTPNotifier struct {
	settings SettingsProvider
	timeout  time.Duration
	now      func() time.Time
}

func NewSMTPNotifier(settings SettingsProvider, timeout time.Duration) *SMTPNotifier {
	return &SMTPNotifier{
		settings: settings,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (n *SMTPNotifier) Notify(ctx context.Context, to, subject, body string) error {
	settings, err := n.settings.SMTPSettings(ctx)
	if err != nil {
		return fmt.Errorf("resolve smtp settings: %w", err)
	}
	if settings.Host == "" || settings.Sender == "" {
		return fmt.Errorf("smtp is not configured")
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	msg := buildMessage(settings.Sender, to, subject, body, n.now())

	start := time.Now()
	if err := n.send(ctx, settings, to, msg); err != nil {
		log.Error().
			Err(err).
			Str("host", settings.Host).
			Int("port", settings.Port).
			Dur("elapsed", time.Since(start)).
			Msg("smtp send failed")
		return err
	}

	log.Info().
		Str("host", settings.Host).
		Dur("elapsed", time.Since(start)).
		Msg("mail sent")
	return nil
}

func (n *SMTPNotifier) send(ctx context.Context, s Settings, to string, msg []byte) error {
	deadline := time.Now().Add(n.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := &net.Dialer{Deadline: deadline}
	var conn net.Conn
	var err error
	if s.Port == 465 {
		conn, err = tls.DialWithDialer(dialer, "tcp", s.Addr(), &tls.Config{ServerName: s.Host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.Addr())
	}
	if err != nil {
		return fmt.Errorf("connect to smtp server: %w", err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	if s.Port == 587 {
		if err := client.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.Password != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			username := s.Username
			if username == "" {
				username = s.Sender
			}
			if err := client.Auth(smtp.PlainAuth("", username, s.Password, s.Host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.Sender); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}

	return client.Quit()
}

func buildMessage(from, to, subject, body string, date time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
