package notifications

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// Mail is one outbound e-mail.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends e-mail on behalf of the notification service.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// SMTPConfig configures the gomail dialer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers mail through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer validates the relay settings and prepares a dialer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("notifications: smtp host required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, fmt.Errorf("notifications: smtp sender required")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, cfg.Username, cfg.Password),
		from:   from,
	}, nil
}

// Send dials the relay and sends a single plain-text message.
func (m *SMTPMailer) Send(ctx context.Context, mail Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	message := gomail.NewMessage()
	message.SetHeader("From", m.from)
	message.SetHeader("To", mail.To)
	message.SetHeader("Subject", mail.Subject)
	message.SetBody("text/plain", mail.Body)
	return m.dialer.DialAndSend(message)
}
