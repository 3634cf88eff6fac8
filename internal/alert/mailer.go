package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"gas-monitor/internal/models"
)

// SMTPConfig holds SMTP submission settings
type SMTPConfig struct {
	Host     string
	Port     int // 587 for STARTTLS submission
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// SMTPMailer sends plain-text alert emails over STARTTLS
type SMTPMailer struct {
	config SMTPConfig
}

// NewSMTPMailer validates the config and returns a mailer
func NewSMTPMailer(config SMTPConfig) (*SMTPMailer, error) {
	if config.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if config.From == "" || len(config.To) == 0 {
		return nil, errors.New("mail sender and at least one recipient are required")
	}
	if config.Port == 0 {
		config.Port = 587
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &SMTPMailer{config: config}, nil
}

// Send delivers one message per call. The connection is not reused.
func (m *SMTPMailer) Send(ctx context.Context, ev models.ClassifiedEvent) error {
	msg, err := m.buildMessage(ev)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.config.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(m.config.Timeout),
	}
	if m.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.config.Username),
			mail.WithPassword(m.config.Password),
		)
	}

	client, err := mail.NewClient(m.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (m *SMTPMailer) buildMessage(ev models.ClassifiedEvent) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.config.From); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(m.config.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	subject, body := FormatMessage(ev)
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// FormatMessage returns the subject and plain-text body for an event
func FormatMessage(ev models.ClassifiedEvent) (string, string) {
	subject := fmt.Sprintf("Gas Level Prediction - %s", ev.Level)

	var b strings.Builder
	fmt.Fprintf(&b, "Prediction Time: %s\n\nSensor Data:\n", ev.Timestamp)
	fmt.Fprintf(&b, "Temperature: %.2f\n", ev.Temperature)
	fmt.Fprintf(&b, "Humidity: %.2f\n", ev.Humidity)
	fmt.Fprintf(&b, "Gas Concentration: %.2f\n", ev.GasPPM)
	fmt.Fprintf(&b, "\nPrediction: %s", ev.Level)
	return subject, b.String()
}
