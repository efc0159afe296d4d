// Package email delivers transactional mail through SendGrid.
package email

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/brandviz/brandviz/internal/config"
)

// Message is a rendered email ready to send
type Message struct {
	ToEmail   string
	ToName    string
	Subject   string
	PlainText string
	HTML      string
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridSender sends email through the SendGrid v3 API
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

func NewSendGridSender(cfg config.SendGridConfig, logger zerolog.Logger) *SendGridSender {
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger.With().Str("component", "email").Logger(),
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.PlainText, msg.HTML)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}

	s.logger.Info().Str("to", msg.ToEmail).Str("subject", msg.Subject).Int("status", response.StatusCode).Msg("email sent")
	return nil
}

// LogSender only logs messages. Used when no SendGrid key is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "email").Logger()}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Warn().
		Str("to", msg.ToEmail).
		Str("subject", msg.Subject).
		Str("body", msg.PlainText).
		Msg("SendGrid not configured, email not delivered")
	return nil
}

// New picks the SendGrid sender when an API key is present
func New(cfg config.SendGridConfig, logger zerolog.Logger) Sender {
	if cfg.APIKey == "" {
		return NewLogSender(logger)
	}
	return NewSendGridSender(cfg, logger)
}
