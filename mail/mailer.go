// Package mail sends the storefront's transactional mail.
package mail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

var ErrNotConfigured = errors.New("mail: sender not configured")

// ContactMessage 聯絡表單
type ContactMessage struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Validate reports the first missing field.
func (m ContactMessage) Validate() error {
	switch {
	case strings.TrimSpace(m.Name) == "":
		return errors.New("name is required")
	case strings.TrimSpace(m.Email) == "":
		return errors.New("email is required")
	case strings.TrimSpace(m.Message) == "":
		return errors.New("message is required")
	}
	return nil
}

type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
	SendOrderConfirmation(ctx context.Context, order *models.Order) error
	SendContact(ctx context.Context, msg ContactMessage) error
}

// Message is one outgoing mail.
type Message struct {
	ToName  string
	To      string
	Subject string
	Text    string
	ReplyTo string
}

// Sender delivers a single Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var _ Mailer = (*Service)(nil)

// Service renders storefront mail and hands it to a Sender.
type Service struct {
	sender Sender
	shop   string
	inbox  string
	logger *zap.Logger
}

func NewService(sender Sender, shopName, inbox string, logger *zap.Logger) *Service {
	return &Service{sender: sender, shop: shopName, inbox: inbox, logger: logger}
}

func (s *Service) SendPasswordReset(ctx context.Context, email, link string) error {
	return s.sender.Send(ctx, Message{
		To:      email,
		Subject: fmt.Sprintf("Reset your %s password", s.shop),
		Text: fmt.Sprintf("We received a request to reset your password.\n\n"+
			"Follow this link to choose a new one:\n%s\n\n"+
			"If you did not ask for this, you can ignore this email.", link),
	})
}

func (s *Service) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your order!\n\nOrder: %s\n\n", order.ID)
	for _, item := range order.Items {
		fmt.Fprintf(&b, "%d x %s  %s\n", item.Quantity, item.Name, item.Subtotal().StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTotal: %s %s\n\nShipping to:\n%s\n%s, %s\n%s\n",
		strings.ToUpper(order.Currency), order.Total.StringFixed(2),
		order.Shipping.Address, order.Shipping.City, order.Shipping.State, order.Shipping.Phone)

	return s.sender.Send(ctx, Message{
		To:      order.Email,
		Subject: fmt.Sprintf("%s order confirmed", s.shop),
		Text:    b.String(),
	})
}

func (s *Service) SendContact(ctx context.Context, msg ContactMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if s.inbox == "" {
		return ErrNotConfigured
	}
	return s.sender.Send(ctx, Message{
		ToName:  s.shop,
		To:      s.inbox,
		Subject: fmt.Sprintf("Contact form: %s", strings.TrimSpace(msg.Name)),
		Text:    fmt.Sprintf("From: %s <%s>\n\n%s", msg.Name, msg.Email, msg.Message),
		ReplyTo: msg.Email,
	})
}

var _ Sender = (*SendGridSender)(nil)

type SendGridSender struct {
	client   *sendgrid.Client
	from     string
	fromName string
	logger   *zap.Logger
}

func NewSendGridSender(apiKey, from, fromName string, logger *zap.Logger) *SendGridSender {
	return &SendGridSender{
		client:   sendgrid.NewSendClient(apiKey),
		from:     from,
		fromName: fromName,
		logger:   logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if s.from == "" {
		return ErrNotConfigured
	}
	if msg.To == "" {
		return fmt.Errorf("to address is empty")
	}

	htmlContent := fmt.Sprintf("<pre>%s</pre>", html.EscapeString(msg.Text))
	message := sgmail.NewSingleEmail(
		sgmail.NewEmail(s.fromName, s.from),
		msg.Subject,
		sgmail.NewEmail(msg.ToName, msg.To),
		msg.Text,
		htmlContent,
	)
	if msg.ReplyTo != "" {
		message.SetReplyTo(sgmail.NewEmail("", msg.ReplyTo))
	}

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("SendGrid rejected mail",
			zap.Int("status", resp.StatusCode),
			zap.String("body", resp.Body),
			zap.String("subject", msg.Subject))
		return fmt.Errorf("failed to send mail: status %d", resp.StatusCode)
	}

	s.logger.Info("Mail sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

var _ Sender = (*LogSender)(nil)

// LogSender only logs. Used when no SendGrid key is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("Mail not sent, no provider configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}
