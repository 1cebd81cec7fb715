package services

import (
	"context"
	"fmt"
	"net/smtp"

	"storefront/models"

	"go.uber.org/zap"
)

// Notifier sends order lifecycle messages. Sending is best-effort: a delivery
// failure never affects the order.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order, customerEmail string)
	NotifyAdmin(ctx context.Context, order *models.Order, customerEmail string)
}

// EmailSender is the transport behind the Notifier.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMTPSender struct {
	host     string
	port     string
	username string
	password string
}

func NewSMTPSender(host, port, username, password string) (*SMTPSender, error) {
	if host == "" || port == "" || username == "" || password == "" {
		return nil, fmt.Errorf("incomplete SMTP configuration")
	}
	return &SMTPSender{host: host, port: port, username: username, password: password}, nil
}

func (s *SMTPSender) SendEmail(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	msg := []byte(
		"From: " + s.username + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body,
	)

	if err := smtp.SendMail(addr, auth, s.username, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

type NotificationService struct {
	sender     EmailSender
	adminEmail string
	logger     *zap.Logger
}

func NewNotificationService(sender EmailSender, adminEmail string, logger *zap.Logger) *NotificationService {
	return &NotificationService{sender: sender, adminEmail: adminEmail, logger: logger}
}

func (n *NotificationService) SendOrderConfirmation(ctx context.Context, order *models.Order, customerEmail string) {
	if n.sender == nil || customerEmail == "" {
		return
	}
	subject := fmt.Sprintf("Order confirmation %s", order.ID)
	body := fmt.Sprintf(
		"<p>Thanks for your order!</p><p>Order <b>%s</b> for a total of $%s is now being processed.</p>",
		order.ID, order.Total.StringFixed(2),
	)
	if err := n.sender.SendEmail(ctx, customerEmail, subject, body); err != nil {
		n.logger.Warn("Failed to send order confirmation",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}
}

func (n *NotificationService) NotifyAdmin(ctx context.Context, order *models.Order, customerEmail string) {
	if n.sender == nil || n.adminEmail == "" {
		return
	}
	subject := fmt.Sprintf("New paid order %s", order.ID)
	body := fmt.Sprintf(
		"<p>Order <b>%s</b> (%s) was paid: $%s.</p>",
		order.ID, customerEmail, order.Total.StringFixed(2),
	)
	if err := n.sender.SendEmail(ctx, n.adminEmail, subject, body); err != nil {
		n.logger.Warn("Failed to send admin notification",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}
}
