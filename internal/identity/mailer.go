package identity

import (
	"context"
	"fmt"
	"html"

	"write-paid/internal/config"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const verificationSubject = "Confirm your email for Write & Paid"

// Mailer отправляет письма пользователям
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPMailer отправляет письма через SMTP
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

// NewSMTPMailer создает отправителя писем
func NewSMTPMailer(cfg config.SMTPConfig, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

// Send отправляет HTML-письмо
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("ошибка отправки письма: %w", err)
	}

	m.logger.Info("письмо отправлено", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// LogMailer пишет письма в лог вместо отправки. Используется без SMTP.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer создает отправителя, пишущего в лог
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send пишет письмо в лог
func (m *LogMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.logger.Info("SMTP не настроен, письмо не отправлено",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", htmlBody))
	return nil
}

// VerificationBody формирует тело письма со ссылкой подтверждения
func VerificationBody(link string) string {
	escaped := html.EscapeString(link)
	return fmt.Sprintf(`<p>Welcome to Write &amp; Paid!</p>
<p>Please confirm your email address to activate your account:</p>
<p><a href="%s">Verify my email</a></p>
<p>If the button does not work, copy this link into your browser:<br>%s</p>`, escaped, escaped)
}
