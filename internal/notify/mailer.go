package notify

import (
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Notifier dispatches account emails. Implementations are best effort: the
// auth flows that call them never surface a delivery failure to the client.
type Notifier interface {
	SendPasswordReset(toEmail, displayName, resetToken string) error
	SendWelcome(toEmail, displayName string) error
}

// Config holds SMTP settings for the mail notifier.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	SMTPHost  string `yaml:"smtp_host"`
	SMTPPort  int    `yaml:"smtp_port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	FromEmail string `yaml:"from_email"`
	BaseURL   string `yaml:"base_url"` // Public base URL used in reset links.
}

// Mailer sends account emails over SMTP.
type Mailer struct {
	client    *mail.Client
	fromEmail string
	baseURL   string
	logger    *zap.Logger
}

func NewMailer(cfg Config, logger *zap.Logger) (*Mailer, error) {
	client, err := mail.NewClient(cfg.SMTPHost,
		mail.WithPort(cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}

	return &Mailer{
		client:    client,
		fromEmail: cfg.FromEmail,
		baseURL:   baseURL,
		logger:    logger,
	}, nil
}

func (m *Mailer) SendPasswordReset(toEmail, displayName, resetToken string) error {
	subject := "Reset your ForgeBoard password"
	body := fmt.Sprintf(
		"Hello %s,\n\n"+
			"A password reset was requested for your account. Open the link below to choose a new password:\n\n"+
			"%s/reset-password?token=%s\n\n"+
			"The link expires in one hour. If you did not request this, you can ignore this email.\n",
		displayName, m.baseURL, resetToken)

	return m.send(toEmail, subject, body)
}

func (m *Mailer) SendWelcome(toEmail, displayName string) error {
	subject := "Welcome to ForgeBoard"
	body := fmt.Sprintf(
		"Hello %s,\n\n"+
			"Your account has been created. Sign in at %s to get started.\n",
		displayName, m.baseURL)

	return m.send(toEmail, subject, body)
}

func (m *Mailer) send(toEmail, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.fromEmail); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.client.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Debug("email dispatched", zap.String("to", toEmail), zap.String("subject", subject))
	return nil
}

// NopNotifier is used when email is disabled; sends succeed silently.
type NopNotifier struct{}

func (NopNotifier) SendPasswordReset(string, string, string) error { return nil }
func (NopNotifier) SendWelcome(string, string) error               { return nil }
