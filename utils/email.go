package utils

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// EmailConfig holds SMTP configuration
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers OTP and reset mail over SMTP. It implements the
// core.Notifier interface; the core never depends on it directly.
type EmailSender struct {
	config EmailConfig
}

// NewEmailSender creates an EmailSender
func NewEmailSender(config EmailConfig) *EmailSender {
	if config.Port == 0 {
		config.Port = 587
	}
	return &EmailSender{config: config}
}

func (s *EmailSender) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(s.config.Host, s.config.Port, s.config.Username, s.config.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %v", err)
	}
	return nil
}

// SendOTP sends a registration OTP via email
func (s *EmailSender) SendOTP(to, otp string) error {
	body := fmt.Sprintf(`
		<h2>Welcome!</h2>
		<p>Please use the following code to verify your email address:</p>
		<h1 style="font-size: 32px; letter-spacing: 5px;">%s</h1>
		<p>This code will expire in 15 minutes.</p>
		<p>If you didn't request this code, please ignore this email.</p>
	`, otp)
	return s.send(to, "Your verification code", body)
}

// SendResetLink sends a one-time PIN reset link via email
func (s *EmailSender) SendResetLink(to, link string) error {
	body := fmt.Sprintf(`
		<h2>PIN reset requested</h2>
		<p>Use the link below to choose a new PIN. The link can be used once
		and expires in 30 minutes.</p>
		<p><a href="%s">%s</a></p>
		<p>If you didn't request this, please ignore this email.</p>
	`, link, link)
	return s.send(to, "Reset your PIN", body)
}
