package notify

import (
	"crypto/tls"
	"fmt"
	"net/smtp"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/plb/internal/config"
)

// Notifier delivers operator-attention messages. Delivery failures are
// logged, never propagated: a broken mail relay must not stop balancing.
type Notifier interface {
	Notify(message string)
}

// NewNotifier returns a mail notifier when sending is ON, otherwise a no-op.
func NewNotifier(cfg config.Mail) Notifier {
	if !cfg.Sending.On() {
		return nopNotifier{}
	}
	return &MailNotifier{cfg: cfg}
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

// MailNotifier sends plain-text mail through the configured SMTP relay.
type MailNotifier struct {
	cfg config.Mail
}

// Notify sends one message.
func (m *MailNotifier) Notify(message string) {
	if err := m.send(message); err != nil {
		logrus.Debugf("Sending mail failed: %v", err)
		return
	}
	logrus.Debug("Notification sent")
}

func (m *MailNotifier) send(message string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Server.Address, m.cfg.Server.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer client.Quit()

	if m.cfg.SSLTLS.On() {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Server.Address}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.Login != "" {
		auth := smtp.PlainAuth("", m.cfg.Login, m.cfg.Password, m.cfg.Server.Address)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(m.cfg.To); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.cfg.From, m.cfg.To, m.cfg.MessageSubject, message)
	if _, err := w.Write([]byte(body)); err != nil {
		return fmt.Errorf("writing body: %w", err)
	}
	return w.Close()
}
