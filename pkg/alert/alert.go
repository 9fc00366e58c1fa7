// Package alert notifies about finished training runs. Runs spanning
// days fail at inconvenient hours; an email beats polling the monitor.
package alert

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/soundprediction/ordino/pkg/config"
)

// Alerter delivers out-of-band notifications about a run.
type Alerter interface {
	Alert(subject, message string) error
}

// Email sends notifications over SMTP with plain authentication. A
// disabled configuration drops messages silently, so callers alert
// unconditionally.
type Email struct {
	cfg config.AlertConfig
}

// NewEmail creates the SMTP alerter.
func NewEmail(cfg config.AlertConfig) *Email {
	return &Email{cfg: cfg}
}

// Alert implements Alerter.
func (a *Email) Alert(subject, message string) error {
	if !a.cfg.Enabled {
		return nil
	}

	auth := smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.SMTPHost)

	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		strings.Join(a.cfg.To, ","), subject, message))
	addr := fmt.Sprintf("%s:%d", a.cfg.SMTPHost, a.cfg.SMTPPort)

	if err := smtp.SendMail(addr, auth, a.cfg.From, a.cfg.To, msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}
