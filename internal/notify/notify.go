// Package notify sends patent alert emails over SMTP. Bodies are written
// as markdown and rendered to HTML for delivery.
package notify

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"

	"github.com/joelkehle/designwatch/internal/config"
	"github.com/joelkehle/designwatch/internal/patent"
)

// Store records delivery outcomes for auditing.
type Store interface {
	MarkNotified(patentNumber string, at time.Time) error
	LogNotification(patentNumber, notificationType, recipient, status, errText string) error
}

type Notifier struct {
	cfg   config.SMTPConfig
	store Store
	now   func() time.Time

	send func(subject, htmlBody string) error
}

func New(cfg config.SMTPConfig, store Store) *Notifier {
	n := &Notifier{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
	n.send = n.sendSMTP
	return n
}

// SendNewPatentAlerts emails one digest covering all new alerts and marks
// each patent notified on success.
func (n *Notifier) SendNewPatentAlerts(alerts []patent.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	count := len(alerts)
	subject := fmt.Sprintf("Patent Monitor: %d new design patent%s found", count, plural(count))
	title := fmt.Sprintf("%d New Design Patent%s Found", count, plural(count))
	subtitle := "Detected on " + n.now().Format("January 2, 2006")

	body, err := renderAlertEmail(title, subtitle, alerts, n.now())
	if err != nil {
		return err
	}
	if err := n.deliver("new_patent", alerts, subject, body); err != nil {
		return err
	}

	now := n.now()
	for _, a := range alerts {
		if err := n.store.MarkNotified(a.Patent.PatentNumber, now); err != nil {
			log.Printf("notify: mark notified %s: %v", a.Patent.PatentNumber, err)
		}
	}
	return nil
}

// SendPGRReminder emails a deadline reminder for flagged patents under
// the given months threshold.
func (n *Notifier) SendPGRReminder(patents []patent.Patent, monthsThreshold float64) error {
	if len(patents) == 0 {
		return nil
	}

	alerts := make([]patent.Alert, len(patents))
	for i, p := range patents {
		alerts[i] = patent.Alert{Patent: p, Analysis: p.Analysis}
	}
	count := len(patents)
	subject := fmt.Sprintf("PGR DEADLINE REMINDER: %d patent%s with less than %g months remaining",
		count, plural(count), monthsThreshold)
	title := "PGR Deadline Approaching"
	subtitle := fmt.Sprintf("%d flagged patent%s with less than %g months until Post-Grant Review deadline",
		count, plural(count), monthsThreshold)

	body, err := renderAlertEmail(title, subtitle, alerts, n.now())
	if err != nil {
		return err
	}
	return n.deliver("pgr_reminder", alerts, subject, body)
}

// SendTestEmail verifies the SMTP configuration end to end.
func (n *Notifier) SendTestEmail() error {
	body, err := renderTestEmail()
	if err != nil {
		return err
	}
	return n.deliver("test", nil, "Patent Monitor: Test Email", body)
}

func (n *Notifier) deliver(notificationType string, alerts []patent.Alert, subject, htmlBody string) error {
	if !n.cfg.Enabled {
		log.Printf("notify: email disabled, skipping %q", subject)
		return nil
	}
	if len(n.cfg.Recipients) == 0 {
		return fmt.Errorf("no email recipients configured")
	}

	err := n.send(subject, htmlBody)

	recipient := strings.Join(n.cfg.Recipients, ", ")
	status, errText := "sent", ""
	if err != nil {
		status = "failed"
		errText = err.Error()
	}
	if len(alerts) == 0 {
		if logErr := n.store.LogNotification("", notificationType, recipient, status, errText); logErr != nil {
			log.Printf("notify: log notification: %v", logErr)
		}
	}
	for _, a := range alerts {
		if logErr := n.store.LogNotification(a.Patent.PatentNumber, notificationType, recipient, status, errText); logErr != nil {
			log.Printf("notify: log notification %s: %v", a.Patent.PatentNumber, logErr)
		}
	}

	if err != nil {
		return fmt.Errorf("send email %q: %w", subject, err)
	}
	log.Printf("notify: sent %q to %d recipients", subject, len(n.cfg.Recipients))
	return nil
}

func (n *Notifier) sendSMTP(subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	var msg strings.Builder
	msg.WriteString("From: " + n.cfg.User + "\r\n")
	msg.WriteString("To: " + strings.Join(n.cfg.Recipients, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	auth := smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
	if n.cfg.UseTLS {
		return sendWithStartTLS(addr, n.cfg.Host, auth, n.cfg.User, n.cfg.Recipients, []byte(msg.String()))
	}
	return smtp.SendMail(addr, auth, n.cfg.User, n.cfg.Recipients, []byte(msg.String()))
}

// sendWithStartTLS is smtp.SendMail with an explicit STARTTLS upgrade so
// servers that require the extension before AUTH are handled.
func sendWithStartTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
