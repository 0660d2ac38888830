// Package mail delivers reservation confirmations over SMTP.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	netmail "net/mail"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/ubicatec/ubicatec-api/internal/config"
	"github.com/ubicatec/ubicatec-api/internal/queue"
)

// Mailer sends confirmation mails through one SMTP relay.  Each Notify call
// opens its own connection bounded by the context deadline.
type Mailer struct {
	cfg config.SMTPConfig
	log *zap.Logger
}

func NewMailer(cfg config.SMTPConfig, log *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

// Notify renders and sends the confirmation for ev.
func (m *Mailer) Notify(ctx context.Context, ev queue.ReservationConfirmed) error {
	if ev.UserEmail == "" {
		return fmt.Errorf("mail: reservation %d has no recipient", ev.ReservationID)
	}
	msg, err := BuildConfirmation(m.cfg.From, ev)
	if err != nil {
		return err
	}
	if err := m.Send(ctx, msg); err != nil {
		return err
	}
	m.log.Info("confirmation mail sent",
		zap.Uint64("id_reserva", ev.ReservationID), zap.String("to", ev.UserEmail))
	return nil
}

// Send delivers a rendered message.  The dial honours ctx and the whole
// exchange is bounded by ctx's deadline.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	from, err := netmail.ParseAddress(m.cfg.From)
	if err != nil {
		return fmt.Errorf("mail: bad sender %q: %w", m.cfg.From, err)
	}
	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mail: dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// unblock the exchange if ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mail: handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("mail: starttls: %w", err)
		}
	}
	if m.cfg.User != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)); err != nil {
				return fmt.Errorf("mail: auth: %w", err)
			}
		}
	}
	if err := c.Mail(from.Address); err != nil {
		return fmt.Errorf("mail: MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("mail: RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("mail: DATA: %w", err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		return fmt.Errorf("mail: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mail: end body: %w", err)
	}
	return c.Quit()
}
