package email

import (
	"context"
	"strings"

	"gopkg.in/gomail.v2"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg    Config
	dialer *gomail.Dialer
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := p.cfg.From
	if from == "" {
		from = p.dialer.Username
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	// gomail has no context support; the send keeps running in the
	// background after ctx is done.
	done := make(chan error, 1)
	go func() {
		done <- p.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return &TransmissionError{Err: err}
		}
		return nil
	}
}
