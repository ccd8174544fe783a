package email

import (
	"context"
	"errors"
)

var ErrNoRecipient = errors.New("no_recipient")

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
}

// TransmissionError marks a failure to hand a message to the mail server.
// Callers treat it as retryable.
type TransmissionError struct {
	Err error
}

func (e *TransmissionError) Error() string {
	return "email transmission failed: " + e.Err.Error()
}

func (e *TransmissionError) Unwrap() error {
	return e.Err
}

func (e *TransmissionError) Transmission() bool {
	return true
}

// NoOpProvider accepts every message and sends nothing. It is used when SMTP
// is disabled.
type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 {
		return ErrNoRecipient
	}
	return ctx.Err()
}
