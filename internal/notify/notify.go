// Package notify delivers rendered reports by email.
package notify

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"
)

// EmailSender sends HTML reports over SMTP. Delivery is single-shot;
// retrying a failed send is the caller's decision.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailSender(host string, port int, username, password, from string) *EmailSender {
	return &EmailSender{dialer: gomail.NewDialer(host, port, username, password), from: from}
}

func (s *EmailSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	// gomail has no context support; bound the send so a stuck SMTP
	// conversation cannot hang a batch run.
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sending report to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending report to %s: %w", to, ctx.Err())
	}
}
