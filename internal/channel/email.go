package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

// SMTP sends mail through a plain SMTP relay. It performs one bounded
// internal retry before surfacing a TransientError, matching the
// worker's "no retry within a tick" policy.
type SMTP struct {
	addr    string // host:port
	from    string
	timeout time.Duration
	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr, from string, to []string, msg []byte) error
}

// NewSMTP creates an SMTP email sender.
func NewSMTP(addr, from string, timeout time.Duration) *SMTP {
	return &SMTP{
		addr:    addr,
		from:    from,
		timeout: timeout,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// CheckEmailAddress reports, without sending, whether addr would be
// refused as a recipient. A non-nil result is a SkippableError, so
// callers can validate before committing to a delivery.
func CheckEmailAddress(addr string) error {
	if !strings.Contains(addr, "@") {
		return &SkippableError{Reason: fmt.Sprintf("invalid email recipient %q", addr)}
	}
	return nil
}

func (s *SMTP) Send(ctx context.Context, msg EmailMessage) error {
	if err := CheckEmailAddress(msg.Recipient); err != nil {
		return err
	}

	raw := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.from, msg.Recipient, msg.Subject, msg.Body))

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			slog.Warn("smtp retry", "recipient", msg.Recipient, "err", lastErr)
		}
		done := make(chan error, 1)
		go func() { done <- s.send(s.addr, s.from, []string{msg.Recipient}, raw) }()
		select {
		case err := <-done:
			if err == nil {
				return nil
			}
			lastErr = err
		case <-time.After(s.timeout):
			lastErr = fmt.Errorf("smtp send timed out after %s", s.timeout)
		case <-ctx.Done():
			return &TransientError{Err: ctx.Err()}
		}
	}
	return &TransientError{Err: lastErr}
}
