// Package channel defines the notification transports the workers
// deliver through: email and voice calls. Implementations enforce
// their own invariants (recipient validation, call rate caps, critical
// time windows); the workers only classify the outcome.
package channel

import (
	"context"
	"fmt"
	"time"
)

// SkippableError marks a delivery that cannot succeed for this
// recipient (missing or invalid contact). The worker counts it as a
// skip, never as a failure, and never retries it as-is.
type SkippableError struct {
	Reason string
}

func (e *SkippableError) Error() string { return "skippable delivery: " + e.Reason }

// TransientError marks a transport-level failure (timeout, provider
// error). The alert stays pending and retries naturally on the next
// poll tick.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient channel error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Directory resolves a user's contact details. A missing contact is
// reported as a SkippableError.
type Directory interface {
	Email(ctx context.Context, userID string) (string, error)
	Phone(ctx context.Context, userID string) (string, error)
}

// EmailMessage is one outbound email.
type EmailMessage struct {
	Recipient string
	Subject   string
	Body      string
}

// EmailSender delivers email notifications.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// CallStatus classifies the outcome of a call attempt.
type CallStatus string

const (
	CallInitiated   CallStatus = "initiated"
	CallFailed      CallStatus = "failed"
	CallSkipped     CallStatus = "skipped"
	CallRateLimited CallStatus = "rateLimited"
)

// CallRequest asks for one outbound voice call. To must already be a
// valid E.164 number; AnchorAt is the event time the critical-window
// check is measured against.
type CallRequest struct {
	To       string
	Script   string
	UserID   string
	EventID  string
	AnchorAt time.Time
}

// CallResult reports the outcome of a call attempt. Err is non-nil only
// for transport failures (Status == CallFailed).
type CallResult struct {
	Status         CallStatus
	ProviderCallID string
}

// CallPlacer places voice calls.
type CallPlacer interface {
	// Check reports, without dialing, whether Place would refuse the
	// request (bad number, outside the critical window, over the call
	// cap). A non-nil result is a SkippableError.
	Check(ctx context.Context, req CallRequest) error
	Place(ctx context.Context, req CallRequest) (*CallResult, error)
}
