package channel

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
)

var e164Re = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Provider performs the actual telephony dial-out. Transport errors
// surface as plain errors; the Caller wraps them.
type Provider interface {
	Dial(ctx context.Context, to, script string) (providerCallID string, err error)
}

// CallerConfig holds the call channel's own invariants.
type CallerConfig struct {
	// CriticalWindow: a call is refused when more than this much time
	// remains before the anchor. Zero disables the check.
	CriticalWindow time.Duration
	// MaxPerEvent caps calls per (user, event).
	MaxPerEvent int
}

// Caller places voice calls, enforcing E.164 validation, the per
// (user, event) call cap, and the critical time window before handing
// off to the provider.
type Caller struct {
	provider Provider
	cfg      CallerConfig
	rates    *rateTracker
	now      func() time.Time
}

// NewCaller creates a call channel over the given provider.
func NewCaller(provider Provider, cfg CallerConfig) *Caller {
	return &Caller{
		provider: provider,
		cfg:      cfg,
		rates:    newRateTracker(),
		now:      time.Now,
	}
}

// WithClock overrides the caller's clock. Test hook.
func (c *Caller) WithClock(now func() time.Time) *Caller {
	c.now = now
	return c
}

// Check validates the request without dialing or consuming the call
// cap.
func (c *Caller) Check(_ context.Context, req CallRequest) error {
	if !e164Re.MatchString(req.To) {
		return &SkippableError{Reason: fmt.Sprintf("phone %q is not E.164", req.To)}
	}
	if c.cfg.CriticalWindow > 0 && !req.AnchorAt.IsZero() {
		if remaining := req.AnchorAt.Sub(c.now()); remaining > c.cfg.CriticalWindow {
			return &SkippableError{Reason: fmt.Sprintf("outside critical window: %s until anchor", remaining.Round(time.Second))}
		}
	}
	if c.rates.exceeded(req.UserID+"|"+req.EventID, c.cfg.MaxPerEvent) {
		return &SkippableError{Reason: fmt.Sprintf("call cap reached for user %s event %s", req.UserID, req.EventID)}
	}
	return nil
}

func (c *Caller) Place(ctx context.Context, req CallRequest) (*CallResult, error) {
	if !e164Re.MatchString(req.To) {
		return &CallResult{Status: CallSkipped}, &SkippableError{Reason: fmt.Sprintf("phone %q is not E.164", req.To)}
	}
	if c.cfg.CriticalWindow > 0 && !req.AnchorAt.IsZero() {
		if remaining := req.AnchorAt.Sub(c.now()); remaining > c.cfg.CriticalWindow {
			return &CallResult{Status: CallSkipped},
				&SkippableError{Reason: fmt.Sprintf("outside critical window: %s until anchor", remaining.Round(time.Second))}
		}
	}
	key := req.UserID + "|" + req.EventID
	if !c.rates.allow(key, c.cfg.MaxPerEvent, c.now()) {
		return &CallResult{Status: CallRateLimited}, nil
	}

	id, err := c.provider.Dial(ctx, req.To, req.Script)
	if err != nil {
		return &CallResult{Status: CallFailed}, &TransientError{Err: err}
	}
	return &CallResult{Status: CallInitiated, ProviderCallID: id}, nil
}

// StartSweeper evicts stale rate-tracking entries on the given interval
// until ctx is cancelled.
func (c *Caller) StartSweeper(ctx context.Context, interval, retain time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.rates.sweep(c.now().Add(-retain))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// rateTracker is an explicit keyed store of call counts per
// (user, event), rather than ambient module state, so it is testable
// and can later be promoted to a shared store.
type rateTracker struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
}

type rateEntry struct {
	count      int
	lastSeenAt time.Time
}

func newRateTracker() *rateTracker {
	return &rateTracker{entries: make(map[string]*rateEntry)}
}

// allow increments the counter for key and reports whether the call is
// within the cap. A max of zero or less means unlimited.
func (t *rateTracker) allow(key string, max int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &rateEntry{}
		t.entries[key] = e
	}
	e.lastSeenAt = now
	if max > 0 && e.count >= max {
		return false
	}
	e.count++
	return true
}

// exceeded reports whether key is at the cap, without counting an
// attempt.
func (t *rateTracker) exceeded(key string, max int) bool {
	if max <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return ok && e.count >= max
}

// sweep drops entries last seen before cutoff.
func (t *rateTracker) sweep(cutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		if e.lastSeenAt.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}
