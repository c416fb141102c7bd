package policy

import (
	"context"
	"fmt"
	"time"
)

// WindowState reports whether free-form replies are currently permitted for a
// conversation. Outside the session window only templated sends are allowed.
type WindowState string

const (
	InWindow    WindowState = "IN_WINDOW"
	OutOfWindow WindowState = "OUT_OF_WINDOW"
)

// DefaultSessionWindow mirrors the WhatsApp Business 24-hour customer
// service window.
const DefaultSessionWindow = 24 * time.Hour

// LastInboundSource reads the timestamp of the most recent inbound message
// for a conversation. A nil result means no inbound message was ever recorded.
type LastInboundSource interface {
	LastInboundAt(ctx context.Context, conversationID string) (*time.Time, error)
}

// Resolver computes session-window state from stored message history.
type Resolver struct {
	source LastInboundSource
	window time.Duration
	now    func() time.Time
}

func NewResolver(source LastInboundSource, window time.Duration) *Resolver {
	if source == nil {
		panic("policy: last-inbound source required")
	}
	if window <= 0 {
		window = DefaultSessionWindow
	}
	return &Resolver{source: source, window: window, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (r *Resolver) WithNow(now func() time.Time) *Resolver {
	if now != nil {
		r.now = now
	}
	return r
}

// WindowState returns IN_WINDOW when the newest inbound message is within the
// session window of now. A conversation with no inbound message defaults to
// IN_WINDOW; see the note on Resolver for why that default is permissive.
//
// Note: the permissive no-inbound default is inherited behavior. It lets the
// first outreach on a brand-new thread go out as free text; flag it to the
// product owner before relying on it for a channel with stricter rules.
func (r *Resolver) WindowState(ctx context.Context, conversationID string) (WindowState, error) {
	last, err := r.source.LastInboundAt(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("policy: resolve window state: %w", err)
	}
	if last == nil {
		return InWindow, nil
	}
	if r.now().Sub(*last) <= r.window {
		return InWindow, nil
	}
	return OutOfWindow, nil
}
