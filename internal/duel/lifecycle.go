package duel

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event names a requested lifecycle transition.
type Event string

const (
	EventJoin   Event = "join"
	EventCancel Event = "cancel"
	EventExpire Event = "expire"
	EventSettle Event = "settle"
)

// InvalidTransitionError reports a transition the state machine forbids.
// It is recoverable: the caller may retry later or give up.
type InvalidTransitionError struct {
	From   Status
	Event  Event
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition: cannot %s a duel in state %q", e.Event, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ErrNotReady indicates a settle attempt before the duel window elapsed.
var ErrNotReady = errors.New("duel window has not elapsed yet")

// CanJoin validates the open→live transition for the given joiner.
func (d *Duel) CanJoin(joiner string) error {
	if d.Status != StatusOpen {
		return &InvalidTransitionError{From: d.Status, Event: EventJoin}
	}
	if d.OnChainID == nil {
		return &InvalidTransitionError{From: d.Status, Event: EventJoin, Reason: "duel has no on-chain id"}
	}
	if strings.EqualFold(joiner, d.Creator) {
		return &InvalidTransitionError{From: d.Status, Event: EventJoin, Reason: "creator cannot join own duel"}
	}
	return nil
}

// Join applies open→live, capturing the start price and window timestamps.
func (d *Duel) Join(joiner string, startPrice int64, now time.Time) error {
	if err := d.CanJoin(joiner); err != nil {
		return err
	}
	endsAt := now.Add(time.Duration(d.DurationSeconds) * time.Second)
	d.Status = StatusLive
	d.Joiner = &joiner
	d.StartPrice = &startPrice
	d.StartedAt = &now
	d.EndsAt = &endsAt
	return nil
}

// CanCancel validates a creator-initiated open→cancelled transition.
func (d *Duel) CanCancel(caller string) error {
	if d.Status != StatusOpen {
		return &InvalidTransitionError{From: d.Status, Event: EventCancel}
	}
	if d.Joiner != nil {
		return &InvalidTransitionError{From: d.Status, Event: EventCancel, Reason: "duel already has a joiner"}
	}
	if !strings.EqualFold(caller, d.Creator) {
		return &InvalidTransitionError{From: d.Status, Event: EventCancel, Reason: "only the creator may cancel"}
	}
	return nil
}

// CanExpire validates the reaper's open→cancelled transition.
func (d *Duel) CanExpire(now time.Time, window time.Duration) error {
	if d.Status != StatusOpen {
		return &InvalidTransitionError{From: d.Status, Event: EventExpire}
	}
	if now.Sub(d.CreatedAt) <= window {
		return &InvalidTransitionError{From: d.Status, Event: EventExpire, Reason: "expiry window has not elapsed"}
	}
	return nil
}

// CanSettle validates the live→settled transition.
func (d *Duel) CanSettle(now time.Time) error {
	if d.Status != StatusLive {
		return &InvalidTransitionError{From: d.Status, Event: EventSettle}
	}
	if !d.Ended(now) {
		return ErrNotReady
	}
	return nil
}
