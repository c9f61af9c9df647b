// Package events carries change notifications from the sync core to
// the serving layer. The core publishes typed payloads on named topics
// and does not know how subscribers transport them.
package events

import (
	"time"

	evbus "github.com/asaskevich/EventBus"
)

const (
	TopicModeChanged = "polling:mode_changed"
	TopicDataUpdated = "cache:data_updated"
	TopicPollError   = "polling:poll_error"
	TopicPenalty     = "gate:penalty_activated"
)

// ModeChanged fires when an account's polling mode transitions.
type ModeChanged struct {
	AccountID int64     `json:"accountId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// DataUpdated fires after every successful cache write.
type DataUpdated struct {
	AccountID int64     `json:"accountId"`
	Kind      string    `json:"kind"`
	Count     int       `json:"count"`
	At        time.Time `json:"at"`
}

// PollError fires when a scheduled poll fails; the next scheduled tick
// is the retry.
type PollError struct {
	AccountID int64     `json:"accountId"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// PenaltyActivated fires when the request gate enters a penalty window.
type PenaltyActivated struct {
	Ticket  string    `json:"ticket,omitempty"`
	Until   time.Time `json:"until"`
	Captcha bool      `json:"captcha"`
}

// Bus is a typed facade over the underlying event bus.
type Bus struct {
	bus evbus.Bus
}

// NewBus constructs an in-process bus.
func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

func (b *Bus) PublishModeChanged(evt ModeChanged) { b.bus.Publish(TopicModeChanged, evt) }
func (b *Bus) PublishDataUpdated(evt DataUpdated) { b.bus.Publish(TopicDataUpdated, evt) }
func (b *Bus) PublishPollError(evt PollError)     { b.bus.Publish(TopicPollError, evt) }
func (b *Bus) PublishPenalty(evt PenaltyActivated) {
	b.bus.Publish(TopicPenalty, evt)
}

// Subscriptions run async so a slow consumer cannot stall a poll task.

func (b *Bus) SubscribeModeChanged(fn func(ModeChanged)) error {
	return b.bus.SubscribeAsync(TopicModeChanged, fn, false)
}

func (b *Bus) SubscribeDataUpdated(fn func(DataUpdated)) error {
	return b.bus.SubscribeAsync(TopicDataUpdated, fn, false)
}

func (b *Bus) SubscribePollError(fn func(PollError)) error {
	return b.bus.SubscribeAsync(TopicPollError, fn, false)
}

func (b *Bus) SubscribePenalty(fn func(PenaltyActivated)) error {
	return b.bus.SubscribeAsync(TopicPenalty, fn, false)
}

// WaitAsync blocks until all async handlers have drained; tests use it
// to assert on delivered events.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}
