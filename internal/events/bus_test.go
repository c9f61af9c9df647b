package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversTypedEvents(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var modes []ModeChanged
	var updates []DataUpdated

	require.NoError(t, bus.SubscribeModeChanged(func(evt ModeChanged) {
		mu.Lock()
		modes = append(modes, evt)
		mu.Unlock()
	}))
	require.NoError(t, bus.SubscribeDataUpdated(func(evt DataUpdated) {
		mu.Lock()
		updates = append(updates, evt)
		mu.Unlock()
	}))

	bus.PublishModeChanged(ModeChanged{AccountID: 7, From: "IDLE", To: "ACTIVE", Reason: "active trading", At: time.Now()})
	bus.PublishDataUpdated(DataUpdated{AccountID: 7, Kind: "orders", Count: 2, At: time.Now()})
	bus.WaitAsync()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, modes, 1)
	assert.Equal(t, "ACTIVE", modes[0].To)
	require.Len(t, updates, 1)
	assert.Equal(t, 2, updates[0].Count)
}

func TestBus_PenaltyEventsReachSubscriber(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var penalties []PenaltyActivated
	require.NoError(t, bus.SubscribePenalty(func(evt PenaltyActivated) {
		mu.Lock()
		penalties = append(penalties, evt)
		mu.Unlock()
	}))

	until := time.Now().Add(time.Hour)
	bus.PublishPenalty(PenaltyActivated{Ticket: "c-1", Until: until, Captcha: true})
	bus.WaitAsync()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, penalties, 1)
	assert.True(t, penalties[0].Captcha)
	assert.Equal(t, until, penalties[0].Until)
}

func TestBus_PublishWithoutSubscribersIsSafe(t *testing.T) {
	bus := NewBus()
	bus.PublishPollError(PollError{AccountID: 1, Kind: "balance", Error: "boom", At: time.Now()})
	bus.WaitAsync()
}
