package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamHubDeliversToSessionSubscribers(t *testing.T) {
	hub := NewStreamHub()

	ch, cancel := hub.Subscribe("s1")
	defer cancel()
	other, cancelOther := hub.Subscribe("s2")
	defer cancelOther()

	hub.Publish(Frame{Type: FrameToken, SessionID: "s1", Data: "hel"})
	hub.Publish(Frame{Type: FrameFinal, SessionID: "s1"})

	f := <-ch
	assert.Equal(t, FrameToken, f.Type)
	assert.Equal(t, "hel", f.Data)
	f = <-ch
	assert.Equal(t, FrameFinal, f.Type)

	select {
	case f := <-other:
		t.Fatalf("s2 subscriber received frame for s1: %+v", f)
	default:
	}
}

func TestStreamHubCancelClosesChannel(t *testing.T) {
	hub := NewStreamHub()
	ch, cancel := hub.Subscribe("s1")
	require.Equal(t, 1, hub.SubscriberCount("s1"))

	cancel()
	cancel() // second call is a no-op

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount("s1"))

	// Publishing after the last unsubscribe must not panic.
	hub.Publish(Frame{Type: FrameToken, SessionID: "s1"})
}

func TestStreamHubDropsWhenSubscriberFull(t *testing.T) {
	hub := NewStreamHub()
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	for i := 0; i < 100; i++ {
		hub.Publish(Frame{Type: FrameToken, SessionID: "s1", Data: i})
	}
	// Buffer is 64; the rest were dropped rather than blocking the engine.
	assert.Len(t, ch, 64)
}
