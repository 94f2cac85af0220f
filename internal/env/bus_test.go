package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireCmdSlot_FreeThenBusyThenReleased(t *testing.T) {
	bus := NewBus(ChannelTTY, 2000, nil)

	id1, ok := bus.TryAcquireCmdSlot("help")
	require.True(t, ok)
	assert.Equal(t, uint64(1), id1)

	_, ok = bus.TryAcquireCmdSlot("status")
	assert.False(t, ok, "slot is occupied, second acquire must fail")

	bus.ReleaseCmdSlot()

	id2, ok := bus.TryAcquireCmdSlot("status")
	require.True(t, ok)
	assert.Equal(t, uint64(2), id2, "ids are monotonic across the whole run")
}

func TestPushPopContent_FIFOPerSubscriber(t *testing.T) {
	bus := NewBus(ChannelTTY, 2000, nil)
	bus.Subscribe(0xC0, "reader")

	bus.PushContent(0xC0, "one")
	bus.PushContent(0xC0, "two")

	msg, ok := bus.PopContent(0xC0, "reader")
	require.True(t, ok)
	assert.Equal(t, "one", msg)

	msg, ok = bus.PopContent(0xC0, "reader")
	require.True(t, ok)
	assert.Equal(t, "two", msg)

	_, ok = bus.PopContent(0xC0, "reader")
	assert.False(t, ok)
}

func TestPushContent_FansOutToEverySubscriber(t *testing.T) {
	bus := NewBus(ChannelTTY, 2000, nil)
	bus.Subscribe(0xC0, "a")
	bus.Subscribe(0xC0, "b")

	bus.PushContent(0xC0, "line")

	msgA, okA := bus.PopContent(0xC0, "a")
	msgB, okB := bus.PopContent(0xC0, "b")

	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, "line", msgA)
	assert.Equal(t, "line", msgB)
}

func TestPopContent_UnknownSubscriberOrContentID(t *testing.T) {
	bus := NewBus(ChannelTTY, 2000, nil)
	bus.Subscribe(0xC0, "a")
	bus.PushContent(0xC0, "line")

	_, ok := bus.PopContent(0xC0, "never-subscribed")
	assert.False(t, ok)

	_, ok = bus.PopContent(0xFF, "a")
	assert.False(t, ok)
}

func TestStringQueue_DropsOldestWhenFull(t *testing.T) {
	q := newStringQueue(2)
	q.push("a")
	q.push("b")
	q.push("c")

	msg, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "b", msg, "oldest entry over capacity is dropped")

	msg, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "c", msg)
}

func TestDevOnline_DefaultsFalse(t *testing.T) {
	bus := NewBus(ChannelSocket, 2000, nil)
	assert.False(t, bus.DevOnline())

	bus.SetDevOnline(true)
	assert.True(t, bus.DevOnline())
}
