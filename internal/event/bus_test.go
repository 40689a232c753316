package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishToAllSubscribers(t *testing.T) {
	b := NewBus()

	var first, second []Event
	b.Subscribe(func(e Event) { first = append(first, e) })
	b.Subscribe(func(e Event) { second = append(second, e) })

	b.Publish(Event{Type: TypeStarted})
	b.Publish(Event{Type: TypeSignalsChecked, Payload: SignalsCheckedPayload{TotalSignals: 3}})

	require.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.Equal(t, TypeStarted, first[0].Type)

	payload, ok := first[1].Payload.(SignalsCheckedPayload)
	require.True(t, ok)
	assert.Equal(t, 3, payload.TotalSignals)
}

func TestBusFillsTimestamp(t *testing.T) {
	b := NewBus()

	var got Event
	b.Subscribe(func(e Event) { got = e })

	b.Publish(Event{Type: TypeStopped})
	assert.False(t, got.Time.IsZero())

	// 显式时间不被覆盖
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b.Publish(Event{Type: TypeStopped, Time: at})
	assert.Equal(t, at, got.Time)
}

func TestBusNoSubscribers(t *testing.T) {
	b := NewBus()
	assert.NotPanics(t, func() {
		b.Publish(Event{Type: TypeEmergencyStop})
	})
}
