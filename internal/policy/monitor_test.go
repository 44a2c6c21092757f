package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_PublishNotifiesAllListeners(t *testing.T) {
	m := New()
	var got1, got2 uint32
	m.AddListener(func(kind Kind, newValue uint32) { got1 = newValue })
	m.AddListener(func(kind Kind, newValue uint32) { got2 = newValue })

	m.Publish(PausePolicy, 0x01)

	assert.Equal(t, uint32(0x01), got1)
	assert.Equal(t, uint32(0x01), got2)
	assert.Equal(t, uint32(0x01), m.Current(PausePolicy))
}

func TestMonitor_RemoveListenerStopsDelivery(t *testing.T) {
	m := New()
	calls := 0
	id := m.AddListener(func(kind Kind, newValue uint32) { calls++ })
	m.Publish(PausePolicy, 0x01)
	require.Equal(t, 1, calls)

	m.RemoveListener(id)
	m.Publish(PausePolicy, 0x02)
	assert.Equal(t, 1, calls)
}

func TestMonitor_PanickingListenerIsRemovedNotFatal(t *testing.T) {
	m := New()
	m.AddListener(func(kind Kind, newValue uint32) { panic("boom") })
	calls := 0
	m.AddListener(func(kind Kind, newValue uint32) { calls++ })

	assert.NotPanics(t, func() { m.Publish(PausePolicy, 0x01) })
	assert.Equal(t, 1, calls)

	calls = 0
	m.Publish(PausePolicy, 0x02)
	assert.Equal(t, 1, calls)
}

func TestMonitor_CurrentDefaultsToZero(t *testing.T) {
	m := New()
	assert.Equal(t, uint32(0), m.Current(PausePolicy))
}
