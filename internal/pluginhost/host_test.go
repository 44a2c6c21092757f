package pluginhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavataste/sensord/internal/fusion"
	"github.com/lavataste/sensord/internal/registry"
	"github.com/lavataste/sensord/internal/sensor"
	"github.com/lavataste/sensord/internal/senserr"
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

func newTestHost() *Host {
	reg := registry.New()
	resolve := func(sensortype.Type) (fusion.Upstream, bool) { return fusion.Upstream{}, false }
	return New(reg, resolve)
}

func TestHost_RegisterProviderSlotAppearsInRegistry(t *testing.T) {
	h := newTestHost()
	require.NoError(t, h.RegisterProviderSlot(sensor.Info{URI: "provider://external0", Type: sensortype.Pressure}))

	assert.True(t, h.registrar.Has("provider://external0"))
}

func TestHost_ConnectClaimsSlotExclusively(t *testing.T) {
	h := newTestHost()
	require.NoError(t, h.RegisterProviderSlot(sensor.Info{URI: "provider://external0", Type: sensortype.Pressure}))

	require.NoError(t, h.Connect(1, "provider://external0"))

	err := h.Connect(2, "provider://external0")
	require.Error(t, err)
	assert.Equal(t, senserr.EACCES, senserr.CodeOf(err))
}

func TestHost_ConnectUnknownURIFails(t *testing.T) {
	h := newTestHost()
	err := h.Connect(1, "provider://nope")
	require.Error(t, err)
	assert.Equal(t, senserr.EINVAL, senserr.CodeOf(err))
}

func TestHost_DisconnectReleasesSlotForAnotherOwner(t *testing.T) {
	h := newTestHost()
	require.NoError(t, h.RegisterProviderSlot(sensor.Info{URI: "provider://external0", Type: sensortype.Pressure}))
	require.NoError(t, h.Connect(1, "provider://external0"))

	require.NoError(t, h.Disconnect(1))

	require.NoError(t, h.Connect(2, "provider://external0"))
}

func TestHost_PostEventRoutesToClaimedSlot(t *testing.T) {
	h := newTestHost()
	require.NoError(t, h.RegisterProviderSlot(sensor.Info{URI: "provider://external0", Type: sensortype.Pressure}))
	require.NoError(t, h.Connect(1, "provider://external0"))

	require.NoError(t, h.PostEvent(1, wire.SensorEvent{TimestampUS: 555, Values: []float32{12.5}}))

	handle := h.registrar.Get("provider://external0").(*sensor.Handler)
	ev, ok := handle.CachedValue()
	require.True(t, ok)
	assert.Equal(t, int64(555), ev.TimestampUS)
	assert.Equal(t, []float32{12.5}, ev.Values)
}

func TestHost_PostEventWithoutClaimFails(t *testing.T) {
	h := newTestHost()
	require.NoError(t, h.RegisterProviderSlot(sensor.Info{URI: "provider://external0", Type: sensortype.Pressure}))

	err := h.PostEvent(99, wire.SensorEvent{})
	require.Error(t, err)
	assert.Equal(t, senserr.EINVAL, senserr.CodeOf(err))
}

func TestManifest_ByNameIndexesPlugins(t *testing.T) {
	m := Manifest{Plugins: []PluginEntry{{Name: "a"}, {Name: "b"}}}
	byName := m.byName()
	assert.Len(t, byName, 2)
	_, ok := byName["a"]
	assert.True(t, ok)
}
