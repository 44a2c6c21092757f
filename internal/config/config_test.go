package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsApplyWithoutAnyConfigFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/run/sensord/command.sock", cfg.Socket.CommandPath)
	assert.Equal(t, "/run/sensord/event.sock", cfg.Socket.EventPath)
	assert.Equal(t, int32(1000), cfg.Arbitration.IdleFloorMS)
	assert.Equal(t, 0.75, cfg.Arbitration.DebounceFactor)
	assert.False(t, cfg.Diag.Enabled)
	assert.Equal(t, "127.0.0.1:9556", cfg.Diag.Addr)
}

func TestLoad_CachesAcrossCalls(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first, err := Load(nil)
	require.NoError(t, err)

	v := viper.New()
	v.Set("diag.enabled", true)
	second, err := Load(v)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.False(t, second.Diag.Enabled, "second Load call should return the cached first result, ignoring the new viper instance")
}

func TestLoad_ExtraViperOverridesDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	v := viper.New()
	v.Set("diag.enabled", true)
	v.Set("socket.command_path", "/tmp/custom.sock")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.Diag.Enabled)
	assert.Equal(t, "/tmp/custom.sock", cfg.Socket.CommandPath)
}

func TestDeviceEntry_ToInfoRejectsUnknownType(t *testing.T) {
	e := DeviceEntry{URI: "weird://0", Type: "not-a-real-type"}
	_, err := e.ToInfo()
	require.Error(t, err)
}

func TestDeviceEntry_ToInfoMapsKnownType(t *testing.T) {
	e := DeviceEntry{URI: "pressure://0", Type: "pressure", MinIntervalMS: 20}
	info, err := e.ToInfo()
	require.NoError(t, err)
	assert.Equal(t, "pressure://0", info.URI)
	assert.Equal(t, int32(20), info.MinIntervalMS)
}

func TestLoadDeviceManifest_ReadsDeviceTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.toml")
	content := `
[[device]]
uri = "accelerometer://0"
type = "accelerometer"
driver = "mock"
min_interval_ms = 10

[[device]]
uri = "load://0"
type = "system_load"
driver = "loadshim"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadDeviceManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Devices, 2)
	assert.Equal(t, "accelerometer://0", m.Devices[0].URI)
	assert.Equal(t, "loadshim", m.Devices[1].Driver)
}

func TestLoadDeviceManifest_MissingFileErrors(t *testing.T) {
	_, err := LoadDeviceManifest(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
