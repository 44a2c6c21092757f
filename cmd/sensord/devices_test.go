package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavataste/sensord/internal/pluginhost"
	"github.com/lavataste/sensord/internal/registry"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDevices_RegistersLoadshimEntry(t *testing.T) {
	path := writeManifest(t, `
[[device]]
uri = "system_load://0"
type = "system_load"
driver = "loadshim"
`)
	reg := registry.New()
	host := pluginhost.New(reg, upstreamResolver(reg))

	require.NoError(t, loadDevices(path, reg, host))
	assert.True(t, reg.Has("system_load://0"))
}

func TestLoadDevices_ProviderEntryRegistersSlot(t *testing.T) {
	path := writeManifest(t, `
[[device]]
uri = "accelerometer://0"
type = "accelerometer"
driver = "provider"
`)
	reg := registry.New()
	host := pluginhost.New(reg, upstreamResolver(reg))

	require.NoError(t, loadDevices(path, reg, host))
	assert.True(t, reg.Has("accelerometer://0"))
}

func TestLoadDevices_FusionEntryWiresAgainstRegisteredUpstream(t *testing.T) {
	path := writeManifest(t, `
[[device]]
uri = "accelerometer://0"
type = "accelerometer"
driver = "provider"

[[device]]
uri = "gravity://0"
type = "gravity"
driver = "fusion:gravity"
`)
	reg := registry.New()
	host := pluginhost.New(reg, upstreamResolver(reg))

	require.NoError(t, loadDevices(path, reg, host))
	assert.True(t, reg.Has("gravity://0"))
}

func TestLoadDevices_FusionEntryMissingUpstreamFails(t *testing.T) {
	path := writeManifest(t, `
[[device]]
uri = "gravity://0"
type = "gravity"
driver = "fusion:gravity"
`)
	reg := registry.New()
	host := pluginhost.New(reg, upstreamResolver(reg))

	err := loadDevices(path, reg, host)
	assert.Error(t, err)
}

func TestLoadDevices_UnknownDriverFails(t *testing.T) {
	path := writeManifest(t, `
[[device]]
uri = "weird://0"
type = "temperature"
driver = "not-a-real-driver"
`)
	reg := registry.New()
	host := pluginhost.New(reg, upstreamResolver(reg))

	err := loadDevices(path, reg, host)
	assert.Error(t, err)
}

func TestLoadDevices_UnknownTypeFails(t *testing.T) {
	path := writeManifest(t, `
[[device]]
uri = "weird://0"
type = "not-a-real-type"
driver = "loadshim"
`)
	reg := registry.New()
	host := pluginhost.New(reg, upstreamResolver(reg))

	err := loadDevices(path, reg, host)
	assert.Error(t, err)
}
