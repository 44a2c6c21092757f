package pluginhost

import (
	"github.com/BurntSushi/toml"

	"github.com/lavataste/sensord/internal/errs"
)

// PluginEntry is one configured fusion plugin process (§4.K: "a small
// manifest naming which plugin binaries to launch and their upstream
// wiring").
type PluginEntry struct {
	Name      string   `toml:"name"`
	Binary    string   `toml:"binary"`
	Args      []string `toml:"args"`
	URI       string   `toml:"uri"`
	Vendor    string   `toml:"vendor"`
	Privilege string   `toml:"privilege"`
}

// Manifest is the top-level plugins.toml document.
type Manifest struct {
	Plugins []PluginEntry `toml:"plugin"`
}

// LoadManifest parses path with BurntSushi/toml, matching the
// teacher's convention (am.Config) of loading daemon configuration
// through a typed struct rather than a generic map.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return Manifest{}, errs.Wrapf(err, "pluginhost: decode manifest %s", path)
	}
	return m, nil
}

func (m Manifest) byName() map[string]PluginEntry {
	out := make(map[string]PluginEntry, len(m.Plugins))
	for _, p := range m.Plugins {
		out[p.Name] = p
	}
	return out
}
