// Package config is sensord's daemon configuration (§1 Expansion,
// §4.J): flags/env/file via github.com/spf13/viper, wired from
// cmd/sensord's cobra root command the way the teacher's am package
// wires am.Config from qntx's root command. This is a distinct
// concern from the static, closed-at-startup sensor device manifest
// (github.com/BurntSushi/toml, see internal/config/devicemanifest.go)
// and from the fusion-plugin manifest (internal/pluginhost.Manifest):
// this package is the daemon's own live-tunable settings.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/lavataste/sensord/internal/errs"
)

// SocketConfig names the two distinct unix sockets §6 requires: one
// for control-channel commands, one for event delivery.
type SocketConfig struct {
	CommandPath string `mapstructure:"command_path"`
	EventPath   string `mapstructure:"event_path"`
}

// LogConfig configures internal/obslog.Initialize.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ArbitrationConfig holds the tunable constants §4.D/§9 name.
type ArbitrationConfig struct {
	IdleFloorMS            int32   `mapstructure:"idle_floor_ms"`
	DebounceFactor          float64 `mapstructure:"debounce_factor"`
	DefaultPausePolicyMask uint32  `mapstructure:"default_pause_policy_mask"`
}

// RateLimitConfig backs the per-channel -EAGAIN limiter (§4.J, §6/§7).
type RateLimitConfig struct {
	CommandsPerSecond float64 `mapstructure:"commands_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DiagConfig controls internal/diag's optional HTTP/WebSocket server.
// Off by default, loopback-only when enabled (§4.L).
type DiagConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// PluginConfig points at the fusion-plugin manifest internal/pluginhost
// watches (§4.K). Distinct from DeviceManifestPath, which is read once
// and never reloaded.
type PluginConfig struct {
	ManifestPath string `mapstructure:"manifest_path"`
}

// Config is sensord's top-level daemon configuration.
type Config struct {
	Socket            SocketConfig      `mapstructure:"socket"`
	Log               LogConfig         `mapstructure:"log"`
	Arbitration       ArbitrationConfig `mapstructure:"arbitration"`
	RateLimit         RateLimitConfig   `mapstructure:"rate_limit"`
	Diag              DiagConfig        `mapstructure:"diag"`
	Plugin            PluginConfig      `mapstructure:"plugin"`
	DeviceManifestPath string           `mapstructure:"device_manifest_path"`
}

// SetDefaults installs every default value onto v, the way the
// teacher's am.SetDefaults does for its own Config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("socket.command_path", "/run/sensord/command.sock")
	v.SetDefault("socket.event_path", "/run/sensord/event.sock")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("arbitration.idle_floor_ms", 1000)
	v.SetDefault("arbitration.debounce_factor", 0.75)
	v.SetDefault("arbitration.default_pause_policy_mask", 0)

	v.SetDefault("rate_limit.commands_per_second", 200.0)
	v.SetDefault("rate_limit.burst", 50)

	v.SetDefault("diag.enabled", false)
	v.SetDefault("diag.addr", "127.0.0.1:9556")

	v.SetDefault("plugin.manifest_path", "/etc/sensord/plugins.toml")

	v.SetDefault("device_manifest_path", "/etc/sensord/devices.toml")
}

var (
	globalConfig *Config
	globalViper  *viper.Viper
)

// Load reads sensord's configuration from, in ascending precedence:
// built-in defaults, /etc/sensord/sensord.toml, ~/.config/sensord/
// sensord.toml, a project-local ./sensord.toml, then SENSORD_* env
// vars and any flags already bound onto extra (typically cmd/sensord's
// cobra flag set via viper.BindPFlags before calling Load). The result
// is cached; call Reset in tests to force a fresh read.
func Load(extra *viper.Viper) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := extra
	if v == nil {
		v = viper.New()
	}

	v.SetEnvPrefix("SENSORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	mergeConfigFiles(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(err, "config: unmarshal")
	}

	globalConfig = &cfg
	globalViper = v
	return globalConfig, nil
}

// Reset clears the cached configuration, for test isolation.
func Reset() {
	globalConfig = nil
	globalViper = nil
}

// resolvedConfigPath returns the highest-precedence config file that
// actually exists on disk, or "" if none do — used by WatchLiveTunables
// to know what to fsnotify.
func resolvedConfigPath() string {
	paths := configSearchPaths()
	for i := len(paths) - 1; i >= 0; i-- {
		if _, err := os.Stat(paths[i]); err == nil {
			return paths[i]
		}
	}
	return ""
}

func configSearchPaths() []string {
	var paths []string
	paths = append(paths, "/etc/sensord/sensord.toml")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sensord", "sensord.toml"))
	}
	paths = append(paths, "sensord.toml")
	return paths
}

// mergeConfigFiles layers each existing config file from lowest to
// highest precedence onto v, the same manual-merge-in-order approach
// the teacher's am.mergeConfigFiles uses instead of viper's single
// SetConfigFile, since sensord also needs several optional, layered
// file locations.
func mergeConfigFiles(v *viper.Viper) {
	for _, path := range configSearchPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		layer := viper.New()
		layer.SetConfigFile(path)
		layer.SetConfigType("toml")
		if err := layer.ReadInConfig(); err != nil {
			continue
		}
		for _, key := range layer.AllKeys() {
			v.SetDefault(key, layer.Get(key))
		}
	}
}
