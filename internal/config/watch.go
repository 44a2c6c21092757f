package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/policy"
)

// WatchLiveTunables watches the resolved config file (if any exists on
// disk) and re-applies exactly two settings on every write: the log
// level and the default pause-policy mask (§1 Expansion: "the
// daemon's live-tunable settings ... never the closed-after-startup
// physical sensor manifest"). mon is published to so every handler's
// listener proxies pick up a changed mask the same way a real pause
// policy broadcast would (§4.D/§4.G).
//
// If no config file is found on disk, this is a no-op: defaults/env/
// flags are not files fsnotify can watch, and that's fine — hot-reload
// is a convenience for the file-based deployment case.
func WatchLiveTunables(ctx context.Context, mon *policy.Monitor) error {
	path := resolvedConfigPath()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go watchLoop(ctx, watcher, path, mon)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, mon *policy.Monitor) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				applyLiveTunables(path, mon)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			obslog.Logger.Warnw("config: live-tunable watch error", obslog.FieldErr, err)
		}
	}
}

// applyLiveTunables re-reads path in isolation (never touching the
// cached global Config other callers rely on) and pushes just the log
// level and pause-policy mask into effect.
func applyLiveTunables(path string, mon *policy.Monitor) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		obslog.Logger.Warnw("config: failed to re-read config for live tunables", obslog.FieldErr, err)
		return
	}

	if level := v.GetString("log.level"); level != "" {
		obslog.SetLevel(level)
	}

	mask := v.GetUint32("arbitration.default_pause_policy_mask")
	mon.Publish(policy.PausePolicy, mask)
	obslog.Logger.Infow("config: live tunables reloaded", "log_level", v.GetString("log.level"), "pause_policy_mask", mask)
}
