package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lavataste/sensord/internal/arbitrate"
	"github.com/lavataste/sensord/internal/config"
	"github.com/lavataste/sensord/internal/diag"
	"github.com/lavataste/sensord/internal/dispatch"
	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/fusion"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/pluginhost"
	"github.com/lavataste/sensord/internal/policy"
	"github.com/lavataste/sensord/internal/registry"
	"github.com/lavataste/sensord/internal/version"
	"github.com/lavataste/sensord/internal/wire"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	if flagVersion {
		fmt.Println(version.Get().String())
		return nil
	}

	v := viper.New()
	bindFlags(v, cmd)
	cfg, err := config.Load(v)
	if err != nil {
		return errs.Wrap(err, "sensord: loading configuration")
	}

	if err := obslog.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		return errs.Wrap(err, "sensord: initializing logger")
	}
	defer obslog.Sync()

	obslog.Logger.Infow("sensord starting",
		"version", version.Get().String(),
		"command_socket", cfg.Socket.CommandPath,
		"event_socket", cfg.Socket.EventPath,
		"diag_enabled", cfg.Diag.Enabled,
	)

	arbitrate.IdleFloorMS = cfg.Arbitration.IdleFloorMS
	fusion.DebounceFactor = cfg.Arbitration.DebounceFactor

	reg := registry.New()
	policyMon := policy.New()
	policyMon.Publish(policy.PausePolicy, cfg.Arbitration.DefaultPausePolicyMask)
	host := pluginhost.New(reg, upstreamResolver(reg))

	if err := loadDevices(cfg.DeviceManifestPath, reg, host); err != nil {
		return errs.Wrap(err, "sensord: loading device manifest")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Plugin.ManifestPath != "" {
		if err := host.WatchManifest(ctx, cfg.Plugin.ManifestPath); err != nil {
			obslog.Logger.Warnw("sensord: plugin manifest watch failed to start", obslog.FieldErr, err, obslog.FieldPlugin, cfg.Plugin.ManifestPath)
		}
	}

	disp := dispatch.New(reg, policyMon,
		dispatch.WithProviderHost(host),
		dispatch.WithRateLimit(cfg.RateLimit.CommandsPerSecond, cfg.RateLimit.Burst),
	)

	eventLn, err := wire.Listen(cfg.Socket.EventPath)
	if err != nil {
		return errs.Wrap(err, "sensord: opening event socket")
	}
	defer eventLn.Close()

	cmdLn, err := wire.Listen(cfg.Socket.CommandPath)
	if err != nil {
		return errs.Wrap(err, "sensord: opening command socket")
	}
	defer cmdLn.Close()

	evReg := newEventRegistry()
	go serveEventSocket(ctx, eventLn, evReg)
	go serveCommandSocket(ctx, cmdLn, disp, evReg)

	if cfg.Diag.Enabled {
		diagSrv := diag.New(reg, cfg.Diag.Addr)
		go func() {
			if err := diagSrv.Serve(ctx); err != nil {
				obslog.Logger.Warnw("sensord: diagnostics server stopped", obslog.FieldErr, err)
			}
		}()
	}

	if err := config.WatchLiveTunables(ctx, policyMon); err != nil {
		obslog.Logger.Warnw("sensord: live-tunable config watch failed to start", obslog.FieldErr, err)
	}

	waitForShutdownSignal()
	obslog.Logger.Infow("sensord shutting down")
	cancel()
	return nil
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
