package main

import (
	"sync/atomic"

	"github.com/lavataste/sensord/internal/config"
	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/fusion"
	"github.com/lavataste/sensord/internal/listener"
	"github.com/lavataste/sensord/internal/pluginhost"
	"github.com/lavataste/sensord/internal/registry"
	"github.com/lavataste/sensord/internal/sensor"
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/shim/loadshim"
)

// fusionListenerIDBase keeps the listener ids fusion handlers present
// to their own upstreams out of both the client-issued id space and
// internal/pluginhost's plugin fusion handler space (1<<40) and
// internal/diag's mirror space (1<<41).
const fusionListenerIDBase = 1 << 39

var nextFusionListenerID atomic.Uint64

func init() {
	nextFusionListenerID.Store(fusionListenerIDBase)
}

// fusionFactories maps a device manifest entry's driver name to the
// Synthesizer constructor backing it (§4.F's bundled fusion sensors).
var fusionFactories = map[string]func() fusion.Synthesizer{
	"fusion:gravity":                 func() fusion.Synthesizer { return fusion.NewGravitySynth(fusion.DefaultGravityTau) },
	"fusion:linearaccel":             func() fusion.Synthesizer { return fusion.NewLinearAccelSynth() },
	"fusion:orientation":             func() fusion.Synthesizer { return fusion.NewOrientationSynth() },
	"fusion:orientationfilter":       func() fusion.Synthesizer { return fusion.NewOrientationFilterSynth() },
	"fusion:orientationfilternomag":  func() fusion.Synthesizer { return fusion.NewOrientationFilterSynthNoMag() },
	"fusion:orientationfilternogyro": func() fusion.Synthesizer { return fusion.NewOrientationFilterSynthNoGyro() },
	"fusion:rotationvector":          func() fusion.Synthesizer { return fusion.NewRotationVectorSynth() },
	"fusion:autorotation":            func() fusion.Synthesizer { return fusion.NewAutoRotationSynth() },
}

// loadDevices walks the static device manifest and registers one
// handler per entry: a physical sensor.Handler for a built-in shim
// driver, a fusion.Handler wired against its already-registered
// upstreams for a "fusion:*" driver, or a provider slot reserved for
// an out-of-process plugin for the "provider" driver (§4.K).
//
// Fusion entries must appear after the physical upstreams they
// consume, since wiring looks an upstream's Arbiter/Fanout up in reg
// by type at construction time — a manifest authoring convention
// documented alongside the sample manifest, not enforced here.
func loadDevices(manifestPath string, reg *registry.Registry, host *pluginhost.Host) error {
	manifest, err := config.LoadDeviceManifest(manifestPath)
	if err != nil {
		return err
	}

	for _, entry := range manifest.Devices {
		switch {
		case entry.Driver == "loadshim":
			if err := registerPhysical(entry, loadshim.New(), reg); err != nil {
				return err
			}
		case entry.Driver == "provider":
			info, err := entry.ToInfo()
			if err != nil {
				return err
			}
			if err := host.RegisterProviderSlot(info); err != nil {
				return err
			}
		case fusionFactories[entry.Driver] != nil:
			if err := registerFusion(entry, fusionFactories[entry.Driver](), reg); err != nil {
				return err
			}
		default:
			return errs.Newf("sensord: device manifest entry %q has unknown driver %q", entry.URI, entry.Driver)
		}
	}
	return nil
}

func registerPhysical(entry config.DeviceEntry, shim sensor.DeviceShim, reg *registry.Registry) error {
	info, err := entry.ToInfo()
	if err != nil {
		return err
	}
	h := sensor.New(info, shim, nil)
	return reg.Register(h)
}

// registerFusion resolves synth's declared upstream types against
// already-registered handlers of that type and wires a fusion.Handler
// over them.
func registerFusion(entry config.DeviceEntry, synth fusion.Synthesizer, reg *registry.Registry) error {
	info, err := entry.ToInfo()
	if err != nil {
		return err
	}

	upstreams := make(map[sensortype.Type]fusion.Upstream, len(synth.Upstreams()))
	for _, upType := range synth.Upstreams() {
		up, ok := resolveUpstream(reg, upType)
		if !ok {
			return errs.Newf("sensord: fusion entry %q needs an upstream of type %q, none registered yet", entry.URI, upType.String())
		}
		upstreams[upType] = up
	}

	listenerID := nextFusionListenerID.Add(1)
	h := fusion.New(info, synth, upstreams, listenerID)
	return reg.Register(h)
}

// resolveUpstream looks up the first registered handler of type t and
// adapts it into a fusion.Upstream. Shared by registerFusion (wiring
// the bundled fusion sensors) and upstreamResolver (wiring an
// out-of-process plugin's declared upstreams, §4.K).
func resolveUpstream(reg *registry.Registry, t sensortype.Type) (fusion.Upstream, bool) {
	candidates := reg.ByType(t)
	if len(candidates) == 0 {
		return fusion.Upstream{}, false
	}
	up, ok := candidates[0].(listener.Target)
	if !ok {
		return fusion.Upstream{}, false
	}
	return fusion.Upstream{Type: t, Arbiter: up.Arbiter(), Fanout: up.GetFanout()}, true
}

// upstreamResolver adapts resolveUpstream to pluginhost.UpstreamResolver.
func upstreamResolver(reg *registry.Registry) pluginhost.UpstreamResolver {
	return func(t sensortype.Type) (fusion.Upstream, bool) {
		return resolveUpstream(reg, t)
	}
}
