// Package pluginhost implements the out-of-process fusion plugin host
// (§4.K): it launches configured plugin binaries, dials each over a
// private unix-domain gRPC socket, and wraps the resulting client in a
// fusion.Synthesizer so the rest of the daemon never knows a given
// fusion handler's computation happens outside this process. It also
// answers the wire protocol's PROVIDER_* commands (§6), letting an
// ordinary connected client feed samples directly into a
// provider-backed sensor slot declared in the manifest.
package pluginhost

import (
	"context"
	"net"
	"os/exec"
	"sync/atomic"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
	"github.com/fsnotify/fsnotify"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/fusion"
	"github.com/lavataste/sensord/internal/obslog"
	pb "github.com/lavataste/sensord/internal/pluginhost/proto"
	"github.com/lavataste/sensord/internal/registry"
	"github.com/lavataste/sensord/internal/sensor"
	"github.com/lavataste/sensord/internal/senserr"
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// dialTimeout bounds how long Host waits for a freshly launched plugin
// process to accept its gRPC socket connection.
const dialTimeout = 5 * time.Second

// UpstreamResolver looks up the Arbiter/Fanout pair a fusion handler
// needs for one of its declared upstream sensor types — supplied by
// whatever already registered that type's handler (physical or
// fusion), mirroring how cmd/sensord wires fusion.Upstream elsewhere.
type UpstreamResolver func(t sensortype.Type) (fusion.Upstream, bool)

type pluginProcess struct {
	cmd    *exec.Cmd
	conn   *grpc.ClientConn
	handle *fusion.Handler
}

type providerSlot struct {
	uri       string
	handle    *sensor.Handler
	shim      *pushShim
	ownerID   uint64
	hasOwner  bool
}

// Host owns every launched plugin process and every provider-backed
// sensor slot, and satisfies dispatch.ProviderHost.
type Host struct {
	registrar *registry.Registry
	resolve   UpstreamResolver

	nextListenerID atomic.Uint64

	mu        deadlock.Mutex
	processes map[string]*pluginProcess // keyed by plugin name
	providers map[string]*providerSlot  // keyed by uri
	byChannel map[uint64]string         // channelID -> uri, for PostEvent

	watcher *fsnotify.Watcher
	current Manifest
}

// listenerIDBase keeps plugin-host-assigned listener ids out of the
// range client connections use, so the two id spaces never collide in
// an Arbiter's or Fanout's keyed maps (§4.D/§4.G use the listener id
// as the map key).
const listenerIDBase = 1 << 40

// New creates a Host with no plugins loaded; call Reconcile or
// WatchManifest to load the initial manifest.
func New(registrar *registry.Registry, resolve UpstreamResolver) *Host {
	h := &Host{
		registrar: registrar,
		resolve:   resolve,
		processes: make(map[string]*pluginProcess),
		providers: make(map[string]*providerSlot),
		byChannel: make(map[uint64]string),
	}
	h.nextListenerID.Store(listenerIDBase)
	return h
}

// WatchManifest loads path once and then re-applies it on every
// fsnotify write, per §4.K ("fsnotify watches a small manifest").
// Adding/removing an entry registers/unregisters its fusion handler;
// it never touches physical-sensor registration.
func (h *Host) WatchManifest(ctx context.Context, path string) error {
	if err := h.reload(ctx, path); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "pluginhost: create fsnotify watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return errs.Wrapf(err, "pluginhost: watch manifest %s", path)
	}
	h.watcher = watcher
	go h.watchLoop(ctx, path)
	return nil
}

func (h *Host) watchLoop(ctx context.Context, path string) {
	for {
		select {
		case <-ctx.Done():
			h.watcher.Close()
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := h.reload(ctx, path); err != nil {
				obslog.Logger.Warnw("pluginhost: manifest reload failed", obslog.FieldErr, err)
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			obslog.Logger.Warnw("pluginhost: fsnotify error", obslog.FieldErr, err)
		}
	}
}

func (h *Host) reload(ctx context.Context, path string) error {
	m, err := LoadManifest(path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	prev := h.current
	h.current = m
	h.mu.Unlock()
	h.reconcile(ctx, prev, m)
	return nil
}

// reconcile starts processes newly named in next and stops ones
// dropped from prev, leaving unchanged entries running.
func (h *Host) reconcile(ctx context.Context, prev, next Manifest) {
	prevByName := prev.byName()
	nextByName := next.byName()

	for name := range prevByName {
		if _, ok := nextByName[name]; !ok {
			h.stopPlugin(name)
		}
	}
	for name, entry := range nextByName {
		if _, ok := prevByName[name]; ok {
			continue
		}
		if err := h.startPlugin(ctx, entry); err != nil {
			obslog.Logger.Warnw("pluginhost: failed to start plugin", obslog.FieldPlugin, name, obslog.FieldErr, err)
		}
	}
}

func (h *Host) startPlugin(ctx context.Context, entry PluginEntry) error {
	sockPath, cleanup, err := newPluginSocketPath(entry.Name)
	if err != nil {
		return err
	}

	cmd := exec.Command(entry.Binary, append(entry.Args, "-socket", sockPath)...)
	if err := cmd.Start(); err != nil {
		cleanup()
		return errs.Wrapf(err, "pluginhost: start plugin binary %s", entry.Binary)
	}

	conn, err := dialUnix(ctx, sockPath)
	if err != nil {
		_ = cmd.Process.Kill()
		cleanup()
		return err
	}

	client := pb.NewFusionPluginClient(conn)
	meta, err := client.Metadata(ctx, &pb.MetadataRequest{})
	if err != nil {
		conn.Close()
		_ = cmd.Process.Kill()
		cleanup()
		return errs.Wrapf(err, "pluginhost: metadata from plugin %s", entry.Name)
	}

	synth, err := newRemoteSynthesizer(ctx, entry.Name, client, meta)
	if err != nil {
		conn.Close()
		_ = cmd.Process.Kill()
		cleanup()
		return err
	}

	upstreams := make(map[sensortype.Type]fusion.Upstream, len(synth.upstreams))
	for _, t := range synth.upstreams {
		up, ok := h.resolve(t)
		if !ok {
			obslog.Logger.Warnw("pluginhost: plugin upstream has no registered handler", obslog.FieldPlugin, entry.Name, obslog.FieldSensorType, t.String())
			continue
		}
		upstreams[t] = up
	}

	listenerID := h.nextListenerID.Add(1)
	info := fusion.Info{
		URI:       entry.URI,
		Type:      synth.outputType,
		Vendor:    entry.Vendor,
		Name:      entry.Name,
		Privilege: entry.Privilege,
	}
	fh := fusion.New(info, synth, upstreams, listenerID)
	if err := h.registrar.Register(fh); err != nil {
		conn.Close()
		_ = cmd.Process.Kill()
		cleanup()
		return errs.Wrapf(err, "pluginhost: register plugin handler %s", entry.URI)
	}

	h.mu.Lock()
	h.processes[entry.Name] = &pluginProcess{cmd: cmd, conn: conn, handle: fh}
	h.mu.Unlock()

	obslog.Logger.Infow("pluginhost: plugin started", obslog.FieldPlugin, entry.Name, obslog.FieldSensorURI, entry.URI)
	return nil
}

func (h *Host) stopPlugin(name string) {
	h.mu.Lock()
	p, ok := h.processes[name]
	if ok {
		delete(h.processes, name)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.registrar.Unregister(p.handle.URI())
	p.conn.Close()
	_ = p.cmd.Process.Kill()
	obslog.Logger.Infow("pluginhost: plugin stopped", obslog.FieldPlugin, name)
}

// RegisterProviderSlot registers a dynamic-sensor-provider placeholder
// at uri, backed by a pushShim instead of a device — the counterpart
// to startPlugin for PROVIDER_* commands instead of fusion synthesis.
func (h *Host) RegisterProviderSlot(info sensor.Info) error {
	shim := newPushShim()
	handle := sensor.New(info, shim, nil)
	if err := h.registrar.Register(handle); err != nil {
		return err
	}
	h.mu.Lock()
	h.providers[info.URI] = &providerSlot{uri: info.URI, handle: handle, shim: shim}
	h.mu.Unlock()
	return nil
}

// Connect implements dispatch.ProviderHost: channelID claims uri's
// provider slot exclusively, so at most one connected client feeds it
// at a time.
func (h *Host) Connect(channelID uint64, uri string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, ok := h.providers[uri]
	if !ok {
		return senserr.Recoverablef(senserr.EINVAL, "pluginhost: no provider slot for %s", uri)
	}
	if slot.hasOwner && slot.ownerID != channelID {
		return senserr.Recoverablef(senserr.EACCES, "pluginhost: provider slot %s already claimed", uri)
	}
	slot.hasOwner = true
	slot.ownerID = channelID
	h.byChannel[channelID] = uri
	return nil
}

// Disconnect releases channelID's provider slot, if it holds one.
func (h *Host) Disconnect(channelID uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	uri, ok := h.byChannel[channelID]
	if !ok {
		return nil
	}
	delete(h.byChannel, channelID)
	if slot, ok := h.providers[uri]; ok && slot.ownerID == channelID {
		slot.hasOwner = false
	}
	return nil
}

// PostEvent feeds ev into channelID's claimed provider slot.
func (h *Host) PostEvent(channelID uint64, ev wire.SensorEvent) error {
	h.mu.Lock()
	uri, ok := h.byChannel[channelID]
	if !ok {
		h.mu.Unlock()
		return senserr.Recoverable(senserr.EINVAL, errs.New("pluginhost: channel has no claimed provider slot"))
	}
	slot, ok := h.providers[uri]
	h.mu.Unlock()
	if !ok {
		return senserr.Recoverable(senserr.EINVAL, errs.New("pluginhost: provider slot vanished"))
	}
	slot.shim.Post(sensor.RawFrame{TimestampUS: ev.TimestampUS, Accuracy: ev.Accuracy, Values: ev.Values})
	return nil
}

func dialUnix(ctx context.Context, sockPath string) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", addr)
	}
	conn, err := grpc.DialContext(ctx, sockPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, errs.Wrapf(err, "pluginhost: dial plugin socket %s", sockPath)
	}
	return conn, nil
}
