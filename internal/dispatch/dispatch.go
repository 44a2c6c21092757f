// Package dispatch implements the control protocol dispatcher (§4.J):
// it maps each received command frame to the corresponding
// listener-proxy or registry operation, applies per-channel rate
// limiting, and packages the reply.
package dispatch

import (
	"golang.org/x/time/rate"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/listener"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/policy"
	"github.com/lavataste/sensord/internal/registry"
	"github.com/lavataste/sensord/internal/senserr"
	"github.com/lavataste/sensord/internal/wire"
)

// wireInfoProvider is satisfied by sensor.Handler and fusion.Handler;
// narrowed here so dispatch never imports either package directly.
type wireInfoProvider interface {
	WireInfo() wire.SensorInfo
}

// cachedValueProvider is satisfied only by sensor.Handler: fusion
// handlers have no synchronous cached sample.
type cachedValueProvider interface {
	CachedValue() (wire.SensorEvent, bool)
}

// ProviderHost routes the PROVIDER_* commands (§6: "dynamic-sensor
// provider commands, out of core scope") to the fusion plugin host
// (internal/pluginhost). Left nil in configurations without a plugin
// host; every PROVIDER_* command then fails with -EINVAL.
type ProviderHost interface {
	Connect(channelID uint64, uri string) error
	Disconnect(channelID uint64) error
	PostEvent(channelID uint64, ev wire.SensorEvent) error
}

// PrivilegeChecker decides whether channelID holds privilege, used for
// HAS_PRIVILEGE and (if non-nil) as a gate before LISTENER_CONNECT. A
// nil checker (the default) grants every privilege, since the
// authorization subsystem itself is out of core scope (§1).
type PrivilegeChecker func(channelID uint64, privilege string) bool

// Dispatcher holds the shared collaborators every channel's command
// loop dispatches against.
type Dispatcher struct {
	registry       *registry.Registry
	policyMon      *policy.Monitor
	providerHost   ProviderHost
	checkPrivilege PrivilegeChecker
	rateLimit      rate.Limit
	rateBurst      int
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithProviderHost wires PROVIDER_* commands to host.
func WithProviderHost(host ProviderHost) Option {
	return func(d *Dispatcher) { d.providerHost = host }
}

// WithPrivilegeChecker overrides the default grant-everything policy.
func WithPrivilegeChecker(fn PrivilegeChecker) Option {
	return func(d *Dispatcher) { d.checkPrivilege = fn }
}

// WithRateLimit sets the per-channel command budget: ratePerSecond
// sustained, burst peak, before LISTENER_* commands start getting
// -EAGAIN (§6/§7).
func WithRateLimit(ratePerSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		d.rateLimit = rate.Limit(ratePerSecond)
		d.rateBurst = burst
	}
}

// New builds a Dispatcher over reg and policyMon.
func New(reg *registry.Registry, policyMon *policy.Monitor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:       reg,
		policyMon:      policyMon,
		checkPrivilege: func(uint64, string) bool { return true },
		rateLimit:      rate.Limit(200),
		rateBurst:      50,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// proxyEntry pairs a listener proxy with its policy-monitor
// subscription cleanup, so ChannelState.Close can unwind both.
type proxyEntry struct {
	proxy              *listener.Proxy
	unsubscribePolicy  func()
}

// ChannelState is the per-channel dispatch context: its live listener
// proxies (keyed by listener id) and its own rate limiter. Commands on
// one channel are processed sequentially by the goroutine servicing
// it (§4.J "processed sequentially per channel, concurrently across
// channels"), so the map itself needs no lock from that goroutine —
// only Close, which may race a concurrent disconnect-triggered
// teardown, takes the mutex.
type ChannelState struct {
	id uint64

	mu      deadlock.Mutex
	proxies map[uint64]*proxyEntry
	limiter *rate.Limiter
}

// NewChannel creates per-channel dispatch state for channelID, seeded
// with the Dispatcher's configured rate limit.
func (d *Dispatcher) NewChannel(channelID uint64) *ChannelState {
	return &ChannelState{
		id:      channelID,
		proxies: make(map[uint64]*proxyEntry),
		limiter: rate.NewLimiter(d.rateLimit, d.rateBurst),
	}
}

// Close tears down every listener proxy still open on cs, used on
// channel disconnect (§7 "fatal-per-channel": all listener proxies for
// it destroyed).
func (cs *ChannelState) Close() {
	cs.mu.Lock()
	entries := cs.proxies
	cs.proxies = make(map[uint64]*proxyEntry)
	cs.mu.Unlock()

	for _, e := range entries {
		if e.unsubscribePolicy != nil {
			e.unsubscribePolicy()
		}
		e.proxy.Close()
	}
}

func replyFrame(req wire.Header, code senserr.Code, payload []byte) wire.Frame {
	return wire.Frame{
		Header: wire.Header{ID: req.ID, Type: req.Type, Err: int32(code)},
		Payload: payload,
	}
}

// Handle dispatches one request frame that arrived on the command
// channel and returns the reply frame for the caller to write back on
// that same command channel. sender is where this listener's future
// LISTENER_EVENT/LISTENER_ACC_EVENT frames go once a CmdListenerConnect
// creates the proxy — per §6's distinct command/event sockets, callers
// pass the client's event channel here, not the command channel Handle
// itself never writes to.
func (d *Dispatcher) Handle(cs *ChannelState, sender listener.Sender, frame wire.Frame) wire.Frame {
	if isRateLimited(frame.Header.Type) && !cs.limiter.Allow() {
		return replyFrame(frame.Header, senserr.EAGAIN, nil)
	}

	switch frame.Header.Type {
	case wire.CmdSensorList:
		return d.handleSensorList(frame)
	case wire.CmdListenerConnect:
		return d.handleListenerConnect(cs, sender, frame)
	case wire.CmdListenerDisconnect:
		return d.handleListenerDisconnect(cs, frame)
	case wire.CmdListenerStart:
		return d.withProxy(cs, frame, func(p *listener.Proxy) error { return p.Start() })
	case wire.CmdListenerStop:
		return d.withProxy(cs, frame, func(p *listener.Proxy) error { return p.Stop() })
	case wire.CmdListenerSetAttrInt:
		return d.handleSetAttrInt(cs, frame)
	case wire.CmdListenerSetAttrStr:
		return d.handleSetAttrStr(cs, frame)
	case wire.CmdListenerGetData:
		return d.handleGetData(cs, frame)
	case wire.CmdHasPrivilege:
		return d.handleHasPrivilege(cs, frame)
	case wire.CmdProviderConnect:
		return d.handleProviderConnect(cs, frame)
	case wire.CmdProviderDisconnect:
		return d.handleProviderDisconnect(cs, frame)
	case wire.CmdProviderPostEvent:
		return d.handleProviderPostEvent(cs, frame)
	default:
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
}

// isRateLimited excludes the connect/disconnect/handshake-adjacent
// commands from rate limiting, matching the spirit of §6/§7's -EAGAIN
// ("rate-limited") applying to ongoing per-listener traffic, not to
// connection setup/teardown.
func isRateLimited(t wire.CommandType) bool {
	switch t {
	case wire.CmdListenerConnect, wire.CmdListenerDisconnect:
		return false
	default:
		return true
	}
}

func (d *Dispatcher) handleSensorList(frame wire.Frame) wire.Frame {
	handlers := d.registry.All()
	infos := make([]wire.SensorInfo, 0, len(handlers))
	for _, h := range handlers {
		if p, ok := h.(wireInfoProvider); ok {
			infos = append(infos, p.WireInfo())
		}
	}
	body := wire.SensorListBody{Sensors: infos}
	return replyFrame(frame.Header, senserr.OK, body.Encode())
}

func (d *Dispatcher) handleListenerConnect(cs *ChannelState, sender listener.Sender, frame wire.Frame) wire.Frame {
	body, err := wire.DecodeListenerConnectBody(frame.Payload)
	if err != nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	h := d.registry.Get(body.URI)
	if h == nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	target, ok := h.(listener.Target)
	if !ok {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	if info, ok := h.(wireInfoProvider); ok && info.WireInfo().Privilege != "" {
		if !d.checkPrivilege(cs.id, info.WireInfo().Privilege) {
			return replyFrame(frame.Header, senserr.EACCES, nil)
		}
	}

	listenerID := frame.Header.ID
	p := listener.New(listenerID, body.URI, target, sender)
	unsubscribe := p.SubscribeToPolicy(d.policyMon)

	cs.mu.Lock()
	cs.proxies[listenerID] = &proxyEntry{proxy: p, unsubscribePolicy: unsubscribe}
	cs.mu.Unlock()

	obslog.Logger.Debugw("listener connected", obslog.FieldListenerID, listenerID, obslog.FieldSensorURI, body.URI)
	return replyFrame(frame.Header, senserr.OK, nil)
}

func (d *Dispatcher) handleListenerDisconnect(cs *ChannelState, frame wire.Frame) wire.Frame {
	listenerID := frame.Header.ID
	cs.mu.Lock()
	entry, ok := cs.proxies[listenerID]
	if ok {
		delete(cs.proxies, listenerID)
	}
	cs.mu.Unlock()
	if !ok {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	if entry.unsubscribePolicy != nil {
		entry.unsubscribePolicy()
	}
	entry.proxy.Close()
	return replyFrame(frame.Header, senserr.OK, nil)
}

// withProxy looks up the proxy named by frame.Header.ID on cs and
// runs fn against it, mapping a missing proxy to -EINVAL and fn's
// error to -EIO (§7: handler-internal failures propagate as -EIO).
func (d *Dispatcher) withProxy(cs *ChannelState, frame wire.Frame, fn func(*listener.Proxy) error) wire.Frame {
	return d.withProxyReply(cs, frame, func(p *listener.Proxy) ([]byte, error) {
		return nil, fn(p)
	})
}

// withProxyReply is withProxy's generalization for replies that carry
// a non-fatal annotation payload alongside err=0 (e.g. a downgraded
// wakeup request), rather than always returning an empty body.
func (d *Dispatcher) withProxyReply(cs *ChannelState, frame wire.Frame, fn func(*listener.Proxy) ([]byte, error)) wire.Frame {
	cs.mu.Lock()
	entry, ok := cs.proxies[frame.Header.ID]
	cs.mu.Unlock()
	if !ok {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	payload, err := fn(entry.proxy)
	if err != nil {
		obslog.Logger.Warnw("listener operation failed", obslog.FieldListenerID, frame.Header.ID, obslog.FieldErr, err)
		return replyFrame(frame.Header, senserr.EIO, nil)
	}
	return replyFrame(frame.Header, senserr.OK, payload)
}

func (d *Dispatcher) handleSetAttrInt(cs *ChannelState, frame wire.Frame) wire.Frame {
	body, err := wire.DecodeListenerSetAttrIntBody(frame.Payload)
	if err != nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	return d.withProxyReply(cs, frame, func(p *listener.Proxy) ([]byte, error) {
		switch body.Attr {
		case "interval":
			return nil, p.SetInterval(int32(body.Value))
		case "max_batch_latency":
			return nil, p.SetLatency(int32(body.Value))
		case "wakeup":
			downgraded, err := p.SetWakeup(body.Value != 0)
			if err != nil {
				return nil, err
			}
			if downgraded {
				obslog.Logger.Infow("listener wakeup request downgraded",
					obslog.FieldListenerID, frame.Header.ID, obslog.FieldDowngradedWakeup, true)
			}
			return wire.SetAttrReplyBody{DowngradedWakeup: downgraded}.Encode(), nil
		case "passive":
			p.SetPassive(body.Value != 0)
			return nil, nil
		case "pause_policy":
			p.SetPausePolicyMask(uint32(body.Value))
			return nil, nil
		case "axis_orientation":
			p.SetAxisOrientation(body.Value != 0, 0)
			return nil, nil
		case "display_rotation":
			p.SetAxisOrientation(true, int(body.Value))
			return nil, nil
		case "flush":
			p.Flush()
			return nil, nil
		default:
			return nil, errs.Newf("unknown integer attribute %q", body.Attr)
		}
	})
}

func (d *Dispatcher) handleSetAttrStr(cs *ChannelState, frame wire.Frame) wire.Frame {
	body, err := wire.DecodeListenerSetAttrStrBody(frame.Payload)
	if err != nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	// No string-valued attribute is consulted by this implementation's
	// arbitration or delivery path; accepted and logged for protocol
	// parity, matching "sensor-specific attrs passed through to the
	// shim" (§6) for shims that choose to interpret one.
	obslog.Logger.Debugw("listener string attribute set", obslog.FieldListenerID, frame.Header.ID, "attr", body.Attr)
	return replyFrame(frame.Header, senserr.OK, nil)
}

func (d *Dispatcher) handleGetData(cs *ChannelState, frame wire.Frame) wire.Frame {
	cs.mu.Lock()
	entry, ok := cs.proxies[frame.Header.ID]
	cs.mu.Unlock()
	if !ok {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	h := d.registry.Get(entry.proxy.TargetURI())
	if h == nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	cached, ok := h.(cachedValueProvider)
	if !ok {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	ev, has := cached.CachedValue()
	if !has {
		return replyFrame(frame.Header, senserr.EAGAIN, nil)
	}
	return replyFrame(frame.Header, senserr.OK, ev.Encode())
}

func (d *Dispatcher) handleHasPrivilege(cs *ChannelState, frame wire.Frame) wire.Frame {
	body, err := wire.DecodeHasPrivilegeBody(frame.Payload)
	if err != nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	granted := d.checkPrivilege(cs.id, body.Privilege)
	reply := wire.HasPrivilegeReply{Granted: granted}
	code := senserr.OK
	if !granted {
		code = senserr.EACCES
	}
	return replyFrame(frame.Header, code, reply.Encode())
}

func (d *Dispatcher) handleProviderConnect(cs *ChannelState, frame wire.Frame) wire.Frame {
	if d.providerHost == nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	body, err := wire.DecodeProviderConnectBody(frame.Payload)
	if err != nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	if err := d.providerHost.Connect(cs.id, body.URI); err != nil {
		return replyFrame(frame.Header, senserr.CodeOf(err), nil)
	}
	return replyFrame(frame.Header, senserr.OK, nil)
}

func (d *Dispatcher) handleProviderDisconnect(cs *ChannelState, frame wire.Frame) wire.Frame {
	if d.providerHost == nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	if err := d.providerHost.Disconnect(cs.id); err != nil {
		return replyFrame(frame.Header, senserr.EIO, nil)
	}
	return replyFrame(frame.Header, senserr.OK, nil)
}

func (d *Dispatcher) handleProviderPostEvent(cs *ChannelState, frame wire.Frame) wire.Frame {
	if d.providerHost == nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	ev, err := wire.DecodeSensorEvent(frame.Payload)
	if err != nil {
		return replyFrame(frame.Header, senserr.EINVAL, nil)
	}
	if err := d.providerHost.PostEvent(cs.id, ev); err != nil {
		return replyFrame(frame.Header, senserr.CodeOf(err), nil)
	}
	return replyFrame(frame.Header, senserr.OK, nil)
}
