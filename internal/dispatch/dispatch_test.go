package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavataste/sensord/internal/arbitrate"
	"github.com/lavataste/sensord/internal/fanout"
	"github.com/lavataste/sensord/internal/policy"
	"github.com/lavataste/sensord/internal/registry"
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

type noopDriver struct{}

func (noopDriver) SetInterval(int32) error     { return nil }
func (noopDriver) SetBatchLatency(int32) error { return nil }
func (noopDriver) SetWakeup(bool) error        { return nil }
func (noopDriver) Start() error                { return nil }
func (noopDriver) Stop() error                 { return nil }
func (noopDriver) MinIntervalMS() int32        { return 1 }
func (noopDriver) WakeupSupported() bool       { return true }

type noWakeupDriver struct{ noopDriver }

func (noWakeupDriver) WakeupSupported() bool { return false }

// fakeHandler satisfies registry.Handler, listener.Target,
// wireInfoProvider, and cachedValueProvider all at once, standing in
// for sensor.Handler in dispatch tests without pulling in a device
// shim.
type fakeHandler struct {
	uri      string
	typ      sensortype.Type
	arb      *arbitrate.Arbiter
	fanout   *fanout.Fanout
	info     wire.SensorInfo
	cached   wire.SensorEvent
	hasCache bool
}

func newFakeHandler(uri string, typ sensortype.Type) *fakeHandler {
	return &fakeHandler{
		uri:    uri,
		typ:    typ,
		arb:    arbitrate.New(noopDriver{}),
		fanout: fanout.New(),
		info:   wire.SensorInfo{URI: uri, Type: uint32(typ)},
	}
}

func (h *fakeHandler) URI() string                    { return h.uri }
func (h *fakeHandler) Type() sensortype.Type           { return h.typ }
func (h *fakeHandler) Arbiter() *arbitrate.Arbiter     { return h.arb }
func (h *fakeHandler) GetFanout() *fanout.Fanout       { return h.fanout }
func (h *fakeHandler) WireInfo() wire.SensorInfo       { return h.info }
func (h *fakeHandler) CachedValue() (wire.SensorEvent, bool) { return h.cached, h.hasCache }

type recordingSender struct {
	mu     sync.Mutex
	frames []wire.Frame
}

func (r *recordingSender) Send(f wire.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSender) snapshot() []wire.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Frame(nil), r.frames...)
}

func newTestDispatcher() (*Dispatcher, *registry.Registry, *fakeHandler) {
	reg := registry.New()
	h := newFakeHandler("accelerometer.0", sensortype.Accelerometer)
	_ = reg.Register(h)
	d := New(reg, policy.New())
	return d, reg, h
}

func TestDispatcher_SensorListReturnsRegisteredHandlers(t *testing.T) {
	d, _, _ := newTestDispatcher()
	frame := wire.Frame{Header: wire.Header{ID: 1, Type: wire.CmdSensorList}}
	reply := d.Handle(d.NewChannel(1), &recordingSender{}, frame)
	require.Equal(t, int32(0), reply.Header.Err)
	body, err := wire.DecodeSensorListBody(reply.Payload)
	require.NoError(t, err)
	assert.Len(t, body.Sensors, 1)
	assert.Equal(t, "accelerometer.0", body.Sensors[0].URI)
}

func TestDispatcher_ConnectStartDeliversEvents(t *testing.T) {
	d, _, h := newTestDispatcher()
	cs := d.NewChannel(1)
	sender := &recordingSender{}

	connectBody := wire.ListenerConnectBody{URI: "accelerometer.0"}
	connReply := d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 42, Type: wire.CmdListenerConnect}, Payload: connectBody.Encode()})
	require.Equal(t, int32(0), connReply.Header.Err)

	startReply := d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 42, Type: wire.CmdListenerStart}})
	require.Equal(t, int32(0), startReply.Header.Err)
	assert.True(t, h.arb.State().Started)

	h.fanout.Publish(wire.SensorEvent{Accuracy: 1, Values: []float32{1, 2, 3}})
	// The proxy delivers from its own drain goroutine, so wait for it.
	require.Eventually(t, func() bool { return len(sender.snapshot()) == 2 }, time.Second, time.Millisecond) // accuracy frame + data frame
	frames := sender.snapshot()
	assert.Equal(t, wire.CmdListenerEvent, frames[1].Header.Type)
}

func TestDispatcher_ConnectUnknownURIFails(t *testing.T) {
	d, _, _ := newTestDispatcher()
	cs := d.NewChannel(1)
	body := wire.ListenerConnectBody{URI: "does-not-exist"}
	reply := d.Handle(cs, &recordingSender{}, wire.Frame{Header: wire.Header{ID: 1, Type: wire.CmdListenerConnect}, Payload: body.Encode()})
	assert.Equal(t, int32(-22), reply.Header.Err)
}

func TestDispatcher_SetAttrIntInterval(t *testing.T) {
	d, _, h := newTestDispatcher()
	cs := d.NewChannel(1)
	sender := &recordingSender{}
	connectBody := wire.ListenerConnectBody{URI: "accelerometer.0"}
	d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 7, Type: wire.CmdListenerConnect}, Payload: connectBody.Encode()})
	d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 7, Type: wire.CmdListenerStart}})

	attrBody := wire.ListenerSetAttrIntBody{Attr: "interval", Value: 25}
	reply := d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 7, Type: wire.CmdListenerSetAttrInt}, Payload: attrBody.Encode()})
	require.Equal(t, int32(0), reply.Header.Err)
	assert.Equal(t, int32(25), h.arb.State().EffectiveIntervalMS)
}

func TestDispatcher_SetAttrIntWakeupDowngradeSurfacesInReplyAndLog(t *testing.T) {
	reg := registry.New()
	h := newFakeHandler("accelerometer.0", sensortype.Accelerometer)
	h.arb = arbitrate.New(noWakeupDriver{})
	_ = reg.Register(h)
	d := New(reg, policy.New())

	cs := d.NewChannel(1)
	sender := &recordingSender{}
	connectBody := wire.ListenerConnectBody{URI: "accelerometer.0"}
	d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 9, Type: wire.CmdListenerConnect}, Payload: connectBody.Encode()})
	d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 9, Type: wire.CmdListenerStart}})

	attrBody := wire.ListenerSetAttrIntBody{Attr: "wakeup", Value: 1}
	reply := d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 9, Type: wire.CmdListenerSetAttrInt}, Payload: attrBody.Encode()})
	require.Equal(t, int32(0), reply.Header.Err)

	replyBody, err := wire.DecodeSetAttrReplyBody(reply.Payload)
	require.NoError(t, err)
	assert.True(t, replyBody.DowngradedWakeup)
	assert.False(t, h.arb.State().WakeupOn)
}

func TestDispatcher_GetDataReturnsCachedSample(t *testing.T) {
	d, _, h := newTestDispatcher()
	h.cached = wire.SensorEvent{Accuracy: 3, Values: []float32{9, 9, 9}}
	h.hasCache = true
	cs := d.NewChannel(1)
	sender := &recordingSender{}
	connectBody := wire.ListenerConnectBody{URI: "accelerometer.0"}
	d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 3, Type: wire.CmdListenerConnect}, Payload: connectBody.Encode()})

	reply := d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 3, Type: wire.CmdListenerGetData}})
	require.Equal(t, int32(0), reply.Header.Err)
	ev, err := wire.DecodeSensorEvent(reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, int32(3), ev.Accuracy)
}

func TestDispatcher_RateLimitReturnsEAGAIN(t *testing.T) {
	reg := registry.New()
	h := newFakeHandler("accelerometer.0", sensortype.Accelerometer)
	_ = reg.Register(h)
	d := New(reg, policy.New(), WithRateLimit(1, 1))
	cs := d.NewChannel(1)
	sender := &recordingSender{}
	connectBody := wire.ListenerConnectBody{URI: "accelerometer.0"}
	d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 1, Type: wire.CmdListenerConnect}, Payload: connectBody.Encode()})
	d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 1, Type: wire.CmdListenerStart}})

	attrBody := wire.ListenerSetAttrIntBody{Attr: "interval", Value: 10}
	reqFrame := wire.Frame{Header: wire.Header{ID: 1, Type: wire.CmdListenerSetAttrInt}, Payload: attrBody.Encode()}
	d.Handle(cs, sender, reqFrame) // consumes the single burst token
	reply := d.Handle(cs, sender, reqFrame)
	assert.Equal(t, int32(-11), reply.Header.Err)
}

func TestDispatcher_HasPrivilegeDeniedByChecker(t *testing.T) {
	reg := registry.New()
	h := newFakeHandler("accelerometer.0", sensortype.Accelerometer)
	_ = reg.Register(h)
	d := New(reg, policy.New(), WithPrivilegeChecker(func(channelID uint64, priv string) bool { return false }))
	cs := d.NewChannel(1)
	body := wire.HasPrivilegeBody{Privilege: "sensor.accel"}
	reply := d.Handle(cs, &recordingSender{}, wire.Frame{Header: wire.Header{ID: 1, Type: wire.CmdHasPrivilege}, Payload: body.Encode()})
	assert.Equal(t, int32(-13), reply.Header.Err)
}

func TestChannelState_CloseTearsDownProxies(t *testing.T) {
	d, _, h := newTestDispatcher()
	cs := d.NewChannel(1)
	sender := &recordingSender{}
	connectBody := wire.ListenerConnectBody{URI: "accelerometer.0"}
	d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 9, Type: wire.CmdListenerConnect}, Payload: connectBody.Encode()})
	d.Handle(cs, sender, wire.Frame{Header: wire.Header{ID: 9, Type: wire.CmdListenerStart}})
	require.True(t, h.arb.State().Started)

	cs.Close()
	assert.False(t, h.arb.State().Started)
}
