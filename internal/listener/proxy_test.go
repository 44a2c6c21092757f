package listener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavataste/sensord/internal/arbitrate"
	"github.com/lavataste/sensord/internal/fanout"
	"github.com/lavataste/sensord/internal/policy"
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

type fakeTarget struct {
	arb    *arbitrate.Arbiter
	fanout *fanout.Fanout
	typ    sensortype.Type
}

func newFakeTarget(typ sensortype.Type) *fakeTarget {
	return &fakeTarget{arb: arbitrate.New(noopDriver{}), fanout: fanout.New(), typ: typ}
}

func (f *fakeTarget) Arbiter() *arbitrate.Arbiter { return f.arb }
func (f *fakeTarget) GetFanout() *fanout.Fanout   { return f.fanout }
func (f *fakeTarget) Type() sensortype.Type       { return f.typ }

type recordingSender struct {
	frames []wire.Frame
}

func (r *recordingSender) Send(f wire.Frame) error {
	r.frames = append(r.frames, f)
	return nil
}

func TestProxy_StartActivatesArbitration(t *testing.T) {
	target := newFakeTarget(sensortype.Accelerometer)
	ch := &recordingSender{}
	p := New(1, "accelerometer.0", target, ch)

	require.NoError(t, p.SetInterval(50))
	require.NoError(t, p.Start())

	assert.True(t, target.arb.State().Started)
	assert.Equal(t, int32(50), target.arb.State().EffectiveIntervalMS)
}

func TestProxy_PassiveNeverActivatesArbitration(t *testing.T) {
	target := newFakeTarget(sensortype.Accelerometer)
	ch := &recordingSender{}
	p := New(1, "accelerometer.0", target, ch)

	p.SetPassive(true)
	require.NoError(t, p.SetInterval(20))
	require.NoError(t, p.Start())

	assert.False(t, target.arb.State().Started)
}

func TestProxy_AccuracyDiffingSendsAccuracyFrameFirst(t *testing.T) {
	target := newFakeTarget(sensortype.Accelerometer)
	ch := &recordingSender{}
	p := New(1, "accelerometer.0", target, ch)
	require.NoError(t, p.Start())

	p.onEvent(wire.SensorEvent{Accuracy: 3, Values: []float32{1, 2, 3}})
	require.Len(t, ch.frames, 2)
	assert.Equal(t, wire.CmdListenerAccuracyEvent, ch.frames[0].Header.Type)
	assert.Equal(t, wire.CmdListenerEvent, ch.frames[1].Header.Type)

	p.onEvent(wire.SensorEvent{Accuracy: 3, Values: []float32{1, 2, 3}})
	require.Len(t, ch.frames, 3)
	assert.Equal(t, wire.CmdListenerEvent, ch.frames[2].Header.Type)
}

func TestProxy_AxisRotation90Degrees(t *testing.T) {
	target := newFakeTarget(sensortype.Accelerometer)
	ch := &recordingSender{}
	p := New(1, "accelerometer.0", target, ch)
	p.SetAxisOrientation(true, 90)
	require.NoError(t, p.Start())

	p.onEvent(wire.SensorEvent{Accuracy: 1, Values: []float32{1, 0, 9}})
	ev, err := wire.DecodeSensorEvent(ch.frames[len(ch.frames)-1].Payload)
	require.NoError(t, err)
	assert.InDelta(t, 0, ev.Values[0], 1e-6)
	assert.InDelta(t, 1, ev.Values[1], 1e-6)
}

func TestProxy_PauseThenResumeByPolicy(t *testing.T) {
	target := newFakeTarget(sensortype.Accelerometer)
	ch := &recordingSender{}
	p := New(1, "accelerometer.0", target, ch)
	p.SetPausePolicyMask(0x01)
	require.NoError(t, p.SetInterval(10))
	require.NoError(t, p.Start())
	assert.True(t, target.arb.State().Started)

	p.ApplyPausePolicy(0x01)
	assert.False(t, target.arb.State().Started)

	p.ApplyPausePolicy(0x00)
	assert.True(t, target.arb.State().Started)
}

func TestProxy_UserStopClearsIntentAcrossPolicyChange(t *testing.T) {
	target := newFakeTarget(sensortype.Accelerometer)
	ch := &recordingSender{}
	p := New(1, "accelerometer.0", target, ch)
	p.SetPausePolicyMask(0x01)
	require.NoError(t, p.SetInterval(10))
	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())

	p.ApplyPausePolicy(0x00)
	assert.False(t, target.arb.State().Started)
}

func TestProxy_SubscribeToPolicyAppliesCurrentValueImmediately(t *testing.T) {
	target := newFakeTarget(sensortype.Accelerometer)
	ch := &recordingSender{}
	p := New(1, "accelerometer.0", target, ch)
	p.SetPausePolicyMask(0x01)
	require.NoError(t, p.SetInterval(10))
	require.NoError(t, p.Start())

	mon := policy.New()
	mon.Publish(policy.PausePolicy, 0x01)

	unsubscribe := p.SubscribeToPolicy(mon)
	assert.False(t, target.arb.State().Started)

	mon.Publish(policy.PausePolicy, 0x00)
	assert.True(t, target.arb.State().Started)

	unsubscribe()
	mon.Publish(policy.PausePolicy, 0x01)
	assert.True(t, target.arb.State().Started)
}
