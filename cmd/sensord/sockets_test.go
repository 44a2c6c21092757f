package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavataste/sensord/internal/dispatch"
	"github.com/lavataste/sensord/internal/policy"
	"github.com/lavataste/sensord/internal/registry"
	"github.com/lavataste/sensord/internal/sensor"
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

type fakeDeviceShim struct {
	sink func(sensor.RawFrame)
}

func (s *fakeDeviceShim) SetInterval(int32) error     { return nil }
func (s *fakeDeviceShim) SetBatchLatency(int32) error { return nil }
func (s *fakeDeviceShim) SetWakeup(bool) error        { return nil }
func (s *fakeDeviceShim) Start() error                { return nil }
func (s *fakeDeviceShim) Stop() error                  { return nil }
func (s *fakeDeviceShim) MinIntervalMS() int32         { return 10 }
func (s *fakeDeviceShim) WakeupSupported() bool        { return false }
func (s *fakeDeviceShim) Open() error                  { return nil }
func (s *fakeDeviceShim) Close() error                 { return nil }
func (s *fakeDeviceShim) SetEventSink(sink func(sensor.RawFrame)) { s.sink = sink }

// testDaemon wires one real handler plus both real sockets, the same
// shape runDaemon assembles, but over a fake device shim instead of a
// manifest-driven one so tests can push samples directly.
type testDaemon struct {
	shim         *fakeDeviceShim
	cmdSockPath  string
	eventSockPath string
	cancel       context.CancelFunc
}

func startTestDaemon(t *testing.T) *testDaemon {
	t.Helper()
	dir := t.TempDir()
	cmdSockPath := filepath.Join(dir, "command.sock")
	eventSockPath := filepath.Join(dir, "event.sock")

	reg := registry.New()
	shim := &fakeDeviceShim{}
	h := sensor.New(sensor.Info{URI: "accelerometer://0", Type: sensortype.Accelerometer, MinIntervalMS: 10}, shim, nil)
	require.NoError(t, reg.Register(h))

	disp := dispatch.New(reg, policy.New())

	cmdLn, err := wire.Listen(cmdSockPath)
	require.NoError(t, err)
	eventLn, err := wire.Listen(eventSockPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	evReg := newEventRegistry()
	go serveEventSocket(ctx, eventLn, evReg)
	go serveCommandSocket(ctx, cmdLn, disp, evReg)

	td := &testDaemon{shim: shim, cmdSockPath: cmdSockPath, eventSockPath: eventSockPath, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		cmdLn.Close()
		eventLn.Close()
	})
	return td
}

// dialPaired connects both sockets for one client and performs the
// event-channel registration handshake cmd/sensord expects.
func dialPaired(t *testing.T, td *testDaemon) (cmd, event *wire.Channel) {
	t.Helper()
	cmd, err := wire.DialChannel(td.cmdSockPath)
	require.NoError(t, err)
	event, err = wire.DialChannel(td.eventSockPath)
	require.NoError(t, err)
	require.NoError(t, event.Send(wire.Frame{Header: wire.Header{ID: cmd.ClientID(), Type: wire.CmdChannelReady}}))
	return cmd, event
}

func TestDaemonSockets_SensorListReturnsRegisteredHandler(t *testing.T) {
	td := startTestDaemon(t)
	cmd, event := dialPaired(t, td)
	defer cmd.Close()
	defer event.Close()

	require.NoError(t, cmd.Send(wire.Frame{Header: wire.Header{ID: 1, Type: wire.CmdSensorList}}))
	reply, err := cmd.Recv()
	require.NoError(t, err)

	body, err := wire.DecodeSensorListBody(reply.Payload)
	require.NoError(t, err)
	require.Len(t, body.Sensors, 1)
	assert.Equal(t, "accelerometer://0", body.Sensors[0].URI)
}

func TestDaemonSockets_ListenerConnectStartAndEventDelivery(t *testing.T) {
	td := startTestDaemon(t)
	cmd, event := dialPaired(t, td)
	defer cmd.Close()
	defer event.Close()

	connectBody := wire.ListenerConnectBody{URI: "accelerometer://0"}.Encode()
	require.NoError(t, cmd.Send(wire.Frame{Header: wire.Header{ID: 1, Type: wire.CmdListenerConnect}, Payload: connectBody}))
	reply, err := cmd.Recv()
	require.NoError(t, err)
	assert.Equal(t, int32(0), reply.Header.Err)

	require.NoError(t, cmd.Send(wire.Frame{Header: wire.Header{ID: 1, Type: wire.CmdListenerStart}}))
	reply, err = cmd.Recv()
	require.NoError(t, err)
	assert.Equal(t, int32(0), reply.Header.Err)

	require.NotNil(t, td.shim.sink)
	td.shim.sink(sensor.RawFrame{TimestampUS: 42, Accuracy: 2, Values: []float32{1, 2, 3}})

	evFrame, err := event.Recv()
	require.NoError(t, err)
	assert.Contains(t, []wire.CommandType{wire.CmdListenerEvent, wire.CmdListenerAccuracyEvent}, evFrame.Header.Type)
}
