package wire

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_EncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{
		Header:  Header{ID: 42, Type: CmdListenerStart, Err: 0},
		Payload: []byte("payload-bytes"),
	}
	buf, err := f.Encode()
	require.NoError(t, err)

	got, err := DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Header.ID)
	assert.Equal(t, CmdListenerStart, got.Header.Type)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestFrame_Encode_RejectsOversize(t *testing.T) {
	f := Frame{Header: Header{}, Payload: make([]byte, MaxFrameSize)}
	_, err := f.Encode()
	assert.Error(t, err)
}

func TestChannelReady_RejectsBadMagic(t *testing.T) {
	buf := ChannelReady{Magic: 0xDEADBEEF, ClientID: 1}.Encode()
	_, err := DecodeChannelReady(buf)
	assert.Error(t, err)
}

func TestChannelReady_RoundTrip(t *testing.T) {
	buf := ChannelReady{Magic: ChannelReadyMagic, ClientID: 7}.Encode()
	got, err := DecodeChannelReady(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.ClientID)
}

func TestSensorListBody_RoundTrip(t *testing.T) {
	body := SensorListBody{Sensors: []SensorInfo{
		{URI: "accelerometer.0", Type: 1, Vendor: "acme", Name: "accel-a", MinIntervalMS: 5, WakeupSupported: true, Privilege: "public"},
		{URI: "gyroscope.0", Type: 2, Vendor: "acme", Name: "gyro-a", MinIntervalMS: 10},
	}}
	got, err := DecodeSensorListBody(body.Encode())
	require.NoError(t, err)
	require.Len(t, got.Sensors, 2)
	assert.Equal(t, "accelerometer.0", got.Sensors[0].URI)
	assert.True(t, got.Sensors[0].WakeupSupported)
	assert.Equal(t, int32(10), got.Sensors[1].MinIntervalMS)
}

func TestSensorEvent_RoundTrip(t *testing.T) {
	e := SensorEvent{EventType: 0x00010001, TimestampUS: 123456789, Accuracy: 3, Values: []float32{1.5, -2.25, 9.8}}
	got, err := DecodeSensorEvent(e.Encode())
	require.NoError(t, err)
	assert.Equal(t, e.EventType, got.EventType)
	assert.Equal(t, e.TimestampUS, got.TimestampUS)
	assert.InDeltaSlice(t, []float64{1.5, -2.25, 9.8}, toFloat64Slice(got.Values), 1e-6)
}

func toFloat64Slice(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func TestListenerSetAttrIntBody_RoundTrip(t *testing.T) {
	b := ListenerSetAttrIntBody{Attr: "interval", Value: 16}
	got, err := DecodeListenerSetAttrIntBody(b.Encode())
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestChannel_HandshakeOverUnixSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "sensord.sock")

	ln, err := Listen(sockPath)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan *Channel, 1)
	go func() {
		ch, err := ln.Accept()
		require.NoError(t, err)
		serverDone <- ch
	}()

	client, err := DialChannel(sockPath)
	require.NoError(t, err)
	defer client.Close()

	server := <-serverDone
	defer server.Close()

	assert.Equal(t, server.ClientID(), client.ClientID())
	assert.Equal(t, StateConnected, client.State())
}

func TestChannel_MarkTransfer(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "sensord.sock")

	ln, err := Listen(sockPath)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan *Channel, 1)
	go func() {
		ch, err := ln.Accept()
		require.NoError(t, err)
		serverDone <- ch
	}()

	client, err := DialChannel(sockPath)
	require.NoError(t, err)
	defer client.Close()
	server := <-serverDone
	defer server.Close()

	require.Equal(t, StateConnected, client.State())
	client.MarkTransfer()
	assert.Equal(t, StateTransfer, client.State())

	client.Close()
	client.MarkTransfer()
	assert.Equal(t, StateClosed, client.State())
}

func TestChannel_SendRecvFrame(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "sensord.sock")

	ln, err := Listen(sockPath)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan *Channel, 1)
	go func() {
		ch, _ := ln.Accept()
		serverDone <- ch
	}()

	client, err := DialChannel(sockPath)
	require.NoError(t, err)
	defer client.Close()

	server := <-serverDone
	defer server.Close()

	want := Frame{Header: Header{ID: client.ClientID(), Type: CmdSensorList}, Payload: []byte("hello")}
	require.NoError(t, client.Send(want))

	got, err := server.Recv()
	require.NoError(t, err)
	assert.Equal(t, want.Payload, got.Payload)
	assert.Equal(t, want.Header.Type, got.Header.Type)
}
