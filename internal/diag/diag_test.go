package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavataste/sensord/internal/registry"
	"github.com/lavataste/sensord/internal/sensor"
	"github.com/lavataste/sensord/internal/sensortype"
)

// noopShim is a sensor.DeviceShim that never talks to real hardware,
// exposing just enough to let a sensor.Handler drive an Arbiter and
// accept pushed samples via pushEvent.
type noopShim struct {
	sink func(sensor.RawFrame)
}

func (s *noopShim) Open() error                 { return nil }
func (s *noopShim) Close() error                { return nil }
func (s *noopShim) SetInterval(int32) error     { return nil }
func (s *noopShim) SetBatchLatency(int32) error { return nil }
func (s *noopShim) SetWakeup(bool) error        { return nil }
func (s *noopShim) Start() error                { return nil }
func (s *noopShim) Stop() error                 { return nil }
func (s *noopShim) MinIntervalMS() int32        { return 10 }
func (s *noopShim) WakeupSupported() bool       { return false }
func (s *noopShim) SetEventSink(sink func(sensor.RawFrame)) { s.sink = sink }
func (s *noopShim) pushEvent(raw sensor.RawFrame)           { s.sink(raw) }

func newTestRegistry(t *testing.T) (*registry.Registry, *noopShim) {
	t.Helper()
	reg := registry.New()
	shim := &noopShim{}
	h := sensor.New(sensor.Info{URI: "pressure://test0", Type: sensortype.Pressure}, shim, nil)
	require.NoError(t, reg.Register(h))
	return reg, shim
}

func TestServer_HandleSensorsListsRegisteredHandlers(t *testing.T) {
	reg, _ := newTestRegistry(t)
	s := New(reg, "127.0.0.1:0")

	req := httptest.NewRequest(http.MethodGet, "/sensors", nil)
	rec := httptest.NewRecorder()
	s.handleSensors(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snapshots []sensorSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshots))
	require.Len(t, snapshots, 1)
	assert.Equal(t, "pressure://test0", snapshots[0].URI)
	assert.Equal(t, "pressure", snapshots[0].TypeName)
	assert.Equal(t, 0, snapshots[0].ClientCount)
}

func TestServer_HandleSensorsRejectsNonGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	s := New(reg, "127.0.0.1:0")

	req := httptest.NewRequest(http.MethodPost, "/sensors", nil)
	rec := httptest.NewRecorder()
	s.handleSensors(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_WSEventsMirrorsPublishedSamples(t *testing.T) {
	reg, shim := newTestRegistry(t)
	s := New(reg, "127.0.0.1:0")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", s.handleWSEvents)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give mountMirrors' Start() time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	shim.pushEvent(sensor.RawFrame{TimestampUS: 42, Accuracy: 3, Values: []float32{1.5}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wsMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "pressure://test0", msg.URI)
	// The very first sample always carries a fresh accuracy frame
	// ahead of the data frame (listener.Proxy's onEvent step 2).
	assert.Equal(t, "accuracy", msg.Kind)
	require.NotNil(t, msg.Accuracy)
	assert.Equal(t, int32(3), msg.Accuracy.Accuracy)
}

func TestServer_MountMirrorsAreAllPassive(t *testing.T) {
	reg, _ := newTestRegistry(t)
	s := New(reg, "127.0.0.1:0")

	outbox := make(chan []byte, 8)
	proxies := s.mountMirrors(outbox)
	require.Len(t, proxies, 1)
	defer proxies[0].Close()

	h := reg.Get("pressure://test0").(*sensor.Handler)
	assert.Equal(t, 0, h.Arbiter().State().ClientCount)
}
