package pluginhost

import "github.com/lavataste/sensord/internal/sensor"

// pushShim is a sensor.DeviceShim with no device behind it at all:
// every sample comes from an explicit Post call instead of a driver
// poll loop. It backs the dynamic-sensor providers that PROVIDER_*
// commands register (§6: "dynamic-sensor provider commands"), which
// are fed by whatever a connected client posts rather than by
// hardware — the push-only counterpart of the pull-style shims
// internal/shim implements.
type pushShim struct {
	sink func(sensor.RawFrame)
}

func newPushShim() *pushShim { return &pushShim{} }

func (s *pushShim) Open() error  { return nil }
func (s *pushShim) Close() error { return nil }

func (s *pushShim) SetInterval(int32) error     { return nil }
func (s *pushShim) SetBatchLatency(int32) error { return nil }
func (s *pushShim) SetWakeup(bool) error        { return nil }
func (s *pushShim) Start() error                { return nil }
func (s *pushShim) Stop() error                 { return nil }
func (s *pushShim) MinIntervalMS() int32        { return 1 }
func (s *pushShim) WakeupSupported() bool       { return false }

func (s *pushShim) SetEventSink(sink func(sensor.RawFrame)) { s.sink = sink }

// Post hands raw down to the sink installed by sensor.New, i.e. a
// PROVIDER_POST_EVENT command arriving on the control channel.
func (s *pushShim) Post(raw sensor.RawFrame) {
	if s.sink != nil {
		s.sink(raw)
	}
}

var _ sensor.DeviceShim = (*pushShim)(nil)
