// Package loadshim is a concrete reference implementation of
// sensor.DeviceShim (§4.E, §2 expansion): a one-axis pseudo-sensor
// reporting host CPU load via github.com/shirou/gopsutil/v3, the way
// the teacher reports host memory stats in
// pulse/async/system_metrics_linux.go. It exists so the physical
// handler code path has one real driver to exercise besides a mock.
package loadshim

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/sensor"
)

// minIntervalMS is the floor this shim clamps requested intervals to;
// sampling gopsutil's CPU counters faster than this buys no extra
// precision.
const minIntervalMS int32 = 200

// defaultIntervalMS is the interval the shim starts at before any
// arbitrated SetInterval call ever lands.
const defaultIntervalMS int32 = 1000

// Shim polls host CPU utilization on a timer and pushes one sample per
// tick through its registered event sink, satisfying sensor.DeviceShim.
type Shim struct {
	mu         sync.Mutex
	sink       func(sensor.RawFrame)
	intervalMS int32
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

var _ sensor.DeviceShim = (*Shim)(nil)

// New creates a Shim, idle until Open and Start are called.
func New() *Shim {
	return &Shim{intervalMS: defaultIntervalMS}
}

func (s *Shim) Open() error { return nil }

func (s *Shim) Close() error {
	return s.Stop()
}

func (s *Shim) SetEventSink(sink func(sensor.RawFrame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

func (s *Shim) MinIntervalMS() int32 { return minIntervalMS }

func (s *Shim) WakeupSupported() bool { return false }

// SetWakeup is a no-op: a host-metrics pseudo-sensor has no wakeup
// interrupt line to configure.
func (s *Shim) SetWakeup(bool) error { return nil }

// SetBatchLatency is a no-op: this shim has no FIFO to batch into; it
// delivers one sample per poll tick.
func (s *Shim) SetBatchLatency(int32) error { return nil }

// SetInterval stages the poll period. If the shim is running, the
// change is picked up before the next tick rather than requiring a
// Stop/Start cycle.
func (s *Shim) SetInterval(ms int32) error {
	if ms < minIntervalMS {
		ms = minIntervalMS
	}
	s.mu.Lock()
	s.intervalMS = ms
	s.mu.Unlock()
	return nil
}

// Start begins the poll loop if it is not already running.
func (s *Shim) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pollLoop(ctx)
	return nil
}

// Stop halts the poll loop and waits for it to exit.
func (s *Shim) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	return nil
}

func (s *Shim) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		interval := s.intervalMS
		s.mu.Unlock()

		timer := time.NewTimer(time.Duration(interval) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.sample()
	}
}

// sample reads gopsutil's CPU percentage since the previous call
// (interval 0 is gopsutil's documented non-blocking "since last call"
// mode) and pushes it as a single-axis RawFrame.
func (s *Shim) sample() {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		obslog.Logger.Warnw("loadshim: reading cpu percent failed", obslog.FieldErr, errs.Wrap(err, "loadshim"))
		return
	}
	if len(percents) == 0 {
		return
	}

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}

	sink(sensor.RawFrame{
		TimestampUS: time.Now().UnixMicro(),
		Accuracy:    accuracyHigh,
		Values:      []float32{float32(percents[0])},
	})
}

// accuracyHigh mirrors client.AccuracyHigh (§4.H): gopsutil's CPU
// counters are always considered a reliable reading once sampled.
const accuracyHigh int32 = 3
