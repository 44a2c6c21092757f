// Package client implements the client-side event listener (§4.H): a
// process-wide singleton that owns the command and event channels, a
// reader goroutine that parses frames off the event channel, and a
// deliverer goroutine that dispatches them to every matching reg-event
// record across all open handles.
package client

import (
	"sync"
	"sync/atomic"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/eventqueue"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/wire"
)

// shutdownTimeout bounds EventListener.Stop, per §5's "2-second bound"
// on cooperative client-side shutdown.
const shutdownTimeout = 2 * time.Second

// rawEvent is one parsed frame handed from the reader goroutine to the
// deliverer. Unlike the server's refcounted eventqueue.Buffer, this
// queue has exactly one producer and one consumer and the event is
// never shared across goroutines after delivery, so a plain buffered
// channel serves the "bounded FIFO" requirement (§4.B) without needing
// reference counting.
type rawEvent struct {
	listenerID uint64
	isAccuracy bool
	ev         wire.SensorEvent
	acc        wire.AccuracyEventBody
}

// EventListener is the process-wide singleton of §4.H and Design
// Notes §9 ("lazily created on first connect, shut down on last
// disconnect"). Callers obtain one via Connect.
type EventListener struct {
	cmdChannel   *wire.Channel
	eventChannel *wire.Channel

	cmdMu sync.Mutex // serializes request/reply pairs on cmdChannel

	mu      deadlock.Mutex
	handles map[uint64]*Handle
	running bool

	queue      chan rawEvent
	stopSignal chan struct{}
	wg         sync.WaitGroup

	nextListenerID atomic.Uint64
}

// Connect dials both the command and event sockets, completes each
// handshake, pairs the event channel with the command channel by
// sending one frame on it whose Header.ID is the command channel's
// client id, and starts the reader and deliverer goroutines.
func Connect(cmdSocketPath, eventSocketPath string) (*EventListener, error) {
	cmdCh, err := wire.DialChannel(cmdSocketPath)
	if err != nil {
		return nil, errs.Wrap(err, "client: dial command channel")
	}
	eventCh, err := wire.DialChannel(eventSocketPath)
	if err != nil {
		cmdCh.Close()
		return nil, errs.Wrap(err, "client: dial event channel")
	}
	if err := eventCh.Send(wire.Frame{Header: wire.Header{ID: cmdCh.ClientID(), Type: wire.CmdChannelReady}}); err != nil {
		eventCh.Close()
		cmdCh.Close()
		return nil, errs.Wrap(err, "client: pair event channel")
	}

	el := &EventListener{
		cmdChannel:   cmdCh,
		eventChannel: eventCh,
		handles:      make(map[uint64]*Handle),
		queue:        make(chan rawEvent, eventqueue.DefaultCapacity),
		stopSignal:   make(chan struct{}),
		running:      true,
	}
	el.wg.Add(2)
	go el.readLoop()
	go el.deliverLoop()
	return el, nil
}

// sendCommand writes req on the command channel and blocks for its
// reply. Serialized by cmdMu since SOCK_SEQPACKET preserves one
// send-per-recv ordering but this client issues one outstanding
// command at a time (§5 "command responses are ordered with respect
// to commands on the same channel").
func (el *EventListener) sendCommand(req wire.Frame) (wire.Frame, error) {
	el.cmdMu.Lock()
	defer el.cmdMu.Unlock()
	if err := el.cmdChannel.Send(req); err != nil {
		return wire.Frame{}, err
	}
	return el.cmdChannel.Recv()
}

func (el *EventListener) registerHandle(h *Handle) {
	el.mu.Lock()
	el.handles[h.id] = h
	el.mu.Unlock()
}

func (el *EventListener) unregisterHandle(id uint64) {
	el.mu.Lock()
	delete(el.handles, id)
	el.mu.Unlock()
}

func (el *EventListener) handleFor(id uint64) *Handle {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.handles[id]
}

// readLoop blocks in Recv, parses each frame, and hands it to the
// deliverer via the bounded queue (§4.H "reader thread... enqueues
// parsed events").
func (el *EventListener) readLoop() {
	defer el.wg.Done()
	for {
		frame, err := el.eventChannel.Recv()
		if err != nil {
			obslog.Logger.Debugw("client event reader stopping", obslog.FieldErr, err)
			close(el.queue)
			return
		}
		switch frame.Header.Type {
		case wire.CmdListenerEvent:
			ev, err := wire.DecodeSensorEvent(frame.Payload)
			if err != nil {
				obslog.Logger.Warnw("client: malformed event frame", obslog.FieldErr, err)
				continue
			}
			el.enqueue(rawEvent{listenerID: frame.Header.ID, ev: ev})
		case wire.CmdListenerAccuracyEvent:
			acc, err := wire.DecodeAccuracyEventBody(frame.Payload)
			if err != nil {
				obslog.Logger.Warnw("client: malformed accuracy frame", obslog.FieldErr, err)
				continue
			}
			el.enqueue(rawEvent{listenerID: frame.Header.ID, isAccuracy: true, acc: acc})
		default:
			obslog.Logger.Debugw("client: ignoring unexpected frame on event channel", obslog.FieldCommand, frame.Header.Type)
		}
	}
}

func (el *EventListener) enqueue(item rawEvent) {
	select {
	case el.queue <- item:
	case <-el.stopSignal:
	}
}

// deliverLoop drains the queue and dispatches each item to its
// handle's reg-event records (§4.H "deliverer thread... dispatches
// each event to all matching reg-event records").
func (el *EventListener) deliverLoop() {
	defer el.wg.Done()
	for item := range el.queue {
		h := el.handleFor(item.listenerID)
		if h == nil {
			continue
		}
		if item.isAccuracy {
			h.dispatchAccuracy(item.acc)
		} else {
			h.dispatchEvent(item.ev)
		}
	}
}

// Stop cooperatively shuts the listener down: it closes both sockets
// (unblocking the reader's Recv) and waits up to shutdownTimeout for
// both goroutines to exit, logging rather than deadlocking on timeout
// (§5).
func (el *EventListener) Stop() error {
	el.mu.Lock()
	if !el.running {
		el.mu.Unlock()
		return nil
	}
	el.running = false
	el.mu.Unlock()

	close(el.stopSignal)
	el.eventChannel.Close()
	el.cmdChannel.Close()

	done := make(chan struct{})
	go func() {
		el.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownTimeout):
		obslog.Logger.Warnw("client event listener shutdown exceeded timeout", "timeout", shutdownTimeout)
		return errs.New("client: shutdown timed out")
	}
}
