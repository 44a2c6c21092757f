package main

import (
	"context"
	"sync"
	"time"

	"github.com/lavataste/sensord/internal/dispatch"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/wire"
)

// eventChannelWaitTimeout bounds how long a command channel's goroutine
// waits for its client's matching event channel to register before
// giving up and closing the connection — a client that dials the
// command socket without ever dialing the event socket is misbehaving,
// not slow.
const eventChannelWaitTimeout = 5 * time.Second

// eventRegistry pairs each client's event channel with the client id
// assigned on its command channel (§6: "two separate sockets per
// client"). The wire protocol has no built-in pairing frame, so the
// convention here is: a client dials the command socket first, learns
// its client id from the ChannelReady handshake, then dials the event
// socket and sends exactly one frame whose Header.ID carries that same
// client id before ever expecting LISTENER_EVENT traffic.
type eventRegistry struct {
	mu      sync.Mutex
	senders map[uint64]*wire.Channel
	waiters map[uint64][]chan *wire.Channel
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{
		senders: make(map[uint64]*wire.Channel),
		waiters: make(map[uint64][]chan *wire.Channel),
	}
}

func (r *eventRegistry) register(clientID uint64, ch *wire.Channel) {
	r.mu.Lock()
	r.senders[clientID] = ch
	waiting := r.waiters[clientID]
	delete(r.waiters, clientID)
	r.mu.Unlock()

	for _, w := range waiting {
		w <- ch
	}
}

func (r *eventRegistry) unregister(clientID uint64) {
	r.mu.Lock()
	delete(r.senders, clientID)
	r.mu.Unlock()
}

func (r *eventRegistry) waitFor(ctx context.Context, clientID uint64) (*wire.Channel, error) {
	r.mu.Lock()
	if ch, ok := r.senders[clientID]; ok {
		r.mu.Unlock()
		return ch, nil
	}
	w := make(chan *wire.Channel, 1)
	r.waiters[clientID] = append(r.waiters[clientID], w)
	r.mu.Unlock()

	select {
	case ch := <-w:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// serveEventSocket accepts event-channel connections for the lifetime
// of ctx. Each connection's first frame registers it against the
// client id it names, then the connection is drained purely to detect
// the peer going away.
func serveEventSocket(ctx context.Context, ln *wire.Listener, reg *eventRegistry) {
	for {
		ch, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			obslog.Logger.Warnw("sensord: event socket accept failed", obslog.FieldErr, err)
			return
		}
		go serveEventChannel(ch, reg)
	}
}

func serveEventChannel(ch *wire.Channel, reg *eventRegistry) {
	frame, err := ch.Recv()
	if err != nil {
		ch.Close()
		return
	}
	clientID := frame.Header.ID
	reg.register(clientID, ch)
	ch.MarkTransfer()
	obslog.Logger.Debugw("event channel registered", obslog.FieldClientID, clientID)

	for {
		if _, err := ch.Recv(); err != nil {
			break
		}
	}
	reg.unregister(clientID)
	ch.Close()
	obslog.Logger.Debugw("event channel closed", obslog.FieldClientID, clientID)
}

// serveCommandSocket accepts command-channel connections for the
// lifetime of ctx, spawning one goroutine per connection.
func serveCommandSocket(ctx context.Context, ln *wire.Listener, disp *dispatch.Dispatcher, reg *eventRegistry) {
	for {
		ch, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			obslog.Logger.Warnw("sensord: command socket accept failed", obslog.FieldErr, err)
			return
		}
		go serveCommandChannel(ctx, ch, disp, reg)
	}
}

func serveCommandChannel(ctx context.Context, ch *wire.Channel, disp *dispatch.Dispatcher, reg *eventRegistry) {
	defer ch.Close()

	clientID := ch.ClientID()
	waitCtx, cancel := context.WithTimeout(ctx, eventChannelWaitTimeout)
	sender, err := reg.waitFor(waitCtx, clientID)
	cancel()
	if err != nil {
		obslog.Logger.Warnw("sensord: client never registered its event channel", obslog.FieldClientID, clientID, obslog.FieldErr, err)
		return
	}

	cs := disp.NewChannel(clientID)
	defer cs.Close()

	ch.MarkTransfer()
	obslog.Logger.Debugw("command channel connected", obslog.FieldClientID, clientID)
	for {
		frame, err := ch.Recv()
		if err != nil {
			break
		}
		reply := disp.Handle(cs, sender, frame)
		if err := ch.Send(reply); err != nil {
			break
		}
	}
	obslog.Logger.Debugw("command channel closed", obslog.FieldClientID, clientID)
}
