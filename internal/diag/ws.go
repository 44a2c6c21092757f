package diag

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lavataste/sensord/internal/listener"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/wire"
)

// Keepalive/framing constants, lifted from the teacher's websocket
// client conventions: a write must land within writeWait, a silent
// peer is dropped after pongWait, and a ping goes out well inside that
// window so a healthy connection never hits the deadline.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	outboxSize     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// diagListenerID hands out the listener ids diag's passive mirror
// proxies register under. They live in their own namespace, well
// above both client-issued ids (small, connection-local counters) and
// pluginhost's 1<<40 base, so a mirror session can never collide with
// a real listener or a plugin's upstream subscription inside the same
// handler's arbiter map.
var nextDiagListenerID atomic.Uint64

const diagListenerIDBase = 1 << 41

func init() {
	nextDiagListenerID.Store(diagListenerIDBase)
}

// wsMessage is the JSON envelope every mirrored sample is sent as.
// Kind is "event" or "accuracy"; only the matching field is populated.
type wsMessage struct {
	URI      string            `json:"uri"`
	Kind     string            `json:"kind"`
	Event    *wire.SensorEvent `json:"event,omitempty"`
	Accuracy *wsAccuracy       `json:"accuracy,omitempty"`
}

type wsAccuracy struct {
	Accuracy    int32 `json:"accuracy"`
	TimestampUS int64 `json:"timestamp_us"`
}

// wsSender adapts listener.Proxy's wire.Frame delivery onto a
// connection's outbox channel, decoding each frame back into JSON
// since the diagnostics surface is for humans and browser tooling, not
// another sensord client. It never blocks the publisher: a full outbox
// drops the sample rather than stall the handler's fanout.
type wsSender struct {
	uri    string
	outbox chan<- []byte
}

func (s *wsSender) Send(f wire.Frame) error {
	var msg wsMessage
	msg.URI = s.uri
	switch f.Header.Type {
	case wire.CmdListenerEvent:
		ev, err := wire.DecodeSensorEvent(f.Payload)
		if err != nil {
			return err
		}
		msg.Kind = "event"
		msg.Event = &ev
	case wire.CmdListenerAccuracyEvent:
		body, err := wire.DecodeAccuracyEventBody(f.Payload)
		if err != nil {
			return err
		}
		msg.Kind = "accuracy"
		msg.Accuracy = &wsAccuracy{Accuracy: body.Accuracy, TimestampUS: body.TimestampUS}
	default:
		return nil
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case s.outbox <- encoded:
	default:
		obslog.Logger.Warnw("diag: dropping mirrored event, outbox full", "uri", s.uri)
	}
	return nil
}

// handleWSEvents mirrors every registered handler's event traffic to
// one websocket connection (§4.L "GET /ws/events"). The connection is
// subscribed as an ordinary passive listener.Proxy on every handler:
// it receives samples but SetPassive(true) keeps it out of
// arbitration entirely, so it never affects effective interval,
// latency, wakeup, or client_count.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		obslog.Logger.Warnw("diag: websocket upgrade failed", obslog.FieldErr, err)
		return
	}
	defer conn.Close()

	outbox := make(chan []byte, outboxSize)
	proxies := s.mountMirrors(outbox)
	defer func() {
		for _, p := range proxies {
			p.Close()
		}
	}()

	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, outbox, done)
}

// mountMirrors creates one passive listener.Proxy per currently
// registered handler, each delivering into outbox via a wsSender.
func (s *Server) mountMirrors(outbox chan []byte) []*listener.Proxy {
	handlers := s.registrar.All()
	proxies := make([]*listener.Proxy, 0, len(handlers))
	for _, h := range handlers {
		hv, ok := h.(handlerView)
		if !ok {
			continue
		}
		id := nextDiagListenerID.Add(1)
		sender := &wsSender{uri: hv.URI(), outbox: outbox}
		p := listener.New(id, hv.URI(), mirrorTarget{hv}, sender)
		p.SetPassive(true)
		if err := p.Start(); err != nil {
			obslog.Logger.Warnw("diag: failed to mount event mirror", "uri", hv.URI(), obslog.FieldErr, err)
			continue
		}
		proxies = append(proxies, p)
	}
	return proxies
}

// mirrorTarget narrows a handlerView down to listener.Target.
type mirrorTarget struct{ handlerView }

// readPump only exists to service the websocket's control frames
// (pings, pongs, close) and to notice when the peer goes away; this
// surface accepts no client-sent commands, so any data frame it reads
// is discarded.
func readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains outbox to the connection as text frames and keeps
// it alive with periodic pings, until done fires or a write fails.
func writePump(conn *websocket.Conn, outbox chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
