// Package diag implements sensord's optional diagnostics surface
// (§4.L): a loopback-only net/http server, off by default, that gives
// an operator tool a read-only window into the daemon's registry and
// live event traffic. Every handler in this package is strictly
// passive — none of them can start/stop a sensor or change an
// attribute, and the websocket mirror never counts toward a handler's
// client_count.
package diag

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/lavataste/sensord/internal/arbitrate"
	"github.com/lavataste/sensord/internal/fanout"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/registry"
	"github.com/lavataste/sensord/internal/sensortype"
)

// handlerView is the slice of registry.Handler's surface this package
// needs: enough to list a handler's URI/type/arbitrated state and to
// mount a passive listener.Proxy against it. Both sensor.Handler and
// fusion.Handler satisfy it already.
type handlerView interface {
	URI() string
	Type() sensortype.Type
	Arbiter() *arbitrate.Arbiter
	GetFanout() *fanout.Fanout
}

// Server is the diagnostics HTTP server. It is never started unless
// the daemon config explicitly enables it (§4.L), and it only ever
// binds to loopback.
type Server struct {
	registrar *registry.Registry
	httpSrv   *http.Server
}

// New creates a diagnostics Server bound to addr (host:port), serving
// out of registrar. addr must resolve to a loopback address; New does
// not enforce this itself — Serve does, by refusing to listen on
// anything else.
func New(registrar *registry.Registry, addr string) *Server {
	s := &Server{registrar: registrar}
	mux := http.NewServeMux()
	mux.HandleFunc("/sensors", s.handleSensors)
	mux.HandleFunc("/ws/events", s.handleWSEvents)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Serve listens on the server's configured address and blocks until
// ctx is canceled or the listener fails. It refuses to serve on a
// non-loopback address, since this surface carries no auth of its own.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	addr, ok := lis.Addr().(*net.TCPAddr)
	if !ok || !addr.IP.IsLoopback() {
		lis.Close()
		return errNotLoopback
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	obslog.Logger.Infow("diag server listening", "addr", lis.Addr().String())
	err = s.httpSrv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

var errNotLoopback = jsonErr("diag: refusing to bind diagnostics server to a non-loopback address")

type jsonErr string

func (e jsonErr) Error() string { return string(e) }

// sensorSnapshot is one handler's row in the GET /sensors dump.
type sensorSnapshot struct {
	URI                 string `json:"uri"`
	Type                uint32 `json:"type"`
	TypeName            string `json:"type_name"`
	EffectiveIntervalMS int32  `json:"effective_interval_ms"`
	EffectiveLatencyMS  int32  `json:"effective_latency_ms"`
	WakeupOn            bool   `json:"wakeup_on"`
	Started              bool  `json:"started"`
	ClientCount          int   `json:"client_count"`
}

// handleSensors serves a read-only snapshot of every registered
// handler and its current arbitrated state (§4.L "GET /sensors").
// It takes nothing but the registry's read lock and each arbiter's own
// mutex (via State); it never touches a handler's listener table.
func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handlers := s.registrar.All()
	snapshots := make([]sensorSnapshot, 0, len(handlers))
	for _, h := range handlers {
		hv, ok := h.(handlerView)
		if !ok {
			continue
		}
		state := hv.Arbiter().State()
		snapshots = append(snapshots, sensorSnapshot{
			URI:                 hv.URI(),
			Type:                uint32(hv.Type()),
			TypeName:            hv.Type().String(),
			EffectiveIntervalMS: state.EffectiveIntervalMS,
			EffectiveLatencyMS:  state.EffectiveLatencyMS,
			WakeupOn:            state.WakeupOn,
			Started:             state.Started,
			ClientCount:         state.ClientCount,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshots); err != nil {
		obslog.Logger.Warnw("diag: encoding /sensors response failed", obslog.FieldErr, err)
	}
}
