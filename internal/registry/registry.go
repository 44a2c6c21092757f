// Package registry is sensord's handler registry (§4.C): the
// URI-keyed map from SensorURI to the SensorHandler that owns it,
// consulted on every control-channel request that names a sensor.
// Modeled on the teacher's pulse/async.HandlerRegistry, re-keyed by
// SensorURI instead of job-handler name.
package registry

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/sensortype"
)

// Handler is anything the registry can dispatch requests to: a
// physical sensor handler (§4.E) or a fusion handler (§4.F). The
// registry only needs enough surface to list and route; the handler's
// own lock guards its arbitration state (§5's lock order is
// registry → handler → proxy, never reversed).
type Handler interface {
	URI() string
	Type() sensortype.Type
}

// Registry is the read-mostly URI → Handler map every control-channel
// request consults. Reads vastly outnumber writes (handlers register
// at startup and rarely again), hence the RWMutex.
type Registry struct {
	mu       deadlock.RWMutex
	handlers map[string]Handler
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// ErrAlreadyRegistered is returned by Register when uri is already
// taken by a different handler.
var ErrAlreadyRegistered = errs.New("registry: handler already registered for this URI")

// Register adds h under its own URI. Unlike the teacher's
// HandlerRegistry.Register, this returns an error instead of
// panicking: a duplicate URI here is a plugin-manifest misconfiguration
// a running daemon should log and refuse, not crash over (§7).
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.URI()]; exists {
		return errs.WithDetail(ErrAlreadyRegistered, "uri: "+h.URI())
	}
	r.handlers[h.URI()] = h
	return nil
}

// Unregister removes the handler at uri, if any.
func (r *Registry) Unregister(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, uri)
}

// Get returns the handler registered at uri, or nil if none.
func (r *Registry) Get(uri string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[uri]
}

// Has reports whether uri has a registered handler.
func (r *Registry) Has(uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[uri]
	return exists
}

// URIs returns every registered URI, order unspecified.
func (r *Registry) URIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uris := make([]string, 0, len(r.handlers))
	for uri := range r.handlers {
		uris = append(uris, uri)
	}
	return uris
}

// ByType returns every registered handler whose Type matches t, order
// unspecified. Used by CmdSensorList to answer "list all
// accelerometers" style enumeration.
func (r *Registry) ByType(t sensortype.Type) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Handler
	for _, h := range r.handlers {
		if h.Type() == t {
			out = append(out, h)
		}
	}
	return out
}

// All returns every registered handler, order unspecified.
func (r *Registry) All() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}
