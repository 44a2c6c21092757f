package wire

import (
	"net"
	"os"
	"sync/atomic"

	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/senserr"
)

// Listener accepts client connections on sensord's control socket and
// completes the handshake for each, handing back a ready-to-use
// Channel. It owns the socket file and removes it on Close.
type Listener struct {
	ln       *net.UnixListener
	path     string
	nextID   uint64
}

// Listen binds a SOCK_SEQPACKET socket at path, replacing any stale
// socket file left behind by a previous daemon instance.
func Listen(path string) (*Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, senserr.Fatal(errs.Wrap(err, "wire: remove stale socket"))
	}
	addr := &net.UnixAddr{Name: path, Net: "unixpacket"}
	ln, err := net.ListenUnix("unixpacket", addr)
	if err != nil {
		return nil, senserr.Fatal(errs.Wrap(err, "wire: listen on control socket"))
	}
	return &Listener{ln: ln, path: path}, nil
}

// Accept blocks for the next client connection and completes the
// handshake, assigning it a process-lifetime-unique client id.
func (l *Listener) Accept() (*Channel, error) {
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, senserr.Fatal(errs.Wrap(err, "wire: accept"))
	}
	id := atomic.AddUint64(&l.nextID, 1)
	return acceptChannel(conn, id)
}

// Close stops accepting and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}
