package wire

import (
	"net"

	"github.com/google/uuid"
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/senserr"
)

// State is a Channel's handshake/lifecycle state: created while the
// socket is being dialed/accepted, connected once ChannelReady has
// been exchanged, transfer once the channel is paired with its
// counterpart and actually carrying command or event traffic, closed
// once either side tears it down (§4.A).
type State int

const (
	StateCreated State = iota
	StateConnected
	StateTransfer
	StateClosed
)

// Channel is one client connection's SOCK_SEQPACKET socket (§6's
// "Transport"). Every Send/Recv moves exactly one packet; there is no
// internal buffering or length-prefix loop because unixpacket already
// preserves message boundaries.
type Channel struct {
	conn     *net.UnixConn
	clientID uint64

	// correlationID tags this channel in logs and diagnostics only; it
	// never appears on the wire.
	correlationID uuid.UUID

	mu    deadlock.Mutex
	state State
}

// DialChannel opens a client-side channel to a sensord control socket
// at path and performs the handshake, returning once ChannelReady has
// been received and the assigned client id captured.
func DialChannel(path string) (*Channel, error) {
	addr := &net.UnixAddr{Name: path, Net: "unixpacket"}
	conn, err := net.DialUnix("unixpacket", nil, addr)
	if err != nil {
		return nil, senserr.Recoverable(senserr.EIO, errs.Wrap(err, "wire: dial control socket"))
	}
	ch := &Channel{conn: conn, state: StateCreated, correlationID: uuid.New()}
	if err := ch.clientHandshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return ch, nil
}

func (c *Channel) clientHandshake() error {
	buf := make([]byte, MaxFrameSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return senserr.Fatal(errs.Wrap(err, "wire: read channel-ready"))
	}
	ready, err := DecodeChannelReady(buf[:n])
	if err != nil {
		return senserr.Fatal(err)
	}
	c.mu.Lock()
	c.clientID = ready.ClientID
	c.state = StateConnected
	c.mu.Unlock()
	return nil
}

// acceptChannel completes the server side of the handshake on an
// already-accepted unixpacket connection, assigning it clientID.
func acceptChannel(conn *net.UnixConn, clientID uint64) (*Channel, error) {
	ready := ChannelReady{Magic: ChannelReadyMagic, ClientID: clientID}
	if _, err := conn.Write(ready.Encode()); err != nil {
		return nil, senserr.Fatal(errs.Wrap(err, "wire: write channel-ready"))
	}
	return &Channel{conn: conn, clientID: clientID, state: StateConnected, correlationID: uuid.New()}, nil
}

// ClientID is the id this channel's peer must echo on every frame.
func (c *Channel) ClientID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// CorrelationID is a log/diagnostics-only identifier for this channel;
// it is never sent on the wire.
func (c *Channel) CorrelationID() uuid.UUID {
	return c.correlationID
}

// Send writes one frame as a single packet.
func (c *Channel) Send(f Frame) error {
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		return senserr.Fatal(errs.Wrap(err, "wire: write frame"))
	}
	return nil
}

// Recv blocks for the next frame. A zero-length read signals the peer
// closed the connection; callers should treat that the same as a
// fatal error and tear the channel down.
func (c *Channel) Recv() (Frame, error) {
	buf := make([]byte, MaxFrameSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return Frame{}, senserr.Fatal(errs.Wrap(err, "wire: read frame"))
	}
	if n == 0 {
		return Frame{}, senserr.Fatal(errs.New("wire: peer closed channel"))
	}
	return DecodeFrame(buf[:n])
}

// MarkTransfer transitions the channel from connected to transfer,
// the caller's signal that pairing (the command/event channel hand-off
// in §6) is complete and the channel is now live for command or event
// traffic. A no-op once the channel has already moved past connected.
func (c *Channel) MarkTransfer() {
	c.mu.Lock()
	if c.state == StateConnected {
		c.state = StateTransfer
	}
	c.mu.Unlock()
}

// Close marks the channel closed and releases the socket. Close is
// idempotent; a second call is a no-op.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()
	return c.conn.Close()
}

// State reports the channel's current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
