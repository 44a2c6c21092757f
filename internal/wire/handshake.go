package wire

import (
	"encoding/binary"

	"github.com/lavataste/sensord/internal/errs"
)

// ChannelReadyMagic is the literal value a freshly accepted channel
// exchanges before any command traffic, so both ends can detect a
// stray or foreign connection before trusting anything else on it.
const ChannelReadyMagic uint32 = 0xCAFEBEEF

// ChannelReady is the handshake payload: magic followed by the
// server-assigned client id the peer should echo back on every
// subsequent frame's Header.ID.
type ChannelReady struct {
	Magic    uint32
	ClientID uint64
}

const channelReadySize = 4 + 8

func (c ChannelReady) Encode() []byte {
	buf := make([]byte, channelReadySize)
	binary.LittleEndian.PutUint32(buf[0:4], c.Magic)
	binary.LittleEndian.PutUint64(buf[4:12], c.ClientID)
	return buf
}

// DecodeChannelReady parses a handshake payload and rejects anything
// whose magic doesn't match, since that means the peer is not
// speaking this protocol at all.
func DecodeChannelReady(buf []byte) (ChannelReady, error) {
	if len(buf) < channelReadySize {
		return ChannelReady{}, errs.Newf("wire: short channel-ready payload: got %d bytes, want %d", len(buf), channelReadySize)
	}
	c := ChannelReady{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		ClientID: binary.LittleEndian.Uint64(buf[4:12]),
	}
	if c.Magic != ChannelReadyMagic {
		return ChannelReady{}, errs.Newf("wire: bad channel-ready magic 0x%08X, want 0x%08X", c.Magic, ChannelReadyMagic)
	}
	return c, nil
}
