// Package wire implements sensord's on-the-wire framing: the fixed
// message header, the command-body codecs, and the SOCK_SEQPACKET
// Channel transport described in §6 of the protocol. Every frame
// crosses the socket as one write(2)/read(2) of a single packet, so
// callers never need their own length-prefix loop.
package wire

import (
	"encoding/binary"

	"github.com/lavataste/sensord/internal/errs"
)

// CommandType tags a frame's body. Values are stable across the wire
// and must never be renumbered once shipped.
type CommandType uint32

const (
	CmdChannelReady CommandType = iota
	CmdSensorList
	CmdListenerConnect
	CmdListenerDisconnect
	CmdListenerStart
	CmdListenerStop
	CmdListenerSetAttrInt
	CmdListenerSetAttrStr
	CmdListenerGetData
	CmdListenerEvent
	CmdListenerAccuracyEvent
	CmdHasPrivilege
	CmdProviderConnect
	CmdProviderDisconnect
	CmdProviderPostEvent
)

// Header is sensord's fixed frame preamble: u64 id | u32 type | u32
// length | i32 err | 3×u64 reserved (§6). The reserved words are
// always zero on the wire today; they exist so a future field can be
// added without bumping CommandType.
type Header struct {
	ID       uint64
	Type     CommandType
	Length   uint32
	Err      int32
	Reserved [3]uint64
}

// HeaderSize is the encoded size of Header. The protocol note's
// "32-byte header" is a rounded figure for the field list; laid out
// with no implicit padding the fields below take 44 bytes, and that is
// the size this codec actually writes and reads.
const HeaderSize = 8 + 4 + 4 + 4 + 3*8

// MaxFrameSize is the largest frame, header included, sensord will
// send or accept (§6).
const MaxFrameSize = 32 * 1024

// ProtocolVersion identifies the wire format this package encodes and
// decodes. A client negotiates compatibility against this number, not
// against the daemon's release version, since the two can move
// independently (a patch release can ship with no wire change).
const ProtocolVersion = 1

func (h Header) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.ID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Type))
	binary.LittleEndian.PutUint32(buf[12:16], h.Length)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.Err))
	for i := 0; i < 3; i++ {
		off := 20 + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], h.Reserved[i])
	}
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errs.Newf("wire: short header: got %d bytes, want %d", len(buf), HeaderSize)
	}
	var h Header
	h.ID = binary.LittleEndian.Uint64(buf[0:8])
	h.Type = CommandType(binary.LittleEndian.Uint32(buf[8:12]))
	h.Length = binary.LittleEndian.Uint32(buf[12:16])
	h.Err = int32(binary.LittleEndian.Uint32(buf[16:20]))
	for i := 0; i < 3; i++ {
		off := 20 + i*8
		h.Reserved[i] = binary.LittleEndian.Uint64(buf[off : off+8])
	}
	return h, nil
}

// Frame is a decoded header paired with its raw payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// Encode serializes f into a single packet ready for Channel.Send.
func (f Frame) Encode() ([]byte, error) {
	total := HeaderSize + len(f.Payload)
	if total > MaxFrameSize {
		return nil, errs.Newf("wire: frame of %d bytes exceeds MaxFrameSize %d", total, MaxFrameSize)
	}
	h := f.Header
	h.Length = uint32(len(f.Payload))
	buf := make([]byte, total)
	h.encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// DecodeFrame is the inverse of Frame.Encode.
func DecodeFrame(buf []byte) (Frame, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return Frame{}, err
	}
	want := HeaderSize + int(h.Length)
	if want > len(buf) {
		return Frame{}, errs.Newf("wire: header declares length %d but packet has only %d body bytes", h.Length, len(buf)-HeaderSize)
	}
	payload := make([]byte, h.Length)
	copy(payload, buf[HeaderSize:want])
	return Frame{Header: h, Payload: payload}, nil
}
