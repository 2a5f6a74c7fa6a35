// Package wire implements the byte-exact framing shared by the chat, relay
// and dns packages: the compact 10-byte message header, its flags bitfield,
// and the disjoint message-type byte ranges of spec §3/§6.
//
// All integers are little-endian except where a specific format (DNS record
// timestamps/ttls, relay DATA length) calls for big-endian/network order —
// those exceptions live in their owning package, not here.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/code3hr/cyxchat-sub001/ids"
)

// Flags is the header flags bitfield (spec §3).
type Flags uint16

const (
	FlagEncrypted Flags = 1 << iota
	FlagCompressed
	FlagFragmented
	FlagReply
	FlagForward
	FlagEphemeral
)

// Header is the uncompressed, in-memory header; CompactHeaderSize is the on-wire
// compact form that drops version/timestamp/the high flag byte, since the
// receiver can derive or doesn't need them.
type Header struct {
	Version   uint8
	Type      uint8
	Flags     Flags
	MsgID     ids.MsgId
	Timestamp uint64 // unix ms, wall clock — never used for timeout math
}

// CompactHeaderSize is the 10-byte wire form: type(1) | flags(1) | msg_id(8).
const CompactHeaderSize = 1 + 1 + ids.MsgIDSize

var ErrShortBuffer = errors.New("wire: buffer too short")

// EncodeCompact writes the 10-byte compact header. Only the low 8 bits of
// Flags are carried on the wire — FRAGMENTED/ENCRYPTED/REPLY and friends all
// fit in the first byte per spec §3's 6-bit bitfield.
func EncodeCompact(h Header) []byte {
	buf := make([]byte, CompactHeaderSize)
	buf[0] = h.Type
	buf[1] = byte(h.Flags)
	copy(buf[2:], h.MsgID[:])
	return buf
}

// DecodeCompact parses the 10-byte compact header prefix of buf, returning
// the header and the number of bytes consumed.
func DecodeCompact(buf []byte) (Header, int, error) {
	if len(buf) < CompactHeaderSize {
		return Header{}, 0, ErrShortBuffer
	}
	var h Header
	h.Type = buf[0]
	h.Flags = Flags(buf[1])
	copy(h.MsgID[:], buf[2:2+ids.MsgIDSize])
	return h, CompactHeaderSize, nil
}

// PutUint16LE/PutUint32LE/PutUint64LE and their Get counterparts are small
// wrappers kept local to this package so callers never reach for
// encoding/binary directly and risk mixing endianness across frame types.
func PutUint16LE(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func GetUint16LE(b []byte) uint16    { return binary.LittleEndian.Uint16(b) }
func PutUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func GetUint32LE(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
func PutUint64LE(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func GetUint64LE(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }

func PutUint16BE(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func GetUint16BE(b []byte) uint16    { return binary.BigEndian.Uint16(b) }
func PutUint32BE(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func GetUint32BE(b []byte) uint32    { return binary.BigEndian.Uint32(b) }
func PutUint64BE(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func GetUint64BE(b []byte) uint64    { return binary.BigEndian.Uint64(b) }
