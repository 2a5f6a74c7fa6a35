package relay

import (
	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/wire"
)

// Relay control messages occupy their own disjoint byte range, outside the
// 0x10-0xEA ranges wire/types.go defines, so they never collide with a demuxed onion
// payload (spec §3, §4.3).
const (
	TypeConnect     uint8 = 0xF0
	TypeConnectAck  uint8 = 0xF1
	TypeDisconnect  uint8 = 0xF2
	TypeData        uint8 = 0xF3
	TypeKeepalive   uint8 = 0xF4
	TypeError       uint8 = 0xF5
)

// IsRelayMessage reports whether t falls in the relay control range.
func IsRelayMessage(t uint8) bool { return t >= TypeConnect && t <= TypeError }

func encodeConnect(from, to ids.NodeId) []byte {
	buf := make([]byte, 1+ids.NodeIDSize*2)
	buf[0] = TypeConnect
	copy(buf[1:], from[:])
	copy(buf[1+ids.NodeIDSize:], to[:])
	return buf
}

func decodeConnect(payload []byte) (from, to ids.NodeId, err error) {
	if len(payload) < ids.NodeIDSize*2 {
		return from, to, cxerr.New("relay.decodeConnect", cxerr.KindInvalid, nil)
	}
	copy(from[:], payload[:ids.NodeIDSize])
	copy(to[:], payload[ids.NodeIDSize:ids.NodeIDSize*2])
	return from, to, nil
}

func encodeConnectAck(peer ids.NodeId, success bool) []byte {
	buf := make([]byte, 1+ids.NodeIDSize+1)
	buf[0] = TypeConnectAck
	copy(buf[1:], peer[:])
	if success {
		buf[1+ids.NodeIDSize] = 1
	}
	return buf
}

func decodeConnectAck(payload []byte) (peer ids.NodeId, success bool, err error) {
	if len(payload) < ids.NodeIDSize+1 {
		return peer, false, cxerr.New("relay.decodeConnectAck", cxerr.KindInvalid, nil)
	}
	copy(peer[:], payload[:ids.NodeIDSize])
	success = payload[ids.NodeIDSize] != 0
	return peer, success, nil
}

func encodeDisconnect(from, to ids.NodeId) []byte {
	buf := make([]byte, 1+ids.NodeIDSize*2)
	buf[0] = TypeDisconnect
	copy(buf[1:], from[:])
	copy(buf[1+ids.NodeIDSize:], to[:])
	return buf
}

func decodeDisconnect(payload []byte) (from, to ids.NodeId, err error) {
	if len(payload) < ids.NodeIDSize*2 {
		return from, to, cxerr.New("relay.decodeDisconnect", cxerr.KindInvalid, nil)
	}
	copy(from[:], payload[:ids.NodeIDSize])
	copy(to[:], payload[ids.NodeIDSize:ids.NodeIDSize*2])
	return from, to, nil
}

// encodeData serializes type|from:32B|to:32B|len_be:u16|data[len]. len is
// big-endian/network order, the one exception alongside DNS timestamps
// (spec §6).
func encodeData(from, to ids.NodeId, data []byte) ([]byte, error) {
	if len(data) > 0xFFFF {
		return nil, cxerr.New("relay.encodeData", cxerr.KindInvalid, nil)
	}
	buf := make([]byte, 1+ids.NodeIDSize*2+2+len(data))
	buf[0] = TypeData
	copy(buf[1:], from[:])
	copy(buf[1+ids.NodeIDSize:], to[:])
	wire.PutUint16BE(buf[1+ids.NodeIDSize*2:], uint16(len(data)))
	copy(buf[1+ids.NodeIDSize*2+2:], data)
	return buf, nil
}

func decodeData(payload []byte) (from, to ids.NodeId, data []byte, err error) {
	if len(payload) < ids.NodeIDSize*2+2 {
		return from, to, nil, cxerr.New("relay.decodeData", cxerr.KindInvalid, nil)
	}
	copy(from[:], payload[:ids.NodeIDSize])
	copy(to[:], payload[ids.NodeIDSize:ids.NodeIDSize*2])
	n := int(wire.GetUint16BE(payload[ids.NodeIDSize*2:]))
	rest := payload[ids.NodeIDSize*2+2:]
	if len(rest) < n {
		return from, to, nil, cxerr.New("relay.decodeData", cxerr.KindInvalid, nil)
	}
	return from, to, rest[:n], nil
}

func encodeKeepalive(from ids.NodeId) []byte {
	buf := make([]byte, 1+ids.NodeIDSize)
	buf[0] = TypeKeepalive
	copy(buf[1:], from[:])
	return buf
}

func decodeKeepalive(payload []byte) (from ids.NodeId, err error) {
	if len(payload) < ids.NodeIDSize {
		return from, cxerr.New("relay.decodeKeepalive", cxerr.KindInvalid, nil)
	}
	copy(from[:], payload[:ids.NodeIDSize])
	return from, nil
}

func encodeError(msg string) []byte {
	buf := make([]byte, 1+len(msg))
	buf[0] = TypeError
	copy(buf[1:], msg)
	return buf
}
