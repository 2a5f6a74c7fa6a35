package dns

import (
	"crypto/ed25519"

	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/wire"
)

// recordFieldsSize is node_id(32) + pubkey_sign(32) + pubkey_x25519(32) +
// sig(64) + ts_be(8) + ttl_be(4) + stun_hint_len(1) + stun_hint(24, fixed,
// sealed ciphertext right-padded with zeros). The X25519 key is a SPEC_FULL
// extension over spec.md's wire table (Open Question decision 1: carry both
// keys rather than replicate the sign/ECDH key mismatch). stun_hint travels
// on the wire as the sealed blob sealStunHint produced — a receiving peer
// that knows the owner's NodeId can call OpenStunHint directly on the
// decoded Record; it is never re-sealed or re-derived in transit.
const recordFieldsSize = ids.NodeIDSize + ed25519.PublicKeySize + 32 + ed25519.SignatureSize + 8 + 4 + 1 + MaxStunHintLen

func putRecordFields(buf []byte, r Record) {
	off := 0
	copy(buf[off:], r.NodeID[:])
	off += ids.NodeIDSize
	copy(buf[off:], r.PubKeySign[:])
	off += ed25519.PublicKeySize
	copy(buf[off:], r.PubKeyX25519[:])
	off += 32
	copy(buf[off:], r.Signature[:])
	off += ed25519.SignatureSize
	wire.PutUint64BE(buf[off:], r.TimestampMS)
	off += 8
	wire.PutUint32BE(buf[off:], r.TTLSeconds)
	off += 4
	buf[off] = byte(len(r.StunHint))
	off++
	copy(buf[off:off+MaxStunHintLen], r.StunHint)
}

func getRecordFields(buf []byte, name string) (Record, error) {
	if len(buf) < recordFieldsSize {
		return Record{}, cxerr.New("dns.getRecordFields", cxerr.KindInvalid, nil)
	}
	var r Record
	r.Name = name
	off := 0
	copy(r.NodeID[:], buf[off:off+ids.NodeIDSize])
	off += ids.NodeIDSize
	copy(r.PubKeySign[:], buf[off:off+ed25519.PublicKeySize])
	off += ed25519.PublicKeySize
	copy(r.PubKeyX25519[:], buf[off:off+32])
	off += 32
	copy(r.Signature[:], buf[off:off+ed25519.SignatureSize])
	off += ed25519.SignatureSize
	r.TimestampMS = wire.GetUint64BE(buf[off:])
	off += 8
	r.TTLSeconds = wire.GetUint32BE(buf[off:])
	off += 4
	hintLen := int(buf[off])
	off++
	if hintLen > MaxStunHintLen {
		return Record{}, cxerr.New("dns.getRecordFields", cxerr.KindInvalid, nil)
	}
	if hintLen > 0 {
		r.StunHint = append([]byte(nil), buf[off:off+hintLen]...)
	}
	return r, nil
}

func fixedName(name string) [MaxNameLen]byte {
	var out [MaxNameLen]byte
	copy(out[:], name)
	return out
}

func encodeRegisterLike(msgType uint8, hops uint8, r Record) ([]byte, error) {
	if len(r.Name) > MaxNameLen {
		return nil, cxerr.New("dns.encodeRegisterLike", cxerr.KindInvalid, nil)
	}
	buf := make([]byte, 1+1+1+MaxNameLen+recordFieldsSize)
	buf[0] = msgType
	buf[1] = hops
	buf[2] = byte(len(r.Name))
	name := fixedName(r.Name)
	copy(buf[3:3+MaxNameLen], name[:])
	putRecordFields(buf[3+MaxNameLen:], r)
	return buf, nil
}

func decodeRegisterLike(payload []byte) (hops uint8, r Record, err error) {
	if len(payload) < 1+1+MaxNameLen+recordFieldsSize {
		return 0, Record{}, cxerr.New("dns.decodeRegisterLike", cxerr.KindInvalid, nil)
	}
	hops = payload[0]
	nameLen := int(payload[1])
	if nameLen > MaxNameLen {
		return 0, Record{}, cxerr.New("dns.decodeRegisterLike", cxerr.KindInvalid, nil)
	}
	name := string(payload[2 : 2+nameLen])
	r, err = getRecordFields(payload[2+MaxNameLen:], name)
	return hops, r, err
}

// EncodeRegister serializes a REGISTER gossip frame.
func EncodeRegister(hops uint8, r Record) ([]byte, error) {
	frame, err := encodeRegisterLike(wire.TypeDNSRegister, hops, r)
	return frame, err
}

// DecodeRegister parses a whole REGISTER frame, type byte included, and
// skips that leading type byte itself (DNS frames use their own 1-byte type
// prefix rather than the compact header, matching spec §4.4's literal
// layout).
func DecodeRegister(payload []byte) (hops uint8, r Record, err error) {
	return decodeRegisterLike(payload[1:])
}

func EncodeUpdate(hops uint8, r Record) ([]byte, error) {
	return encodeRegisterLike(wire.TypeDNSUpdate, hops, r)
}

func DecodeUpdate(payload []byte) (hops uint8, r Record, err error) {
	return decodeRegisterLike(payload[1:])
}

func encodeAckLike(msgType uint8, name string, success bool) []byte {
	buf := make([]byte, 1+1+MaxNameLen+1)
	buf[0] = msgType
	buf[1] = byte(len(name))
	fn := fixedName(name)
	copy(buf[2:2+MaxNameLen], fn[:])
	if success {
		buf[2+MaxNameLen] = 1
	}
	return buf
}

func decodeAckLike(payload []byte) (name string, success bool, err error) {
	if len(payload) < 1+MaxNameLen+1 {
		return "", false, cxerr.New("dns.decodeAckLike", cxerr.KindInvalid, nil)
	}
	nameLen := int(payload[0])
	if nameLen > MaxNameLen {
		return "", false, cxerr.New("dns.decodeAckLike", cxerr.KindInvalid, nil)
	}
	name = string(payload[1 : 1+nameLen])
	success = payload[1+MaxNameLen] != 0
	return name, success, nil
}

func EncodeRegisterAck(name string, success bool) []byte {
	return encodeAckLike(wire.TypeDNSRegisterAck, name, success)
}

func DecodeRegisterAck(payload []byte) (name string, success bool, err error) {
	return decodeAckLike(payload[1:])
}

func EncodeUpdateAck(name string, success bool) []byte {
	return encodeAckLike(wire.TypeDNSUpdateAck, name, success)
}

func DecodeUpdateAck(payload []byte) (name string, success bool, err error) {
	return decodeAckLike(payload[1:])
}

// EncodeLookup serializes a LOOKUP{query_id, name} broadcast.
func EncodeLookup(queryID uint8, name string) ([]byte, error) {
	if len(name) > MaxNameLen {
		return nil, cxerr.New("dns.EncodeLookup", cxerr.KindInvalid, nil)
	}
	buf := make([]byte, 1+1+1+len(name))
	buf[0] = wire.TypeDNSLookup
	buf[1] = queryID
	buf[2] = byte(len(name))
	copy(buf[3:], name)
	return buf, nil
}

func DecodeLookup(payload []byte) (queryID uint8, name string, err error) {
	payload = payload[1:]
	if len(payload) < 2 {
		return 0, "", cxerr.New("dns.DecodeLookup", cxerr.KindInvalid, nil)
	}
	queryID = payload[0]
	n := int(payload[1])
	if len(payload) < 2+n {
		return 0, "", cxerr.New("dns.DecodeLookup", cxerr.KindInvalid, nil)
	}
	name = string(payload[2 : 2+n])
	return queryID, name, nil
}

// EncodeResponse serializes a RESPONSE to a LOOKUP; found=false omits the
// record fields entirely.
func EncodeResponse(queryID uint8, found bool, r Record) ([]byte, error) {
	if !found {
		return []byte{wire.TypeDNSResponse, queryID, 0}, nil
	}
	if len(r.Name) > MaxNameLen {
		return nil, cxerr.New("dns.EncodeResponse", cxerr.KindInvalid, nil)
	}
	buf := make([]byte, 1+1+1+1+MaxNameLen+recordFieldsSize)
	buf[0] = wire.TypeDNSResponse
	buf[1] = queryID
	buf[2] = 1
	buf[3] = byte(len(r.Name))
	name := fixedName(r.Name)
	copy(buf[4:4+MaxNameLen], name[:])
	putRecordFields(buf[4+MaxNameLen:], r)
	return buf, nil
}

func DecodeResponse(payload []byte) (queryID uint8, found bool, r Record, err error) {
	payload = payload[1:]
	if len(payload) < 2 {
		return 0, false, Record{}, cxerr.New("dns.DecodeResponse", cxerr.KindInvalid, nil)
	}
	queryID = payload[0]
	found = payload[1] != 0
	if !found {
		return queryID, false, Record{}, nil
	}
	if len(payload) < 3+MaxNameLen+recordFieldsSize {
		return 0, false, Record{}, cxerr.New("dns.DecodeResponse", cxerr.KindInvalid, nil)
	}
	nameLen := int(payload[2])
	if nameLen > MaxNameLen {
		return 0, false, Record{}, cxerr.New("dns.DecodeResponse", cxerr.KindInvalid, nil)
	}
	name := string(payload[3 : 3+nameLen])
	r, err = getRecordFields(payload[3+MaxNameLen:], name)
	return queryID, found, r, err
}
