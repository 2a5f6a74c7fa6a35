package chat

import (
	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/wire"
)

// WireMaxPayload is the 1-hop onion datagram budget (spec §4.2).
const WireMaxPayload = 250

// MaxChunkText is the per-fragment text budget, allowing up to 255
// fragments (spec §4.2).
const MaxChunkText = 80

// MaxFragments is the largest total a FRAGMENTED message may declare.
const MaxFragments = 255

// unfragmentedBudget returns how many text bytes fit in a single
// unfragmented TEXT frame, accounting for the optional 8-byte reply_to.
func unfragmentedBudget(withReply bool) int {
	b := WireMaxPayload - wire.CompactHeaderSize - 1 // header + len byte
	if withReply {
		b -= ids.MsgIDSize
	}
	return b
}

// encodeTextUnfragmented serializes header | len:u8 | text[len] | reply_to?:8B.
func encodeTextUnfragmented(msgID ids.MsgId, text []byte, replyTo *ids.MsgId) ([]byte, error) {
	if len(text) > 255 {
		return nil, cxerr.New("chat.encodeTextUnfragmented", cxerr.KindInvalid, nil)
	}
	flags := wire.FlagEncrypted
	if replyTo != nil {
		flags |= wire.FlagReply
	}
	h := wire.Header{Type: wire.TypeText, Flags: flags, MsgID: msgID}
	buf := wire.EncodeCompact(h)
	buf = append(buf, byte(len(text)))
	buf = append(buf, text...)
	if replyTo != nil {
		buf = append(buf, replyTo[:]...)
	}
	return buf, nil
}

// encodeTextFragment serializes header | frag_idx:u8 | total:u8 | len:u8 | text[len].
func encodeTextFragment(msgID ids.MsgId, fragIdx, total uint8, chunk []byte) []byte {
	h := wire.Header{Type: wire.TypeText, Flags: wire.FlagFragmented | wire.FlagEncrypted, MsgID: msgID}
	buf := wire.EncodeCompact(h)
	buf = append(buf, fragIdx, total, byte(len(chunk)))
	buf = append(buf, chunk...)
	return buf
}

// decodedText is the parsed payload of a TEXT frame, fragmented or not.
type decodedText struct {
	fragmented bool
	fragIdx    uint8
	total      uint8
	text       []byte
	replyTo    *ids.MsgId
}

func decodeTextPayload(flags wire.Flags, payload []byte) (decodedText, error) {
	var d decodedText
	if flags&wire.FlagFragmented != 0 {
		if len(payload) < 3 {
			return d, cxerr.New("chat.decodeTextPayload", cxerr.KindInvalid, nil)
		}
		fragIdx, total, n := payload[0], payload[1], int(payload[2])
		if len(payload) < 3+n {
			return d, cxerr.New("chat.decodeTextPayload", cxerr.KindInvalid, nil)
		}
		d.fragmented = true
		d.fragIdx = fragIdx
		d.total = total
		d.text = payload[3 : 3+n]
		return d, nil
	}

	if len(payload) < 1 {
		return d, cxerr.New("chat.decodeTextPayload", cxerr.KindInvalid, nil)
	}
	n := int(payload[0])
	if len(payload) < 1+n {
		return d, cxerr.New("chat.decodeTextPayload", cxerr.KindInvalid, nil)
	}
	d.text = payload[1 : 1+n]
	rest := payload[1+n:]
	if flags&wire.FlagReply != 0 {
		if len(rest) < ids.MsgIDSize {
			return d, cxerr.New("chat.decodeTextPayload", cxerr.KindInvalid, nil)
		}
		var rt ids.MsgId
		copy(rt[:], rest[:ids.MsgIDSize])
		d.replyTo = &rt
	}
	return d, nil
}

// twoByteLenForm renders text in the 2-byte-length-prefixed internal form
// the receive queue stores TEXT payloads in (spec §4.2 point 3, §8 scenario 1).
func twoByteLenForm(text []byte) []byte {
	out := make([]byte, 2+len(text))
	wire.PutUint16LE(out, uint16(len(text)))
	copy(out[2:], text)
	return out
}

func encodeAck(msgID ids.MsgId, ackTarget ids.MsgId, status uint8) []byte {
	h := wire.Header{Type: wire.TypeAck, Flags: wire.FlagEncrypted, MsgID: msgID}
	buf := wire.EncodeCompact(h)
	buf = append(buf, ackTarget[:]...)
	buf = append(buf, status)
	return buf
}

func decodeAck(payload []byte) (target ids.MsgId, status uint8, err error) {
	if len(payload) < ids.MsgIDSize+1 {
		return target, 0, cxerr.New("chat.decodeAck", cxerr.KindInvalid, nil)
	}
	copy(target[:], payload[:ids.MsgIDSize])
	status = payload[ids.MsgIDSize]
	return target, status, nil
}

func encodeTyping(msgID ids.MsgId, isTyping bool) []byte {
	h := wire.Header{Type: wire.TypeTyping, Flags: wire.FlagEncrypted, MsgID: msgID}
	buf := wire.EncodeCompact(h)
	if isTyping {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeTyping(payload []byte) (bool, error) {
	if len(payload) < 1 {
		return false, cxerr.New("chat.decodeTyping", cxerr.KindInvalid, nil)
	}
	return payload[0] != 0, nil
}

func encodeReaction(msgID ids.MsgId, target ids.MsgId, reaction string, remove bool) ([]byte, error) {
	if len(reaction) > 255 {
		return nil, cxerr.New("chat.encodeReaction", cxerr.KindInvalid, nil)
	}
	h := wire.Header{Type: wire.TypeReaction, Flags: wire.FlagEncrypted, MsgID: msgID}
	buf := wire.EncodeCompact(h)
	buf = append(buf, target[:]...)
	buf = append(buf, byte(len(reaction)))
	buf = append(buf, reaction...)
	if remove {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf, nil
}

func decodeReaction(payload []byte) (target ids.MsgId, reaction string, remove bool, err error) {
	if len(payload) < ids.MsgIDSize+1 {
		return target, "", false, cxerr.New("chat.decodeReaction", cxerr.KindInvalid, nil)
	}
	copy(target[:], payload[:ids.MsgIDSize])
	rest := payload[ids.MsgIDSize:]
	n := int(rest[0])
	if len(rest) < 1+n+1 {
		return target, "", false, cxerr.New("chat.decodeReaction", cxerr.KindInvalid, nil)
	}
	reaction = string(rest[1 : 1+n])
	remove = rest[1+n] != 0
	return target, reaction, remove, nil
}

func encodeDelete(msgID ids.MsgId, target ids.MsgId) []byte {
	h := wire.Header{Type: wire.TypeDelete, Flags: wire.FlagEncrypted, MsgID: msgID}
	buf := wire.EncodeCompact(h)
	buf = append(buf, target[:]...)
	return buf
}

func decodeDelete(payload []byte) (ids.MsgId, error) {
	var target ids.MsgId
	if len(payload) < ids.MsgIDSize {
		return target, cxerr.New("chat.decodeDelete", cxerr.KindInvalid, nil)
	}
	copy(target[:], payload[:ids.MsgIDSize])
	return target, nil
}

func encodeEdit(msgID ids.MsgId, target ids.MsgId, newText string) ([]byte, error) {
	if len(newText) > 255 {
		return nil, cxerr.New("chat.encodeEdit", cxerr.KindInvalid, nil)
	}
	h := wire.Header{Type: wire.TypeEdit, Flags: wire.FlagEncrypted, MsgID: msgID}
	buf := wire.EncodeCompact(h)
	buf = append(buf, target[:]...)
	buf = append(buf, byte(len(newText)))
	buf = append(buf, newText...)
	return buf, nil
}

func decodeEdit(payload []byte) (target ids.MsgId, newText string, err error) {
	if len(payload) < ids.MsgIDSize+1 {
		return target, "", cxerr.New("chat.decodeEdit", cxerr.KindInvalid, nil)
	}
	copy(target[:], payload[:ids.MsgIDSize])
	rest := payload[ids.MsgIDSize:]
	n := int(rest[0])
	if len(rest) < 1+n {
		return target, "", cxerr.New("chat.decodeEdit", cxerr.KindInvalid, nil)
	}
	return target, string(rest[1 : 1+n]), nil
}
