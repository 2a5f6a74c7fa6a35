package connection

import (
	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/wire"
)

// ANNOUNCE shares the DNS byte range's last slot (wire.TypeDNSAnnounce)
// despite belonging to Connection's key exchange, matching spec §3's literal
// message-type table ("0xD0-0xD6 DNS (register, register-ack, lookup,
// response, update, update-ack, announce)") — the teacher-lineage wire
// layout groups it there rather than carving out a dedicated byte.
//
// Payload: node_id:32B | onion_pubkey:32B.
func encodeAnnounce(node ids.NodeId, onionPubkey [32]byte) []byte {
	buf := make([]byte, 1+ids.NodeIDSize+32)
	buf[0] = wire.TypeDNSAnnounce
	copy(buf[1:], node[:])
	copy(buf[1+ids.NodeIDSize:], onionPubkey[:])
	return buf
}

func decodeAnnounce(payload []byte) (node ids.NodeId, onionPubkey [32]byte, err error) {
	if len(payload) < 1+ids.NodeIDSize+32 {
		return node, onionPubkey, cxerr.New("connection.decodeAnnounce", cxerr.KindInvalid, nil)
	}
	payload = payload[1:]
	copy(node[:], payload[:ids.NodeIDSize])
	copy(onionPubkey[:], payload[ids.NodeIDSize:ids.NodeIDSize+32])
	return node, onionPubkey, nil
}
