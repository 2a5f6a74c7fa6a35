package chat

import (
	"github.com/code3hr/cyxchat-sub001/ids"
)

// FragTimeoutMS is how long a partial fragment set is kept before being
// discarded as abandoned (spec §4.2, edge case "fragment timeout").
const FragTimeoutMS = 30_000

type fragEntry struct {
	total      uint8
	chunks     [][]byte
	haveCount  int
	have       []bool
	lastSeenMS int64
}

// reassemblyKey identifies one in-flight fragmented message. Fragments with
// the same sender+msg_id but a different declared total are rejected as
// malformed rather than merged (spec §4.2 edge case).
type reassemblyKey struct {
	from  ids.NodeId
	msgID ids.MsgId
}

// reassembler tracks in-flight fragmented TEXT messages, keyed by sender and
// msg_id, grounded on the teacher's file_transfer.go chunk-tracking map.
type reassembler struct {
	entries map[reassemblyKey]*fragEntry
}

func newReassembler() *reassembler {
	return &reassembler{entries: make(map[reassemblyKey]*fragEntry)}
}

// add records one fragment and returns the reassembled text once every
// fragment in [0, total) has arrived; ok is false while more are pending.
func (r *reassembler) add(from ids.NodeId, msgID ids.MsgId, fragIdx, total uint8, chunk []byte, nowMS int64) (text []byte, ok bool, err error) {
	if total == 0 || fragIdx >= total {
		return nil, false, errInvalidFragment
	}
	key := reassemblyKey{from: from, msgID: msgID}
	e, exists := r.entries[key]
	if !exists {
		e = &fragEntry{total: total, chunks: make([][]byte, total), have: make([]bool, total)}
		r.entries[key] = e
	} else if e.total != total {
		return nil, false, errInvalidFragment
	}

	e.lastSeenMS = nowMS
	if !e.have[fragIdx] {
		e.have[fragIdx] = true
		e.chunks[fragIdx] = append([]byte(nil), chunk...)
		e.haveCount++
	}

	if e.haveCount < int(e.total) {
		return nil, false, nil
	}

	out := make([]byte, 0, int(e.total)*MaxChunkText)
	for _, c := range e.chunks {
		out = append(out, c...)
	}
	delete(r.entries, key)
	return out, true, nil
}

// expire drops any in-flight reassembly whose last fragment arrived more
// than FragTimeoutMS ago, returning how many were dropped.
func (r *reassembler) expire(nowMS int64) int {
	n := 0
	for k, e := range r.entries {
		if nowMS-e.lastSeenMS > FragTimeoutMS {
			delete(r.entries, k)
			n++
		}
	}
	return n
}

func (r *reassembler) pendingCount() int { return len(r.entries) }
