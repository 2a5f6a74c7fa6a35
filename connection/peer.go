package connection

import (
	"github.com/google/uuid"

	"github.com/code3hr/cyxchat-sub001/ids"
)

// State is a PeerConn's position in the lifecycle diagram of spec §4.1.
type State int

const (
	Disconnected State = iota
	Discovering
	Connecting
	Relaying
	Connected
)

func (s State) String() string {
	switch s {
	case Discovering:
		return "discovering"
	case Connecting:
		return "connecting"
	case Relaying:
		return "relaying"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// PeerConn is one peer's connection record (spec §3).
type PeerConn struct {
	PeerID           ids.NodeId
	State            State
	ConnectedAt      int64
	LastActivity     int64
	LastKeepalive    int64
	LastAnnounceSent int64
	LastKeyExchange  int64
	BytesSent        uint32
	BytesReceived    uint32
	IsRelayed        bool
}

// CompleteFunc is invoked exactly once per PendingConn, with the final
// state (Connected or Relaying) on success or Disconnected with a non-nil
// error on failure/timeout.
type CompleteFunc func(peer ids.NodeId, state State, err error)

// PendingConn tracks an in-flight connect() until hole-punch succeeds,
// relay fallback succeeds, or the overall attempt times out (spec §3). id
// is an internal correlation token (not carried on the wire) so log lines
// and metrics can track one attempt across its punch/relay/timeout path.
type PendingConn struct {
	id            uuid.UUID
	PeerID        ids.NodeId
	Callback      CompleteFunc
	StartTime     int64
	PunchAttempts int
}

func newPendingConn(peer ids.NodeId, cb CompleteFunc, nowMS int64) *PendingConn {
	return &PendingConn{id: uuid.New(), PeerID: peer, Callback: cb, StartTime: nowMS}
}
