package connection

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/code3hr/cyxchat-sub001/ids"
)

// announceThrottle debounces repeated ANNOUNCE/key-exchange traffic per
// peer (spec Design Notes §9 "Throttling state": preserve
// last_announce_sent/last_key_exchange debouncing). Implemented with
// golang.org/x/time/rate instead of a raw timestamp compare, one limiter
// per peer, driven by the caller-supplied poll time rather than wall clock
// so it stays compatible with the cooperative single-threaded model (spec
// §5).
type announceThrottle struct {
	mu       sync.Mutex
	limiters map[ids.NodeId]*rate.Limiter
	interval time.Duration
}

func newAnnounceThrottle(intervalMS int64) *announceThrottle {
	return &announceThrottle{
		limiters: make(map[ids.NodeId]*rate.Limiter),
		interval: time.Duration(intervalMS) * time.Millisecond,
	}
}

// Allow reports whether an announce to peer may be sent at nowMS, recording
// the attempt if so.
func (a *announceThrottle) Allow(peer ids.NodeId, nowMS int64) bool {
	a.mu.Lock()
	l, ok := a.limiters[peer]
	if !ok {
		l = rate.NewLimiter(rate.Every(a.interval), 1)
		a.limiters[peer] = l
	}
	a.mu.Unlock()
	return l.AllowN(time.UnixMilli(nowMS), 1)
}
