// Package chat implements the wire framing, fragmentation/reassembly, and
// bounded receive queue of spec §4.2, grounded on the teacher's chat.go
// (message framing) and file_transfer.go (chunked reassembly), generalized
// from the teacher's single always-fragmented transfer model to the spec's
// size-aware unfragmented-vs-fragmented TEXT framing plus five other
// lightweight message kinds.
package chat

import (
	"errors"
	"sync"

	golog "github.com/ipfs/go-log/v2"

	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/transport"
	"github.com/code3hr/cyxchat-sub001/wire"
)

var logger = golog.Logger("chat")

var errInvalidFragment = errors.New("invalid fragment")

// EventKind discriminates the sum-type Event the receive queue and the
// typed callbacks both deliver (Design Notes §9's "collapse to one idiom").
type EventKind int

const (
	EventText EventKind = iota
	EventAck
	EventTyping
	EventReaction
	EventDelete
	EventEdit
)

// Event is the single inbound-message representation consumed both by
// RecvNext (the bounded pull queue) and by Callbacks (push delivery). Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind
	From ids.NodeId
	Type uint8
	MsgID ids.MsgId

	// Data is the queue-storage form: for EventText, a 2-byte-LE-length
	// prefix followed by the reassembled text bytes (spec §8 scenario 1);
	// for every other kind, the raw wire payload that followed the header.
	Data []byte

	Text    string
	ReplyTo *ids.MsgId

	AckTarget ids.MsgId
	AckStatus uint8

	IsTyping bool

	ReactionTarget ids.MsgId
	Reaction       string
	ReactionRemove bool

	DeleteTarget ids.MsgId

	EditTarget ids.MsgId
	NewText    string
}

// Callbacks are fired in addition to the Event being pushed onto the
// receive queue (spec §4.2 point 4). Any may be nil.
type Callbacks struct {
	OnText     func(Event)
	OnAck      func(Event)
	OnTyping   func(Event)
	OnReaction func(Event)
	OnDelete   func(Event)
	OnEdit     func(Event)
}

// Config tunes the receive queue and fragment reassembly. A zero Config is
// valid and uses the spec's defaults.
type Config struct {
	RecvQueueSize int
	Overflow      OverflowPolicy
}

// Chat is the wire framing/fragmentation/receive-queue layer of spec §4.2.
// It owns no transport lifecycle; it is driven by the connection package
// feeding it already-decrypted payloads via Deliver, and by a cooperative
// Poll(now_ms) for fragment-timeout housekeeping.
type Chat struct {
	transport transport.OnionTransport
	self      ids.NodeId

	mu    sync.Mutex
	frag  *reassembler
	queue *eventQueue
	cb    Callbacks
}

// New builds a Chat layered on t. t.SetCallback is NOT called here; the
// connection package owns the transport's single callback slot and fans
// direct-message-range payloads into Chat.Deliver itself (spec §4.1's demux).
func New(t transport.OnionTransport, self ids.NodeId, cfg Config, cb Callbacks) *Chat {
	return &Chat{
		transport: t,
		self:      self,
		frag:      newReassembler(),
		queue:     newEventQueue(cfg.RecvQueueSize, cfg.Overflow),
		cb:        cb,
	}
}

// SendText sends text to peer, fragmenting into MaxChunkText-sized chunks
// when it does not fit in one WireMaxPayload frame (spec §4.2 point 2/3).
func (c *Chat) SendText(peer ids.NodeId, text string, replyTo *ids.MsgId) (ids.MsgId, error) {
	msgID, err := ids.NewMsgId()
	if err != nil {
		return msgID, cxerr.New("chat.SendText", cxerr.KindCrypto, err)
	}

	raw := []byte(text)
	if len(raw) <= unfragmentedBudget(replyTo != nil) {
		frame, err := encodeTextUnfragmented(msgID, raw, replyTo)
		if err != nil {
			return msgID, err
		}
		if err := c.transport.SendTo(peer, frame); err != nil {
			return msgID, cxerr.New("chat.SendText", cxerr.KindNetwork, err)
		}
		return msgID, nil
	}

	total := (len(raw) + MaxChunkText - 1) / MaxChunkText
	if total > MaxFragments {
		return msgID, cxerr.New("chat.SendText", cxerr.KindInvalid, nil)
	}
	for i := 0; i < total; i++ {
		start := i * MaxChunkText
		end := start + MaxChunkText
		if end > len(raw) {
			end = len(raw)
		}
		frame := encodeTextFragment(msgID, uint8(i), uint8(total), raw[start:end])
		if err := c.transport.SendTo(peer, frame); err != nil {
			return msgID, cxerr.New("chat.SendText", cxerr.KindNetwork, err)
		}
	}
	return msgID, nil
}

// SendAck sends a delivery/read acknowledgement for target to peer.
func (c *Chat) SendAck(peer ids.NodeId, target ids.MsgId, status uint8) (ids.MsgId, error) {
	msgID, err := ids.NewMsgId()
	if err != nil {
		return msgID, cxerr.New("chat.SendAck", cxerr.KindCrypto, err)
	}
	frame := encodeAck(msgID, target, status)
	if err := c.transport.SendTo(peer, frame); err != nil {
		return msgID, cxerr.New("chat.SendAck", cxerr.KindNetwork, err)
	}
	return msgID, nil
}

// SendTyping sends a typing-indicator toggle to peer.
func (c *Chat) SendTyping(peer ids.NodeId, isTyping bool) (ids.MsgId, error) {
	msgID, err := ids.NewMsgId()
	if err != nil {
		return msgID, cxerr.New("chat.SendTyping", cxerr.KindCrypto, err)
	}
	frame := encodeTyping(msgID, isTyping)
	if err := c.transport.SendTo(peer, frame); err != nil {
		return msgID, cxerr.New("chat.SendTyping", cxerr.KindNetwork, err)
	}
	return msgID, nil
}

// SendReaction adds or removes a reaction on target.
func (c *Chat) SendReaction(peer ids.NodeId, target ids.MsgId, reaction string, remove bool) (ids.MsgId, error) {
	msgID, err := ids.NewMsgId()
	if err != nil {
		return msgID, cxerr.New("chat.SendReaction", cxerr.KindCrypto, err)
	}
	frame, err := encodeReaction(msgID, target, reaction, remove)
	if err != nil {
		return msgID, err
	}
	if err := c.transport.SendTo(peer, frame); err != nil {
		return msgID, cxerr.New("chat.SendReaction", cxerr.KindNetwork, err)
	}
	return msgID, nil
}

// SendDelete requests deletion of target.
func (c *Chat) SendDelete(peer ids.NodeId, target ids.MsgId) (ids.MsgId, error) {
	msgID, err := ids.NewMsgId()
	if err != nil {
		return msgID, cxerr.New("chat.SendDelete", cxerr.KindCrypto, err)
	}
	frame := encodeDelete(msgID, target)
	if err := c.transport.SendTo(peer, frame); err != nil {
		return msgID, cxerr.New("chat.SendDelete", cxerr.KindNetwork, err)
	}
	return msgID, nil
}

// SendEdit replaces the text of target.
func (c *Chat) SendEdit(peer ids.NodeId, target ids.MsgId, newText string) (ids.MsgId, error) {
	msgID, err := ids.NewMsgId()
	if err != nil {
		return msgID, cxerr.New("chat.SendEdit", cxerr.KindCrypto, err)
	}
	frame, err := encodeEdit(msgID, target, newText)
	if err != nil {
		return msgID, err
	}
	if err := c.transport.SendTo(peer, frame); err != nil {
		return msgID, cxerr.New("chat.SendEdit", cxerr.KindNetwork, err)
	}
	return msgID, nil
}

// Deliver is fed one already-decrypted inbound payload by whatever demuxes
// onion-transport deliveries onto this layer (spec §4.1's direct-message
// range 0x10-0x19). It parses the frame, reassembles fragments, and pushes
// the resulting Event to both the receive queue and any registered callback.
func (c *Chat) Deliver(from ids.NodeId, data []byte, nowMS int64) error {
	h, n, err := wire.DecodeCompact(data)
	if err != nil {
		return err
	}
	payload := data[n:]

	switch h.Type {
	case wire.TypeText:
		d, err := decodeTextPayload(h.Flags, payload)
		if err != nil {
			return err
		}
		if !d.fragmented {
			c.emitText(from, h.MsgID, d.text, d.replyTo)
			return nil
		}
		c.mu.Lock()
		text, ok, err := c.frag.add(from, h.MsgID, d.fragIdx, d.total, d.text, nowMS)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if ok {
			c.emitText(from, h.MsgID, text, nil)
		}
		return nil

	case wire.TypeAck:
		target, status, err := decodeAck(payload)
		if err != nil {
			return err
		}
		e := Event{Kind: EventAck, From: from, Type: h.Type, MsgID: h.MsgID, Data: payload, AckTarget: target, AckStatus: status}
		c.push(e, c.cb.OnAck)
		return nil

	case wire.TypeTyping:
		isTyping, err := decodeTyping(payload)
		if err != nil {
			return err
		}
		e := Event{Kind: EventTyping, From: from, Type: h.Type, MsgID: h.MsgID, Data: payload, IsTyping: isTyping}
		c.push(e, c.cb.OnTyping)
		return nil

	case wire.TypeReaction:
		target, reaction, remove, err := decodeReaction(payload)
		if err != nil {
			return err
		}
		e := Event{Kind: EventReaction, From: from, Type: h.Type, MsgID: h.MsgID, Data: payload, ReactionTarget: target, Reaction: reaction, ReactionRemove: remove}
		c.push(e, c.cb.OnReaction)
		return nil

	case wire.TypeDelete:
		target, err := decodeDelete(payload)
		if err != nil {
			return err
		}
		e := Event{Kind: EventDelete, From: from, Type: h.Type, MsgID: h.MsgID, Data: payload, DeleteTarget: target}
		c.push(e, c.cb.OnDelete)
		return nil

	case wire.TypeEdit:
		target, newText, err := decodeEdit(payload)
		if err != nil {
			return err
		}
		e := Event{Kind: EventEdit, From: from, Type: h.Type, MsgID: h.MsgID, Data: payload, EditTarget: target, NewText: newText}
		c.push(e, c.cb.OnEdit)
		return nil

	default:
		return cxerr.New("chat.Deliver", cxerr.KindInvalid, nil)
	}
}

func (c *Chat) emitText(from ids.NodeId, msgID ids.MsgId, text []byte, replyTo *ids.MsgId) {
	e := Event{
		Kind:    EventText,
		From:    from,
		Type:    wire.TypeText,
		MsgID:   msgID,
		Data:    twoByteLenForm(text),
		Text:    string(text),
		ReplyTo: replyTo,
	}
	c.push(e, c.cb.OnText)
}

func (c *Chat) push(e Event, cb func(Event)) {
	c.queue.push(e)
	if cb != nil {
		cb(e)
	}
}

// RecvNext pops the oldest queued Event, or ok=false if the queue is empty.
func (c *Chat) RecvNext() (Event, bool) { return c.queue.pop() }

// QueueLen reports how many Events are currently queued.
func (c *Chat) QueueLen() int { return c.queue.len() }

// DroppedCount reports how many Events the receive queue has discarded due
// to overflow (policy set by Config.Overflow).
func (c *Chat) DroppedCount() uint64 { return c.queue.Dropped() }

// Poll expires abandoned fragment reassemblies older than FragTimeoutMS.
func (c *Chat) Poll(nowMS int64) {
	c.mu.Lock()
	dropped := c.frag.expire(nowMS)
	c.mu.Unlock()
	if dropped > 0 {
		logger.Debugf("expired %d abandoned fragment set(s)", dropped)
	}
}

// PendingFragments reports how many fragmented messages are still awaiting
// remaining chunks.
func (c *Chat) PendingFragments() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frag.pendingCount()
}
