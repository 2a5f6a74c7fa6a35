package chat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/transport"
)

func twoNodes(t *testing.T) (ids.NodeId, ids.NodeId, *transport.Fake, *transport.Fake) {
	t.Helper()
	net := transport.NewNetwork()
	var a, b ids.NodeId
	a[0] = 1
	b[0] = 2
	ta := transport.NewFake(net, a, [32]byte{})
	tb := transport.NewFake(net, b, [32]byte{})
	return a, b, ta, tb
}

func TestSendTextShortUnfragmented(t *testing.T) {
	a, b, ta, tb := twoNodes(t)

	var got []Event
	cb := Callbacks{OnText: func(e Event) { got = append(got, e) }}
	chatB := New(tb, b, Config{}, cb)
	tb.SetCallback(func(from ids.NodeId, data []byte) {
		require.NoError(t, chatB.Deliver(from, data, 0))
	})

	chatA := New(ta, a, Config{}, Callbacks{})
	_, err := chatA.SendText(b, "hi", nil)
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.Equal(t, "hi", got[0].Text)
	require.Equal(t, []byte{0x02, 0x00, 'h', 'i'}, got[0].Data)
	require.Nil(t, got[0].ReplyTo)

	e, ok := chatB.RecvNext()
	require.True(t, ok)
	require.Equal(t, "hi", e.Text)
	_, ok = chatB.RecvNext()
	require.False(t, ok)
}

func TestSendTextWithReply(t *testing.T) {
	a, b, ta, tb := twoNodes(t)
	chatB := New(tb, b, Config{}, Callbacks{})
	tb.SetCallback(func(from ids.NodeId, data []byte) {
		require.NoError(t, chatB.Deliver(from, data, 0))
	})
	chatA := New(ta, a, Config{}, Callbacks{})

	replyTo, err := ids.NewMsgId()
	require.NoError(t, err)
	_, err = chatA.SendText(b, "ok", &replyTo)
	require.NoError(t, err)

	e, ok := chatB.RecvNext()
	require.True(t, ok)
	require.NotNil(t, e.ReplyTo)
	require.Equal(t, replyTo, *e.ReplyTo)
}

func TestSendTextFragmentsLongMessage(t *testing.T) {
	a, b, ta, tb := twoNodes(t)
	chatB := New(tb, b, Config{}, Callbacks{})
	tb.SetCallback(func(from ids.NodeId, data []byte) {
		require.NoError(t, chatB.Deliver(from, data, 0))
	})
	chatA := New(ta, a, Config{}, Callbacks{})

	long := make([]byte, 500)
	for i := range long {
		long[i] = byte('a' + i%26)
	}
	_, err := chatA.SendText(b, string(long), nil)
	require.NoError(t, err)

	e, ok := chatB.RecvNext()
	require.True(t, ok)
	require.Equal(t, string(long), e.Text)
	require.Equal(t, 0, chatB.PendingFragments())
}

func TestFragmentTimeoutExpires(t *testing.T) {
	a, b, ta, tb := twoNodes(t)
	chatB := New(tb, b, Config{}, Callbacks{})

	// Deliver only one of two fragments directly (bypassing transport) so it
	// never completes.
	msgID, err := ids.NewMsgId()
	require.NoError(t, err)
	frame := encodeTextFragment(msgID, 0, 2, []byte("partial"))
	require.NoError(t, chatB.Deliver(a, frame, 0))
	require.Equal(t, 1, chatB.PendingFragments())

	chatB.Poll(FragTimeoutMS + 1)
	require.Equal(t, 0, chatB.PendingFragments())

	_ = ta // silence unused in this test path
}

func TestAckTypingReactionDeleteEdit(t *testing.T) {
	a, b, ta, tb := twoNodes(t)
	var acks, typings, reactions, deletes, edits []Event
	cb := Callbacks{
		OnAck:      func(e Event) { acks = append(acks, e) },
		OnTyping:   func(e Event) { typings = append(typings, e) },
		OnReaction: func(e Event) { reactions = append(reactions, e) },
		OnDelete:   func(e Event) { deletes = append(deletes, e) },
		OnEdit:     func(e Event) { edits = append(edits, e) },
	}
	chatB := New(tb, b, Config{}, cb)
	tb.SetCallback(func(from ids.NodeId, data []byte) {
		require.NoError(t, chatB.Deliver(from, data, 0))
	})
	chatA := New(ta, a, Config{}, Callbacks{})

	target, err := ids.NewMsgId()
	require.NoError(t, err)

	_, err = chatA.SendAck(b, target, 1)
	require.NoError(t, err)
	_, err = chatA.SendTyping(b, true)
	require.NoError(t, err)
	_, err = chatA.SendReaction(b, target, "👍", false)
	require.NoError(t, err)
	_, err = chatA.SendDelete(b, target)
	require.NoError(t, err)
	_, err = chatA.SendEdit(b, target, "edited")
	require.NoError(t, err)

	require.Len(t, acks, 1)
	require.Equal(t, target, acks[0].AckTarget)
	require.EqualValues(t, 1, acks[0].AckStatus)

	require.Len(t, typings, 1)
	require.True(t, typings[0].IsTyping)

	require.Len(t, reactions, 1)
	require.Equal(t, "👍", reactions[0].Reaction)
	require.False(t, reactions[0].ReactionRemove)

	require.Len(t, deletes, 1)
	require.Equal(t, target, deletes[0].DeleteTarget)

	require.Len(t, edits, 1)
	require.Equal(t, "edited", edits[0].NewText)
}

func TestReceiveQueueDropOldestOnOverflow(t *testing.T) {
	_, b, _, tb := twoNodes(t)
	chatB := New(tb, b, Config{RecvQueueSize: 2, Overflow: DropOldest}, Callbacks{})

	for i := 0; i < 3; i++ {
		msgID, err := ids.NewMsgId()
		require.NoError(t, err)
		frame, err := encodeTextUnfragmented(msgID, []byte{byte('a' + i)}, nil)
		require.NoError(t, err)
		require.NoError(t, chatB.Deliver(b, frame, 0))
	}

	require.Equal(t, 2, chatB.QueueLen())
	require.EqualValues(t, 1, chatB.DroppedCount())

	e1, ok := chatB.RecvNext()
	require.True(t, ok)
	require.Equal(t, "b", e1.Text)
	e2, ok := chatB.RecvNext()
	require.True(t, ok)
	require.Equal(t, "c", e2.Text)
}

func TestReceiveQueueDropNewestOnOverflow(t *testing.T) {
	_, b, _, tb := twoNodes(t)
	chatB := New(tb, b, Config{RecvQueueSize: 1, Overflow: DropNewest}, Callbacks{})

	for i := 0; i < 2; i++ {
		msgID, err := ids.NewMsgId()
		require.NoError(t, err)
		frame, err := encodeTextUnfragmented(msgID, []byte{byte('a' + i)}, nil)
		require.NoError(t, err)
		require.NoError(t, chatB.Deliver(b, frame, 0))
	}

	require.Equal(t, 1, chatB.QueueLen())
	e, ok := chatB.RecvNext()
	require.True(t, ok)
	require.Equal(t, "a", e.Text)
}

func TestMismatchedFragmentTotalRejected(t *testing.T) {
	_, b, _, tb := twoNodes(t)
	chatB := New(tb, b, Config{}, Callbacks{})

	msgID, err := ids.NewMsgId()
	require.NoError(t, err)
	f1 := encodeTextFragment(msgID, 0, 3, []byte("a"))
	f2 := encodeTextFragment(msgID, 1, 5, []byte("b"))
	require.NoError(t, chatB.Deliver(b, f1, 0))
	require.Error(t, chatB.Deliver(b, f2, 0))
}
