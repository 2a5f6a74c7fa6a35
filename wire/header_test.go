package wire

import (
	"testing"

	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/stretchr/testify/require"
)

func TestCompactHeaderRoundTrip(t *testing.T) {
	msgID, err := ids.NewMsgId()
	require.NoError(t, err)

	h := Header{Type: TypeText, Flags: FlagEncrypted | FlagReply, MsgID: msgID}
	buf := EncodeCompact(h)
	require.Len(t, buf, CompactHeaderSize)

	got, n, err := DecodeCompact(buf)
	require.NoError(t, err)
	require.Equal(t, CompactHeaderSize, n)
	require.Equal(t, h.Type, got.Type)
	require.Equal(t, h.MsgID, got.MsgID)
	require.True(t, got.Flags&FlagEncrypted != 0)
	require.True(t, got.Flags&FlagReply != 0)
	require.False(t, got.Flags&FlagFragmented != 0)
}

func TestDecodeCompactShortBuffer(t *testing.T) {
	_, _, err := DecodeCompact([]byte{0x10, 0x01})
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestMessageTypeRanges(t *testing.T) {
	require.True(t, IsDirectMessage(TypeText))
	require.True(t, IsDirectMessage(TypeEdit))
	require.False(t, IsDirectMessage(TypeDNSRegister))

	require.True(t, IsDNSMessage(TypeDNSRegister))
	require.True(t, IsDNSMessage(TypeDNSAnnounce))
	require.False(t, IsDNSMessage(TypeText))
}
