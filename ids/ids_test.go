package ids

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMsgIDHexRoundTrip(t *testing.T) {
	for i := 0; i < 16; i++ {
		m, err := NewMsgId()
		require.NoError(t, err)
		got, err := MsgIDFromHex(MsgIDToHex(m))
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestNodeIDHexRoundTrip(t *testing.T) {
	var n NodeId
	_, err := rand.Read(n[:])
	require.NoError(t, err)

	got, err := NodeIDFromHex(NodeIDToHex(n))
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestNodeIDFromHexRejectsBadLength(t *testing.T) {
	_, err := NodeIDFromHex("abcd")
	require.Error(t, err)
}

func TestQRRoundTrip(t *testing.T) {
	var n NodeId
	_, err := rand.Read(n[:])
	require.NoError(t, err)
	pub := make([]byte, 32)
	_, err = rand.Read(pub)
	require.NoError(t, err)

	link := GenerateQR(n, pub)
	gotNode, gotPub, err := ParseQR(link)
	require.NoError(t, err)
	require.Equal(t, n, gotNode)
	require.Equal(t, pub, gotPub)
}

func TestParseQRRejectsGarbage(t *testing.T) {
	_, _, err := ParseQR("not-a-qr-link")
	require.ErrorIs(t, err, ErrBadQR)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "alice", Normalize("Alice.CYX"))
	require.Equal(t, "alice", Normalize("alice"))
	require.Equal(t, Normalize("Alice.CYX"), Normalize("alice"))
}

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("alice"))
	require.NoError(t, ValidateName("Alice.cyx"))
	require.Error(t, ValidateName("_alice"))
	require.Error(t, ValidateName("al__ice"))
	require.Error(t, ValidateName(""))
}

func TestIsCryptoName(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i)
	}
	name, err := CryptoName(pub)
	require.NoError(t, err)
	require.Len(t, name, 8)
	require.True(t, IsCryptoName(name))
	require.False(t, IsCryptoName("notlong"))
}

func TestCryptoNameNodeIDDeterministic(t *testing.T) {
	a, err := CryptoNameNodeID("k5xq3v7b")
	require.NoError(t, err)
	b, err := CryptoNameNodeID("k5xq3v7b")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestSafetyNumberSymmetric(t *testing.T) {
	var a, b NodeId
	for i := range a {
		a[i] = byte(i)
		b[i] = byte(255 - i)
	}
	require.Equal(t, SafetyNumber(a, b), SafetyNumber(b, a))
	require.Len(t, SafetyNumber(a, b), 29) // six 5-digit groups + 5 spaces
}
