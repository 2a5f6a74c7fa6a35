package cyxchat

import (
	"context"
	"crypto/rand"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/code3hr/cyxchat-sub001/chat"
	"github.com/code3hr/cyxchat-sub001/connection"
	"github.com/code3hr/cyxchat-sub001/dns"
	"github.com/code3hr/cyxchat-sub001/transport"
)

// Library is the facade spec Design Notes §9 describes: one object wiring
// transport, connection, chat, relay and dns together, grounded on the
// teacher's main.go (which constructs and owns every subsystem inline
// rather than exposing a reusable type — Library generalizes that into
// something cmd/cyxnoded and other embedders can both construct).
type Library struct {
	cfg   Config
	ident Identity

	t    *transport.Libp2p
	conn *connection.Connection
}

// Open constructs a Library: a libp2p-backed OnionTransport (also used as
// the RawTransport relay traffic rides on) and a Connection wired to it
// with the given identity and config.
func Open(ctx context.Context, cfg Config, ident Identity) (*Library, error) {
	libKey, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}

	listenAddrs := []string{"/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/udp/0/quic-v1"}
	var x25519Pub [32]byte
	copy(x25519Pub[:], ident.SignPub) // placeholder advertised pubkey until AddPeerKey/ANNOUNCE exchange one

	t, err := transport.NewLibp2p(libKey, x25519Pub, listenAddrs)
	if err != nil {
		return nil, err
	}

	if cfg.BootstrapAddr != "" {
		// DHT bootstrap is best-effort; mDNS discovery still runs regardless.
		_ = t.EnableDHT(ctx)
	}

	conn, err := connection.New(t, t, ident.Node, ident.SignPriv, toSignPubArray(ident.SignPub), cfg.connectionConfig(), cfg.chatConfig(), chat.Callbacks{})
	if err != nil {
		_ = t.Close()
		return nil, err
	}

	return &Library{cfg: cfg, ident: ident, t: t, conn: conn}, nil
}

func toSignPubArray(pub []byte) [32]byte {
	var out [32]byte
	copy(out[:], pub)
	return out
}

// Connection returns the underlying connection manager.
func (l *Library) Connection() *connection.Connection { return l.conn }

// Chat returns the chat messaging layer.
func (l *Library) Chat() *chat.Chat { return l.conn.Chat() }

// Dns returns the naming service.
func (l *Library) Dns() *dns.Dns { return l.conn.Dns() }

// Transport returns the concrete libp2p transport, for callers that want
// host addresses or raw status (e.g. cmd/cyxnoded's status endpoint).
func (l *Library) Transport() *transport.Libp2p { return l.t }

// Poll drives every subsystem's cooperative scheduling for one tick,
// mirroring the teacher's main.go event loop.
func (l *Library) Poll(nowMS int64) {
	l.conn.Poll(nowMS)
}

// Close tears the transport down.
func (l *Library) Close() error {
	return l.t.Close()
}
