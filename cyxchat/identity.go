package cyxchat

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/code3hr/cyxchat-sub001/ids"
)

// Identity is a node's long-term keypair. NodeId is derived from the
// Ed25519 public key the way ids.NodeIDFromPubkey expects (spec §3:
// "derived from its long-term public key").
type Identity struct {
	Node       ids.NodeId
	SignPub    ed25519.PublicKey
	SignPriv   ed25519.PrivateKey
}

// NewIdentity generates a fresh Ed25519 keypair and derives its NodeId.
func NewIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Identity{}, err
	}
	node, err := ids.NodeIDFromPubkey(pub)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Node: node, SignPub: pub, SignPriv: priv}, nil
}

var identityMagic = []byte("CYXID1")

// identityKDF derives a 32-byte key from passphrase and salt via Argon2id,
// the same parameterization the teacher uses for env.enc (env_encrypt.go).
func identityKDF(pass, salt []byte) []byte {
	return argon2.IDKey(pass, salt, 2, 64*1024, 1, 32)
}

// SaveIdentity seals id.SignPriv passphrase-protected to path, in the
// teacher's env.enc wire layout: MAGIC|salt|nonce|len_be_u32|ciphertext,
// XChaCha20-Poly1305 under an Argon2id-derived key (env_encrypt.go's
// sealEnvSecrets, generalized from env.enc's two raw AEAD keys to an
// Ed25519 private key).
func SaveIdentity(path string, id Identity, passphrase []byte) error {
	plain, err := json.Marshal(struct {
		SignPriv []byte `json:"sign_priv"`
	}{SignPriv: id.SignPriv})
	if err != nil {
		return err
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	key := identityKDF(passphrase, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	ct := aead.Seal(nil, nonce, plain, nil)

	out := make([]byte, 0, len(identityMagic)+16+len(nonce)+4+len(ct))
	out = append(out, identityMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	var lbuf [4]byte
	binary.BigEndian.PutUint32(lbuf[:], uint32(len(plain)))
	out = append(out, lbuf[:]...)
	out = append(out, ct...)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// LoadIdentity reverses SaveIdentity.
func LoadIdentity(path string, passphrase []byte) (Identity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, err
	}
	minLen := len(identityMagic) + 16 + chacha20poly1305.NonceSizeX + 4
	if len(b) < minLen {
		return Identity{}, errors.New("cyxchat: identity file too short")
	}
	if string(b[:len(identityMagic)]) != string(identityMagic) {
		return Identity{}, errors.New("cyxchat: bad identity file magic")
	}
	off := len(identityMagic)
	salt := b[off : off+16]
	off += 16
	nonce := b[off : off+chacha20poly1305.NonceSizeX]
	off += chacha20poly1305.NonceSizeX
	off += 4 // length prefix, skipped and not checked; the ciphertext runs to EOF
	ct := b[off:]

	key := identityKDF(passphrase, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Identity{}, err
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return Identity{}, errors.New("cyxchat: identity decrypt failed (wrong passphrase?)")
	}
	var tmp struct {
		SignPriv []byte `json:"sign_priv"`
	}
	if err := json.Unmarshal(plain, &tmp); err != nil {
		return Identity{}, err
	}
	priv := ed25519.PrivateKey(tmp.SignPriv)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return Identity{}, errors.New("cyxchat: malformed signing key")
	}
	node, err := ids.NodeIDFromPubkey(pub)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Node: node, SignPub: pub, SignPriv: priv}, nil
}

// ExpandIdentityDir resolves a leading "~" in dir to the user's home
// directory, the way the teacher's initStorageEnv resolves ~/.mixnets.
func ExpandIdentityDir(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~") {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~")), nil
}
