package ids

import (
	"encoding/base32"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// cryptoAlphabet is the 32-symbol base32 alphabet of 8-char crypto-names
// (spec §6).
const cryptoAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

var cryptoEncoding = base32.NewEncoding(cryptoAlphabet).WithPadding(base32.NoPadding)

// CryptoNameSuffix is appended (with a leading dot) to every self-certifying
// name and to registered global names alike; Normalize strips it.
const CryptoNameSuffix = ".cyx"

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

var (
	ErrInvalidName = errors.New("dns: invalid name")
)

// Normalize implements spec §4.4's normalization: strip an optional .cyx
// suffix (case-insensitive) and lowercase the remainder. All cache keys and
// comparisons use this form.
func Normalize(name string) string {
	n := strings.ToLower(name)
	n = strings.TrimSuffix(n, strings.ToLower(CryptoNameSuffix))
	return n
}

// ValidateName checks the ≤63-char, ^[A-Za-z][A-Za-z0-9_]*$ pattern without
// consecutive underscores required of registrable global names. Crypto-names
// (8-char base32) are exempt — IsCryptoName should be checked first.
func ValidateName(name string) error {
	n := Normalize(name)
	if n == "" || len(n) > 63 {
		return ErrInvalidName
	}
	if !namePattern.MatchString(n) {
		return ErrInvalidName
	}
	if strings.Contains(n, "__") {
		return ErrInvalidName
	}
	return nil
}

// IsCryptoName reports whether a normalized name is a syntactically valid
// 8-char base32 crypto-name (no network round trip required to resolve it).
func IsCryptoName(normalized string) bool {
	if len(normalized) != 8 {
		return false
	}
	for _, r := range normalized {
		if !strings.ContainsRune(cryptoAlphabet, r) {
			return false
		}
	}
	return true
}

// CryptoName computes the self-certifying 8-character base32 alias of a
// public key: base32(BLAKE2b(pubkey)[0:5]), per GLOSSARY "Crypto-name".
func CryptoName(pubkey []byte) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write(pubkey)
	sum := h.Sum(nil)
	return cryptoEncoding.EncodeToString(sum[:5]), nil
}

// CryptoNameNodeID derives the deterministic NodeId a crypto-name resolves
// to without any network round trip: BLAKE2b(name)[0:32], as described in
// spec §8 scenario 5.
func CryptoNameNodeID(normalizedName string) (NodeId, error) {
	var n NodeId
	h, err := blake2b.New256(nil)
	if err != nil {
		return n, err
	}
	h.Write([]byte(normalizedName))
	copy(n[:], h.Sum(nil))
	return n, nil
}
