package ids

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

// SafetyNumber derives a human-verifiable fingerprint from two NodeIds: the
// sorted concatenation of both ids, SHA-256'd, formatted as six 5-digit
// decimal groups (GLOSSARY: "Safety number").
func SafetyNumber(a, b NodeId) string {
	lo, hi := a, b
	if bytes.Compare(a[:], b[:]) > 0 {
		lo, hi = b, a
	}
	var buf bytes.Buffer
	buf.Write(lo[:])
	buf.Write(hi[:])
	sum := sha256.Sum256(buf.Bytes())

	// Walk the digest 5 bytes at a time, reducing each window to a 5-digit
	// group (mod 100000) so the whole fingerprint is 30 decimal digits.
	groups := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		window := sum[i*5 : i*5+5]
		var v uint64
		for _, bt := range window {
			v = v<<8 | uint64(bt)
		}
		groups = append(groups, fmt.Sprintf("%05d", v%100000))
	}
	out := groups[0]
	for _, g := range groups[1:] {
		out += " " + g
	}
	return out
}
