package util

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Ring hash utilities
// Node names and keys are placed on the ring by their MD5 digest, read as an
// unsigned 128-bit big-endian integer.

// HashSize is the width of a ring hash in bytes
const HashSize = md5.Size

// Hash is a position on the 128-bit ring
type Hash [HashSize]byte

// HashString computes the ring position of a key or node name
func HashString(s string) Hash {
	return Hash(md5.Sum([]byte(s)))
}

// Compare returns -1, 0 or +1 depending on whether h is numerically
// less than, equal to, or greater than other
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// Less reports whether h sorts before other
func (h Hash) Less(other Hash) bool {
	return h.Compare(other) < 0
}

// String returns the hash as 32 lower-case hex digits
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a hex hash. Leading zeros may be omitted, as produced by
// big-integer formatting.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if s == "" {
		return h, fmt.Errorf("empty hash")
	}
	if len(s) > 2*HashSize {
		return h, fmt.Errorf("hash %q exceeds %d hex digits", s, 2*HashSize)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	copy(h[HashSize-len(raw):], raw)
	return h, nil
}

// MustParseHash is ParseHash for constants; it panics on malformed input
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}
