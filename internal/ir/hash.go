package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for an algorithm migration.
const (
	DomainChunk = "replica/chunk/v1"
	DomainKey   = "replica/key/v1"
)

// Hash is the hex SHA-256 address of a chunk.
type Hash string

// EmptyHash means "no chunk" (a root snapshot's basis, an absent head).
const EmptyHash Hash = ""

// hashLen is the length of a hex SHA-256 digest.
const hashLen = 64

// IsEmpty reports whether h is EmptyHash.
func (h Hash) IsEmpty() bool { return h == EmptyHash }

func (h Hash) String() string { return string(h) }

// Short returns an abbreviated form for logs.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// ParseHash validates s as a hex SHA-256 digest.
func ParseHash(s string) (Hash, error) {
	if len(s) != hashLen {
		return EmptyHash, fmt.Errorf("invalid hash %q: want %d hex characters", s, hashLen)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return EmptyHash, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return Hash(s), nil
}

// ChunkHash computes the address of a chunk from its payload and its
// ordered reference list.
//
// Format: SHA256(domain 0x00 data (0x00 ref)*)
// The null separators keep payload/ref boundaries unambiguous; refs are
// fixed-width hex so they cannot collide with each other.
func ChunkHash(data []byte, refs []Hash) Hash {
	h := sha256.New()
	h.Write([]byte(DomainChunk))
	h.Write([]byte{0x00})
	h.Write(data)
	for _, r := range refs {
		h.Write([]byte{0x00})
		h.Write([]byte(r))
	}
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// KeyDigest returns the SHA-256 digest used to place a key in the value
// tree. It is domain-separated from chunk hashes.
func KeyDigest(key string) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(DomainKey))
	h.Write([]byte{0x00})
	h.Write([]byte(key))
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
