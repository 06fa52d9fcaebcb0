// Package dag implements the block DAG: the append-only store indexed by
// hash and by timeslot, its signed-block and systemic-transaction types,
// and the longest-chain/branch-intersection queries the epoch module and
// node loop need.
package dag

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/dagchain/consensus/wire"
)

// Hash is a SHA-256 digest, the content-addressed identity of every block
// and every systemic transaction.
type Hash [wire.HashSize]byte

// ZeroHash is the canonical genesis parent placeholder.
var ZeroHash Hash

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Less orders hashes lexicographically, used to break longest-chain ties.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// HashFromBytes parses a 32-byte hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != wire.HashSize {
		return h, fmt.Errorf("dag: hash must be %d bytes, got %d", wire.HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses a hex-encoded hash, used by config and RPC.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("dag: invalid hash hex: %w", err)
	}
	return HashFromBytes(b)
}
