package chunkengine

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// MerkleRoot computes a supplemental BLAKE3 Merkle root over a
// transfer's ordered chunk hashes. The wire protocol's integrity
// guarantee is the per-chunk HMAC plus the whole-file SHA-256 in the
// manifest; this root is an additional, local-only check a receiver
// can use to detect hash-list corruption or reordering before
// reassembly finishes, and an optional manifest chunk_hashes /
// merkle-root pair a sender can publish for out-of-band verification.
//
// Adapted from the chunker's BLAKE3 Merkle tree: odd levels duplicate
// the last node rather than promoting it, so the tree is always a
// perfect binary tree by construction.
func MerkleRoot(chunkHashesHex []string) (string, error) {
	if len(chunkHashesHex) == 0 {
		return "", nil
	}

	level := make([][]byte, len(chunkHashesHex))
	for i, h := range chunkHashesHex {
		decoded, err := hex.DecodeString(h)
		if err != nil {
			return "", err
		}
		level[i] = decoded
	}

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			var combined []byte
			if i+1 < len(level) {
				combined = append(append([]byte{}, level[i]...), level[i+1]...)
			} else {
				combined = append(append([]byte{}, level[i]...), level[i]...)
			}
			hasher := blake3.New()
			hasher.Write(combined)
			next = append(next, hasher.Sum(nil))
		}
		level = next
	}

	return hex.EncodeToString(level[0]), nil
}

// ChunkHashHex returns the hex BLAKE3 hash of a single chunk payload,
// the leaf value MerkleRoot expects.
func ChunkHashHex(payload []byte) string {
	hasher := blake3.New()
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil))
}
