package chunkengine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// DeriveMACKey derives the per-transfer MAC key as SHA-256(file_id),
// matching the wire-protocol convention in internal/codec: the key
// is never sent, only its effect (the MAC) is.
func DeriveMACKey(fileID string) [32]byte {
	return sha256.Sum256([]byte(fileID))
}

// ComputeMAC returns HMAC-SHA256(key, payload) for a chunk payload.
func ComputeMAC(key [32]byte, payload []byte) [32]byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(payload)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyMAC reports whether mac is the correct HMAC-SHA256 of payload
// under key, using a constant-time comparison.
func VerifyMAC(key [32]byte, payload []byte, mac [32]byte) bool {
	expected := ComputeMAC(key, payload)
	return hmac.Equal(expected[:], mac[:])
}

// WholeFileHasher accumulates chunk payloads in order and produces the
// whole-file SHA-256 the manifest's sha256_hash field declares. Chunk
// reassembly must feed payloads in ascending chunk_index order — the
// hasher has no notion of out-of-order input.
type WholeFileHasher struct {
	h hash.Hash
}

// NewWholeFileHasher starts a fresh whole-file hash accumulator.
func NewWholeFileHasher() *WholeFileHasher {
	return &WholeFileHasher{h: sha256.New()}
}

// Write feeds the next in-order chunk payload into the running hash.
func (w *WholeFileHasher) Write(payload []byte) {
	w.h.Write(payload)
}

// SumHex returns the lowercase hex SHA-256 of everything written so far.
func (w *WholeFileHasher) SumHex() string {
	return hex.EncodeToString(w.h.Sum(nil))
}
