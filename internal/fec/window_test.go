package fec

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"testing"

	"github.com/quantarax/meshxfer/internal/codec"
)

func testMAC(key [32]byte) MACFunc {
	return func(payload []byte) [32]byte {
		h := hmac.New(sha256.New, key[:])
		h.Write(payload)
		var out [32]byte
		copy(out[:], h.Sum(nil))
		return out
	}
}

func TestWindowEncoder_EmitsParityOnFullWindow(t *testing.T) {
	profile := Profile{K: 4, R: 2}
	var key [32]byte
	enc, err := NewWindowEncoder("file-1", 10, testMAC(key), profile)
	if err != nil {
		t.Fatalf("NewWindowEncoder failed: %v", err)
	}

	var parity []*codec.Chunk
	for i := 0; i < profile.K; i++ {
		out, err := enc.Add(&codec.Chunk{FileID: "file-1", ChunkIndex: uint32(i), Payload: bytes.Repeat([]byte{byte(i)}, 16)})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if i < profile.K-1 && out != nil {
			t.Fatalf("did not expect parity before the window filled, got %d chunks", len(out))
		}
		if i == profile.K-1 {
			parity = out
		}
	}

	if len(parity) != profile.R {
		t.Fatalf("expected %d parity chunks, got %d", profile.R, len(parity))
	}
	for _, p := range parity {
		if !p.IsFECParity {
			t.Error("expected IsFECParity to be set on a parity chunk")
		}
		if p.ChunkIndex < 10 {
			t.Errorf("expected parity chunk index to be reserved past total_chunks (10), got %d", p.ChunkIndex)
		}
	}
}

func TestWindowEncoder_FlushShortTrailingWindow(t *testing.T) {
	profile := Profile{K: 4, R: 2}
	var key [32]byte
	enc, err := NewWindowEncoder("file-1", 2, testMAC(key), profile)
	if err != nil {
		t.Fatalf("NewWindowEncoder failed: %v", err)
	}

	if _, err := enc.Add(&codec.Chunk{ChunkIndex: 0, Payload: []byte("a")}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := enc.Add(&codec.Chunk{ChunkIndex: 1, Payload: []byte("b")}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	parity, err := enc.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(parity) != profile.R {
		t.Fatalf("expected %d parity chunks from a short window, got %d", profile.R, len(parity))
	}
}

func TestWindowDecoder_ReconstructsMissingDataChunk(t *testing.T) {
	profile := Profile{K: 4, R: 2}
	var key [32]byte
	wenc, err := NewWindowEncoder("file-1", 4, testMAC(key), profile)
	if err != nil {
		t.Fatalf("NewWindowEncoder failed: %v", err)
	}

	payloads := [][]byte{
		bytes.Repeat([]byte{1}, 20),
		bytes.Repeat([]byte{2}, 20),
		bytes.Repeat([]byte{3}, 20),
		bytes.Repeat([]byte{4}, 7), // shorter trailing chunk
	}

	var parity []*codec.Chunk
	for i, p := range payloads {
		out, err := wenc.Add(&codec.Chunk{ChunkIndex: uint32(i), Payload: p})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if out != nil {
			parity = out
		}
	}
	if len(parity) != profile.R {
		t.Fatalf("expected %d parity chunks, got %d", profile.R, len(parity))
	}

	dataShards := make([][]byte, profile.K)
	origLens := make([]int, profile.K)
	for i, p := range payloads {
		dataShards[i] = p
		origLens[i] = len(p)
	}
	// Simulate losing data chunk 3 (the short one).
	dataShards[3] = nil

	parityShards := make([][]byte, profile.R)
	for i, p := range parity {
		parityShards[i] = p.Payload
	}

	wdec, err := NewWindowDecoder(profile)
	if err != nil {
		t.Fatalf("NewWindowDecoder failed: %v", err)
	}
	if err := wdec.Reconstruct(dataShards, parityShards, origLens); err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	if !bytes.Equal(dataShards[3], payloads[3]) {
		t.Fatalf("reconstructed chunk mismatch: got %v, want %v", dataShards[3], payloads[3])
	}
}
