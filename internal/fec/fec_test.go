package fec

import (
	"bytes"
	"testing"
)

func TestBatch_EncodeReconstruct(t *testing.T) {
	profile := Profile{K: 8, R: 2}
	batch := make([][]byte, profile.K)

	for i := range batch {
		batch[i] = make([]byte, 1024)
		for j := range batch[i] {
			batch[i][j] = byte(i)
		}
	}

	encoder, err := NewBatchEncoder(profile)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}

	parity, shardSize, err := encoder.EncodeBatch(batch)
	if err != nil {
		t.Fatalf("encoding failed: %v", err)
	}
	if len(parity) != profile.R {
		t.Fatalf("expected %d parity shards, got %d", profile.R, len(parity))
	}
	if shardSize != 1024 {
		t.Fatalf("expected shard size 1024, got %d", shardSize)
	}

	allShards := make([][]byte, profile.K+profile.R)
	copy(allShards[:profile.K], batch)
	copy(allShards[profile.K:], parity)

	// Mark shards 3 and 7 as lost.
	allShards[3] = nil
	allShards[7] = nil

	decoder, err := NewBatchDecoder(profile)
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}

	if err := decoder.Reconstruct(allShards); err != nil {
		t.Fatalf("reconstruction failed: %v", err)
	}

	if !bytes.Equal(allShards[3], batch[3]) {
		t.Error("reconstructed shard 3 does not match original")
	}
	if !bytes.Equal(allShards[7], batch[7]) {
		t.Error("reconstructed shard 7 does not match original")
	}
}

func TestBatch_UnevenChunkSizesZeroPadded(t *testing.T) {
	profile := Profile{K: 4, R: 2}
	batch := [][]byte{
		bytes.Repeat([]byte{1}, 480),
		bytes.Repeat([]byte{2}, 480),
		bytes.Repeat([]byte{3}, 480),
		bytes.Repeat([]byte{4}, 113), // final chunk of a file, shorter than the rest
	}

	encoder, err := NewBatchEncoder(profile)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	parity, shardSize, err := encoder.EncodeBatch(batch)
	if err != nil {
		t.Fatalf("encoding failed: %v", err)
	}
	if shardSize != 480 {
		t.Fatalf("expected shard size to widen to the tallest payload (480), got %d", shardSize)
	}

	allShards := make([][]byte, profile.K+profile.R)
	for i, p := range batch {
		padded := make([]byte, shardSize)
		copy(padded, p)
		allShards[i] = padded
	}
	copy(allShards[profile.K:], parity)

	allShards[3] = nil

	decoder, err := NewBatchDecoder(profile)
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	if err := decoder.Reconstruct(allShards); err != nil {
		t.Fatalf("reconstruction failed: %v", err)
	}

	want := make([]byte, shardSize)
	copy(want, batch[3])
	if !bytes.Equal(allShards[3], want) {
		t.Error("reconstructed short shard does not match zero-padded original")
	}
}

func TestBatch_TooManyLost(t *testing.T) {
	profile := Profile{K: 8, R: 2}
	batch := make([][]byte, profile.K)
	for i := range batch {
		batch[i] = make([]byte, 1024)
	}

	encoder, _ := NewBatchEncoder(profile)
	parity, _, _ := encoder.EncodeBatch(batch)

	allShards := make([][]byte, profile.K+profile.R)
	copy(allShards[:profile.K], batch)
	copy(allShards[profile.K:], parity)

	allShards[1] = nil
	allShards[3] = nil
	allShards[7] = nil

	decoder, _ := NewBatchDecoder(profile)
	err := decoder.Reconstruct(allShards)
	if err == nil {
		t.Error("expected error when too many shards are lost")
	}
}

func TestBatch_NoMissing(t *testing.T) {
	profile := Profile{K: 8, R: 2}
	batch := make([][]byte, profile.K)
	for i := range batch {
		batch[i] = make([]byte, 1024)
	}

	encoder, _ := NewBatchEncoder(profile)
	parity, _, _ := encoder.EncodeBatch(batch)

	allShards := make([][]byte, profile.K+profile.R)
	copy(allShards[:profile.K], batch)
	copy(allShards[profile.K:], parity)

	decoder, _ := NewBatchDecoder(profile)
	if err := decoder.Reconstruct(allShards); err != nil {
		t.Errorf("reconstruction should succeed with no missing shards: %v", err)
	}
}

func TestBatch_InvalidParameters(t *testing.T) {
	if _, err := NewBatchEncoder(Profile{K: 0, R: 2}); err == nil {
		t.Error("expected error for disabled profile (K=0)")
	}
	if _, err := NewBatchEncoder(Profile{K: 300, R: 2}); err == nil {
		t.Error("expected error for K=300")
	}
	if _, err := NewBatchEncoder(Profile{K: 8, R: 0}); err == nil {
		t.Error("expected error for R=0")
	}
	if _, err := NewBatchEncoder(Profile{K: 8, R: 300}); err == nil {
		t.Error("expected error for R=300")
	}
}
