package fec

import (
	"crypto/rand"
	"testing"
)

func BenchmarkBatchEncode(b *testing.B) {
	profile := Profile{K: 8, R: 2}
	encoder, err := NewBatchEncoder(profile)
	if err != nil {
		b.Fatalf("failed to create encoder: %v", err)
	}

	batch := make([][]byte, profile.K)
	for i := range batch {
		batch[i] = make([]byte, 1<<16)
		rand.Read(batch[i])
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := encoder.EncodeBatch(batch); err != nil {
			b.Fatalf("encode failed: %v", err)
		}
	}
}
