package codec

import (
	"reflect"
	"testing"
)

func TestManifest_RoundTrip(t *testing.T) {
	m := &Manifest{
		FileID:      "abcd1234",
		FileName:    "photo.jpg",
		FileSize:    1 << 20,
		TotalChunks: 2185,
		SHA256Hash:  "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85",
		SenderID:    "node-7",
		TimestampMs: 1700000000123,
		Priority:    PriorityHigh,
	}

	decoded, err := DecodeManifest(m.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	// Round trip modulo null-padding of file_id; everything else exact.
	if decoded.FileID != m.FileID ||
		decoded.FileName != m.FileName ||
		decoded.FileSize != m.FileSize ||
		decoded.TotalChunks != m.TotalChunks ||
		decoded.SHA256Hash != m.SHA256Hash ||
		decoded.SenderID != m.SenderID ||
		decoded.TimestampMs != m.TimestampMs ||
		decoded.Priority != m.Priority {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, m)
	}
	if decoded.HasMimeType || decoded.HasFilePermissions || decoded.HasCompressionType || decoded.HasResumeToken {
		t.Fatal("optional fields should decode absent when never set")
	}
}

func TestManifest_OptionalFields(t *testing.T) {
	m := &Manifest{
		FileID:               "f-1",
		FileName:             "archive.tar.gz",
		FileSize:             4096,
		TotalChunks:          9,
		SHA256Hash:           strhash("manifest"),
		SenderID:             "sender",
		TimestampMs:          99,
		Priority:             PriorityUrgent,
		MimeType:             "application/gzip",
		HasMimeType:          true,
		FilePermissions:      0o644,
		HasFilePermissions:   true,
		CompressionType:      CompressionGzip,
		HasCompressionType:   true,
		ResumeToken:          "resume-xyz",
		HasResumeToken:       true,
		ChunkHashes:          []string{strhash("a"), strhash("b")},
		EstimatedTransferSec: 42,
		HasEstimatedTransfer: true,
		NetworkReqs: &NetworkRequirements{
			MinBandwidthKbps: 256,
			MaxLatencyMs:     500,
			RequiresReliable: true,
		},
		ManifestSignature: []byte{1, 2, 3, 4, 5},
	}

	decoded, err := DecodeManifest(m.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if !decoded.HasMimeType || decoded.MimeType != m.MimeType {
		t.Fatalf("mime type mismatch: %+v", decoded)
	}
	if !decoded.HasFilePermissions || decoded.FilePermissions != m.FilePermissions {
		t.Fatalf("file permissions mismatch: %+v", decoded)
	}
	if !decoded.HasCompressionType || decoded.CompressionType != m.CompressionType {
		t.Fatalf("compression type mismatch: %+v", decoded)
	}
	if !decoded.HasResumeToken || decoded.ResumeToken != m.ResumeToken {
		t.Fatalf("resume token mismatch: %+v", decoded)
	}
	if !reflect.DeepEqual(decoded.ChunkHashes, m.ChunkHashes) {
		t.Fatalf("chunk hashes mismatch: got %v, want %v", decoded.ChunkHashes, m.ChunkHashes)
	}
	if !decoded.HasEstimatedTransfer || decoded.EstimatedTransferSec != m.EstimatedTransferSec {
		t.Fatalf("estimated transfer mismatch: %+v", decoded)
	}
	if decoded.NetworkReqs == nil || *decoded.NetworkReqs != *m.NetworkReqs {
		t.Fatalf("network requirements mismatch: %+v", decoded.NetworkReqs)
	}
	if !reflect.DeepEqual(decoded.ManifestSignature, m.ManifestSignature) {
		t.Fatalf("signature mismatch: got %x, want %x", decoded.ManifestSignature, m.ManifestSignature)
	}
}

func TestManifest_TrailingBytesIgnored(t *testing.T) {
	m := &Manifest{
		FileID:      "f-2",
		FileName:    "x",
		FileSize:    1,
		TotalChunks: 1,
		SHA256Hash:  "hash",
		SenderID:    "s",
		TimestampMs: 1,
		Priority:    PriorityNormal,
	}
	encoded := append(m.Encode(), 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01, 0x02)
	decoded, err := DecodeManifest(encoded)
	if err != nil {
		t.Fatalf("unexpected error with trailing garbage: %v", err)
	}
	if decoded.FileName != "x" {
		t.Fatalf("core fields should decode unaffected by trailing bytes: %+v", decoded)
	}
}

func TestDecodeManifest_Truncated(t *testing.T) {
	_, err := DecodeManifest([]byte{1, 2, 3})
	if err != ErrTruncatedPayload {
		t.Fatalf("expected ErrTruncatedPayload, got %v", err)
	}
}

func strhash(seed string) string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = byte('0' + (i+len(seed))%10)
	}
	return string(out)
}
