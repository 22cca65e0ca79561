package codec

import (
	"bytes"
	"testing"
)

func TestChunkHaveRequest_RoundTrip(t *testing.T) {
	req := &ChunkHaveRequest{FileID: "f-resume", ChunkCount: 2185}
	gotReq, gotResp, err := DecodeChunkHave(req.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if gotResp != nil {
		t.Fatal("expected nil response for a request payload")
	}
	if gotReq == nil || gotReq.FileID != req.FileID || gotReq.ChunkCount != req.ChunkCount {
		t.Fatalf("round trip mismatch: got %+v, want %+v", gotReq, req)
	}
}

func TestChunkHaveResponse_RoundTrip(t *testing.T) {
	resp := &ChunkHaveResponse{
		FileID:      "f-resume",
		ChunkCount:  100,
		TimestampMs: 55,
		Bitmap:      BitmapFromChunks([]uint32{0, 1, 2, 99}, 100),
	}
	gotReq, gotResp, err := DecodeChunkHave(resp.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if gotReq != nil {
		t.Fatal("expected nil request for a response payload")
	}
	if gotResp == nil {
		t.Fatal("expected non-nil response")
	}
	if gotResp.FileID != resp.FileID || gotResp.ChunkCount != resp.ChunkCount || gotResp.TimestampMs != resp.TimestampMs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", gotResp, resp)
	}
	if !bytes.Equal(gotResp.Bitmap, resp.Bitmap) {
		t.Fatalf("bitmap mismatch: got %08b, want %08b", gotResp.Bitmap, resp.Bitmap)
	}
}

func TestDecodeChunkHave_Errors(t *testing.T) {
	_, _, err := DecodeChunkHave(nil)
	if err != ErrTruncatedPayload {
		t.Fatalf("expected ErrTruncatedPayload for empty input, got %v", err)
	}

	_, _, err = DecodeChunkHave([]byte{0xFF})
	if err != ErrUnknownType {
		t.Fatalf("expected ErrUnknownType for bad discriminator, got %v", err)
	}

	req := &ChunkHaveRequest{FileID: "f", ChunkCount: 1}
	encoded := req.Encode()
	_, _, err = DecodeChunkHave(encoded[:len(encoded)-1])
	if err != ErrTruncatedPayload {
		t.Fatalf("expected ErrTruncatedPayload for short request, got %v", err)
	}
}
