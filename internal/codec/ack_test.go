package codec

import (
	"bytes"
	"reflect"
	"testing"
)

func TestAck_RoundTrip(t *testing.T) {
	a := &Ack{
		FileID:           "file-1",
		AckID:            "ack-1",
		ReceiverID:       "recv-1",
		TotalReceived:    5,
		WindowSize:       10,
		TimestampMs:      1234,
		PauseTransfer:    false,
		CancelTransfer:   false,
		TransferComplete: false,
		ErrorCode:        0,
		Bitmap:           BitmapFromChunks([]uint32{0, 1, 2, 4}, 10),
	}

	decoded, err := DecodeAck(a.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.FileID != a.FileID ||
		decoded.AckID != a.AckID ||
		decoded.ReceiverID != a.ReceiverID ||
		decoded.TotalReceived != a.TotalReceived ||
		decoded.WindowSize != a.WindowSize ||
		decoded.TimestampMs != a.TimestampMs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, a)
	}
	if !bytes.Equal(decoded.Bitmap, a.Bitmap) {
		t.Fatalf("bitmap mismatch: got %08b, want %08b", decoded.Bitmap, a.Bitmap)
	}
}

func TestAck_ControlFlags(t *testing.T) {
	a := &Ack{
		FileID:           "f",
		AckID:            "a",
		ReceiverID:       "r",
		PauseTransfer:    true,
		CancelTransfer:   false,
		TransferComplete: true,
		ErrorCode:        3,
	}
	decoded, err := DecodeAck(a.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.PauseTransfer || decoded.CancelTransfer || !decoded.TransferComplete {
		t.Fatalf("flag mismatch: %+v", decoded)
	}
	if decoded.ErrorCode != 3 {
		t.Fatalf("error code mismatch: got %d", decoded.ErrorCode)
	}
}

// chunks_from_bitmap(bitmap_of(S, n), n) == S for any set S of indices < n.
func TestBitmap_ChunksFromBitmapInverse(t *testing.T) {
	cases := []struct {
		indices []uint32
		total   uint32
	}{
		{[]uint32{}, 0},
		{[]uint32{0}, 1},
		{[]uint32{0, 1, 2, 3, 4, 5, 6, 7}, 8},
		{[]uint32{0, 8, 16, 23}, 24},
		{[]uint32{5, 3, 1}, 10}, // unordered input, ordered output expected
	}

	for _, tc := range cases {
		bitmap := BitmapFromChunks(tc.indices, tc.total)
		if err := ValidateBitmapLength(bitmap, tc.total); err != nil {
			t.Fatalf("bitmap_of(%v, %d) overflowed: %v", tc.indices, tc.total, err)
		}
		got := ChunksFromBitmap(bitmap, tc.total)

		want := append([]uint32(nil), tc.indices...)
		sortUint32(want)
		want = dedupeUint32(want)

		if len(got) == 0 {
			got = nil
		}
		if len(want) == 0 {
			want = nil
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunks_from_bitmap(bitmap_of(%v, %d), %d) = %v, want %v",
				tc.indices, tc.total, tc.total, got, want)
		}
	}
}

func TestBitmap_OutOfRangeIndicesIgnored(t *testing.T) {
	bitmap := BitmapFromChunks([]uint32{0, 1, 50}, 4)
	got := ChunksFromBitmap(bitmap, 4)
	want := []uint32{0, 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBitmap_UnionIsCommutativeAndMonotonic(t *testing.T) {
	a := BitmapFromChunks([]uint32{0, 2, 4}, 16)
	b := BitmapFromChunks([]uint32{1, 2, 3}, 16)

	ab := UnionBitmaps(a, b)
	ba := UnionBitmaps(b, a)
	if !bytes.Equal(ab, ba) {
		t.Fatal("union should be commutative")
	}

	want := BitmapFromChunks([]uint32{0, 1, 2, 3, 4}, 16)
	if !bytes.Equal(ab, want) {
		t.Fatalf("union mismatch: got %08b, want %08b", ab, want)
	}

	if PopCount(ab) < PopCount(a) || PopCount(ab) < PopCount(b) {
		t.Fatal("union must be monotonic: popcount should never decrease")
	}
}

func TestBitmap_ValidateOverflow(t *testing.T) {
	oversized := make([]byte, BitmapByteLength(8)+1)
	if err := ValidateBitmapLength(oversized, 8); err != ErrBitmapOverflow {
		t.Fatalf("expected ErrBitmapOverflow, got %v", err)
	}
}

func TestDecodeAck_Truncated(t *testing.T) {
	_, err := DecodeAck([]byte{1, 2, 3})
	if err != ErrTruncatedPayload {
		t.Fatalf("expected ErrTruncatedPayload, got %v", err)
	}
}

func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func dedupeUint32(s []uint32) []uint32 {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
