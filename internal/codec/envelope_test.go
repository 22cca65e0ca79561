package codec

import (
	"bytes"
	"testing"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		env  *Envelope
	}{
		{
			name: "broadcast manifest",
			env: &Envelope{
				Version:     ProtocolVersion,
				Type:        MessageTypeManifest,
				TTL:         7,
				TimestampMs: 1234567890,
				SenderID:    "peer-a",
				Payload:     []byte("hello manifest"),
			},
		},
		{
			name: "directed chunk with signature",
			env: &Envelope{
				Version:     ProtocolVersion,
				Type:        MessageTypeChunk,
				TTL:         3,
				TimestampMs: 42,
				SenderID:    "peer-b",
				RecipientID: []byte{1, 2, 3, 4, 5, 6, 7, 8},
				Payload:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
				Signature:   bytes.Repeat([]byte{0xAB}, 64),
			},
		},
		{
			name: "empty payload ack",
			env: &Envelope{
				Version:     ProtocolVersion,
				Type:        MessageTypeAck,
				TTL:         1,
				TimestampMs: 0,
				SenderID:    "",
				Payload:     nil,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := tc.env.Encode()
			decoded, err := DecodeEnvelope(encoded)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if decoded.Version != tc.env.Version ||
				decoded.Type != tc.env.Type ||
				decoded.TTL != tc.env.TTL ||
				decoded.TimestampMs != tc.env.TimestampMs ||
				decoded.SenderID != tc.env.SenderID {
				t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, tc.env)
			}
			if !bytes.Equal(decoded.Payload, tc.env.Payload) {
				t.Fatalf("payload mismatch: got %x, want %x", decoded.Payload, tc.env.Payload)
			}
			if !bytes.Equal(decoded.Signature, tc.env.Signature) {
				t.Fatalf("signature mismatch")
			}

			// Determinism: encoding twice yields byte-equal output.
			if !bytes.Equal(encoded, tc.env.Encode()) {
				t.Fatalf("encoding is not deterministic")
			}
		})
	}
}

func TestEnvelope_Broadcast(t *testing.T) {
	env := &Envelope{
		Version:     ProtocolVersion,
		Type:        MessageTypeAck,
		TTL:         7,
		SenderID:    "peer-a",
		RecipientID: nil,
	}
	if !env.IsBroadcast() {
		t.Fatal("nil recipient should be broadcast")
	}

	env.RecipientID = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !env.IsBroadcast() {
		t.Fatal("sentinel recipient should be broadcast")
	}

	decoded, err := DecodeEnvelope(env.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded.RecipientID, broadcastRecipient[:]) {
		t.Fatalf("expected broadcast sentinel on the wire, got %x", decoded.RecipientID)
	}
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte{1, 2, 3})
		if err != ErrTruncatedPayload {
			t.Fatalf("expected ErrTruncatedPayload, got %v", err)
		}
	})

	t.Run("bad version", func(t *testing.T) {
		env := &Envelope{Version: 9, Type: MessageTypeAck, SenderID: "x"}
		_, err := DecodeEnvelope(env.Encode())
		if err != ErrVersionMismatch {
			t.Fatalf("expected ErrVersionMismatch, got %v", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		env := &Envelope{Version: ProtocolVersion, Type: 0x7F, SenderID: "x"}
		_, err := DecodeEnvelope(env.Encode())
		if err != ErrUnknownType {
			t.Fatalf("expected ErrUnknownType, got %v", err)
		}
	})
}
