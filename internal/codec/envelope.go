// Package codec implements the bit-exact wire format for the mesh
// file-transfer protocol: the envelope packet and the three control
// messages it carries (MANIFEST, CHUNK, ACK), plus the supplemental
// CHUNK_HAVE message used for resume-after-reconnect probing.
//
// All multi-byte integers are big-endian. Encoding is deterministic:
// two calls with equal inputs yield byte-equal outputs. Decoding never
// partially applies a malformed frame — on any error the caller is
// expected to drop the frame whole.
package codec

import (
	"encoding/binary"
)

// MessageType is the envelope's one-byte type tag. Only the file
// transfer subset is named here; the surrounding mesh protocol uses
// other values that this package never sees.
type MessageType uint8

const (
	MessageTypeManifest  MessageType = 0x0E
	MessageTypeChunk     MessageType = 0x0F
	MessageTypeAck       MessageType = 0x10
	MessageTypeChunkHave MessageType = 0x11
)

// ProtocolVersion is the only version this codec accepts.
const ProtocolVersion uint8 = 1

// broadcastRecipient is the sentinel 8-byte recipient used for
// broadcast envelopes.
var broadcastRecipient = [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

const (
	envelopeFlagHasRecipient = 1 << 0
	envelopeFlagHasSignature = 1 << 1

	recipientIDSize = 8
	signatureSize   = 64
)

// Envelope is the outer packet every control message travels in.
type Envelope struct {
	Version     uint8
	Type        MessageType
	TTL         uint8
	TimestampMs uint64
	SenderID    string
	// RecipientID is nil for a broadcast envelope, else exactly
	// recipientIDSize bytes.
	RecipientID []byte
	Payload     []byte
	// Signature is nil when absent.
	Signature []byte
}

// NewEnvelope builds an envelope with TTL initialized to maxHops, as
// the file-transfer core always does on first emission.
func NewEnvelope(msgType MessageType, senderID string, recipientID []byte, payload []byte, timestampMs uint64, maxHops uint8) *Envelope {
	return &Envelope{
		Version:     ProtocolVersion,
		Type:        msgType,
		TTL:         maxHops,
		TimestampMs: timestampMs,
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     payload,
	}
}

// IsBroadcast reports whether the envelope has no specific recipient.
func (e *Envelope) IsBroadcast() bool {
	if e.RecipientID == nil {
		return true
	}
	for _, b := range e.RecipientID {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// Encode serializes the envelope to its wire form.
func (e *Envelope) Encode() []byte {
	senderBytes := []byte(e.SenderID)

	flags := uint8(0)
	hasRecipient := e.RecipientID != nil
	if hasRecipient {
		flags |= envelopeFlagHasRecipient
	}
	hasSignature := len(e.Signature) > 0
	if hasSignature {
		flags |= envelopeFlagHasSignature
	}

	size := 1 + 1 + 1 + 1 + 8 + 1 + len(senderBytes)
	if hasRecipient {
		size += recipientIDSize
	}
	size += 2 + len(e.Payload)
	if hasSignature {
		size += signatureSize
	}

	buf := make([]byte, size)
	off := 0
	buf[off] = e.Version
	off++
	buf[off] = uint8(e.Type)
	off++
	buf[off] = flags
	off++
	buf[off] = e.TTL
	off++
	binary.BigEndian.PutUint64(buf[off:], e.TimestampMs)
	off += 8
	buf[off] = uint8(len(senderBytes))
	off++
	copy(buf[off:], senderBytes)
	off += len(senderBytes)

	if hasRecipient {
		if e.IsBroadcast() {
			copy(buf[off:], broadcastRecipient[:])
		} else {
			copy(buf[off:], e.RecipientID)
		}
		off += recipientIDSize
	}

	binary.BigEndian.PutUint16(buf[off:], uint16(len(e.Payload)))
	off += 2
	copy(buf[off:], e.Payload)
	off += len(e.Payload)

	if hasSignature {
		copy(buf[off:], e.Signature)
	}

	return buf
}

// DecodeEnvelope parses a wire-format envelope. It never returns a
// partially-populated Envelope: on error the returned pointer is nil.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) < 4+8+1 {
		return nil, ErrTruncatedPayload
	}

	off := 0
	version := data[off]
	off++
	if version != ProtocolVersion {
		return nil, ErrVersionMismatch
	}

	msgType := MessageType(data[off])
	off++
	flags := data[off]
	off++
	ttl := data[off]
	off++

	if len(data) < off+8 {
		return nil, ErrTruncatedPayload
	}
	timestamp := binary.BigEndian.Uint64(data[off:])
	off += 8

	if len(data) < off+1 {
		return nil, ErrTruncatedPayload
	}
	senderLen := int(data[off])
	off++
	if len(data) < off+senderLen {
		return nil, ErrTruncatedPayload
	}
	senderID := string(data[off : off+senderLen])
	off += senderLen

	var recipientID []byte
	if flags&envelopeFlagHasRecipient != 0 {
		if len(data) < off+recipientIDSize {
			return nil, ErrTruncatedPayload
		}
		recipientID = append([]byte(nil), data[off:off+recipientIDSize]...)
		off += recipientIDSize
	}

	if len(data) < off+2 {
		return nil, ErrTruncatedPayload
	}
	payloadLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if len(data) < off+payloadLen {
		return nil, ErrTruncatedPayload
	}
	payload := append([]byte(nil), data[off:off+payloadLen]...)
	off += payloadLen

	var signature []byte
	if flags&envelopeFlagHasSignature != 0 {
		if len(data) < off+signatureSize {
			return nil, ErrTruncatedPayload
		}
		signature = append([]byte(nil), data[off:off+signatureSize]...)
		off += signatureSize
	}

	switch msgType {
	case MessageTypeManifest, MessageTypeChunk, MessageTypeAck, MessageTypeChunkHave:
	default:
		return nil, ErrUnknownType
	}

	return &Envelope{
		Version:     version,
		Type:        msgType,
		TTL:         ttl,
		TimestampMs: timestamp,
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     payload,
		Signature:   signature,
	}, nil
}
