package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const (
	chunkFlagIsLast             = 1 << 0
	chunkFlagCompressionApplied = 1 << 1
	// chunkFlagFECParity marks a chunk as a Reed-Solomon parity shard
	// rather than file data. Parity chunks travel as ordinary CHUNK
	// frames outside the file's chunk_index space so receivers that
	// never enabled FEC silently ignore them once total_chunks is
	// reached.
	chunkFlagFECParity = 1 << 7

	macSize = 32

	// ChunkHeaderSize is the fixed-width portion of a CHUNK payload,
	// derived from the field-by-field wire layout: 16 (file_id) + 4
	// (chunk_index) + 4 (chunk_sequence) + 8 (timestamp_ms) + 32 (mac)
	// + 1 (flags) + 1 (retry_count) + 6 (reserved) + 2 (payload_length).
	ChunkHeaderSize = FileIDSize + 4 + 4 + 8 + macSize + 1 + 1 + 6 + 2
)

// Chunk carries one ordered data frame of a transfer.
type Chunk struct {
	FileID         string
	ChunkIndex     uint32
	ChunkSequence  uint32
	TimestampMs    uint64
	MAC            [macSize]byte
	IsLastChunk    bool
	CompressionApplied bool
	IsFECParity    bool
	RetryCount     uint8
	Payload        []byte
}

// ChunkHash returns the hex SHA-256 of the payload. Held in memory for
// bookkeeping and reassembly diagnostics; it is never placed on the
// wire — the MAC is what covers integrity in transit.
func (c *Chunk) ChunkHash() string {
	h := sha256.Sum256(c.Payload)
	return hex.EncodeToString(h[:])
}

// Encode serializes the chunk to its wire form.
func (c *Chunk) Encode() []byte {
	fileID := encodeFileID(c.FileID)

	buf := make([]byte, ChunkHeaderSize+len(c.Payload))
	off := 0
	copy(buf[off:], fileID[:])
	off += FileIDSize
	binary.BigEndian.PutUint32(buf[off:], c.ChunkIndex)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], c.ChunkSequence)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], c.TimestampMs)
	off += 8
	copy(buf[off:], c.MAC[:])
	off += macSize

	flags := uint8(0)
	if c.IsLastChunk {
		flags |= chunkFlagIsLast
	}
	if c.CompressionApplied {
		flags |= chunkFlagCompressionApplied
	}
	if c.IsFECParity {
		flags |= chunkFlagFECParity
	}
	buf[off] = flags
	off++
	buf[off] = c.RetryCount
	off++
	off += 6 // reserved

	binary.BigEndian.PutUint16(buf[off:], uint16(len(c.Payload)))
	off += 2
	copy(buf[off:], c.Payload)

	return buf
}

// DecodeChunk parses a wire-format chunk. The declared payload length
// is checked against the remaining buffer before any copy is made.
func DecodeChunk(data []byte) (*Chunk, error) {
	if len(data) < ChunkHeaderSize {
		return nil, ErrTruncatedPayload
	}

	off := 0
	c := &Chunk{}
	c.FileID = decodeFileID(data[off : off+FileIDSize])
	off += FileIDSize
	c.ChunkIndex = binary.BigEndian.Uint32(data[off:])
	off += 4
	c.ChunkSequence = binary.BigEndian.Uint32(data[off:])
	off += 4
	c.TimestampMs = binary.BigEndian.Uint64(data[off:])
	off += 8
	copy(c.MAC[:], data[off:off+macSize])
	off += macSize

	flags := data[off]
	off++
	c.IsLastChunk = flags&chunkFlagIsLast != 0
	c.CompressionApplied = flags&chunkFlagCompressionApplied != 0
	c.IsFECParity = flags&chunkFlagFECParity != 0

	c.RetryCount = data[off]
	off++
	off += 6 // reserved

	payloadLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2

	if len(data)-off < payloadLen {
		return nil, ErrTruncatedPayload
	}
	c.Payload = append([]byte(nil), data[off:off+payloadLen]...)

	return c, nil
}
