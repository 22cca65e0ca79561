package codec

import (
	"encoding/binary"
	"strings"
)

// Priority is the transfer priority declared in a MANIFEST.
type Priority uint8

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// CompressionType is the per-chunk compression algorithm a MANIFEST
// may declare.
type CompressionType uint8

const (
	CompressionNone CompressionType = 0
	CompressionLZ4  CompressionType = 1
	CompressionGzip CompressionType = 2
)

// FileIDSize is the wire width of file_id: a 16-byte, null-padded
// UTF-8 token. This truncates longer identifiers — a documented
// protocol limit carried over from the source implementation rather
// than silently fixed, to keep wire compatibility.
const FileIDSize = 16

// NetworkRequirements describes the transport conditions a sender
// believes it needs for this transfer to make progress. Advisory
// only; the core never enforces it.
type NetworkRequirements struct {
	MinBandwidthKbps uint32
	MaxLatencyMs     uint32
	RequiresReliable bool
}

// Manifest declares a transfer. See the protocol specification's data
// model for field semantics; this type mirrors it field for field.
type Manifest struct {
	FileID      string // truncated/padded to FileIDSize on encode
	FileName    string
	FileSize    uint64
	TotalChunks uint32
	SHA256Hash  string // lowercase hex, 64 chars
	SenderID    string
	TimestampMs uint64
	Priority    Priority

	// Optional fields. Zero value means absent, except where a
	// pointer/slice nil is used to distinguish "absent" from "zero".
	MimeType             string
	HasMimeType          bool
	FilePermissions      uint16
	HasFilePermissions   bool
	CompressionType      CompressionType
	HasCompressionType   bool
	ResumeToken          string
	HasResumeToken       bool
	ChunkHashes          []string // each a 64-char lowercase hex SHA-256
	EstimatedTransferSec uint32
	HasEstimatedTransfer bool
	NetworkReqs          *NetworkRequirements
	ManifestSignature    []byte
}

// encodeFileID null-pads or truncates id to FileIDSize bytes.
func encodeFileID(id string) [FileIDSize]byte {
	var out [FileIDSize]byte
	b := []byte(id)
	if len(b) > FileIDSize {
		b = b[:FileIDSize]
	}
	copy(out[:], b)
	return out
}

// decodeFileID strips the null padding added by encodeFileID.
func decodeFileID(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

func putLengthPrefixedString(buf []byte, off int, s string) int {
	binary.BigEndian.PutUint16(buf[off:], uint16(len(s)))
	off += 2
	copy(buf[off:], s)
	return off + len(s)
}

func readLengthPrefixedString(data []byte, off int) (string, int, error) {
	if len(data) < off+2 {
		return "", 0, ErrTruncatedPayload
	}
	n := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if len(data) < off+n {
		return "", 0, ErrTruncatedPayload
	}
	return string(data[off : off+n]), off + n, nil
}

// Encode serializes the manifest to its wire form.
func (m *Manifest) Encode() []byte {
	fileID := encodeFileID(m.FileID)

	size := FileIDSize + 8 + 4 + 1 + 3
	size += 2 + len(m.FileName)
	size += 2 + len(m.SHA256Hash)
	size += 2 + len(m.SenderID)
	size += 8 // timestamp_ms

	size += 1 + boolLen(m.HasMimeType, 2+len(m.MimeType))
	size += 1 + boolLen(m.HasFilePermissions, 2)
	size += 1 + boolLen(m.HasCompressionType, 1)
	size += 1 + boolLen(m.HasResumeToken, 2+len(m.ResumeToken))
	size += 2 + len(m.ChunkHashes)*64
	size += 1 + boolLen(m.HasEstimatedTransfer, 4)
	size += 1 + boolLen(m.NetworkReqs != nil, 9)
	size += 2 + len(m.ManifestSignature)

	buf := make([]byte, size)
	off := 0

	copy(buf[off:], fileID[:])
	off += FileIDSize
	binary.BigEndian.PutUint64(buf[off:], m.FileSize)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], m.TotalChunks)
	off += 4
	buf[off] = uint8(m.Priority)
	off += 1 + 3 // priority + 3 reserved zero bytes

	off = putLengthPrefixedString(buf, off, m.FileName)
	off = putLengthPrefixedString(buf, off, m.SHA256Hash)
	off = putLengthPrefixedString(buf, off, m.SenderID)

	binary.BigEndian.PutUint64(buf[off:], m.TimestampMs)
	off += 8

	off = putOptionalString(buf, off, m.HasMimeType, m.MimeType)

	buf[off] = boolByte(m.HasFilePermissions)
	off++
	if m.HasFilePermissions {
		binary.BigEndian.PutUint16(buf[off:], m.FilePermissions)
		off += 2
	}

	buf[off] = boolByte(m.HasCompressionType)
	off++
	if m.HasCompressionType {
		buf[off] = uint8(m.CompressionType)
		off++
	}

	off = putOptionalString(buf, off, m.HasResumeToken, m.ResumeToken)

	binary.BigEndian.PutUint16(buf[off:], uint16(len(m.ChunkHashes)))
	off += 2
	for _, h := range m.ChunkHashes {
		hb := []byte(h)
		var fixed [64]byte
		copy(fixed[:], hb)
		copy(buf[off:], fixed[:])
		off += 64
	}

	buf[off] = boolByte(m.HasEstimatedTransfer)
	off++
	if m.HasEstimatedTransfer {
		binary.BigEndian.PutUint32(buf[off:], m.EstimatedTransferSec)
		off += 4
	}

	buf[off] = boolByte(m.NetworkReqs != nil)
	off++
	if m.NetworkReqs != nil {
		binary.BigEndian.PutUint32(buf[off:], m.NetworkReqs.MinBandwidthKbps)
		off += 4
		binary.BigEndian.PutUint32(buf[off:], m.NetworkReqs.MaxLatencyMs)
		off += 4
		buf[off] = boolByte(m.NetworkReqs.RequiresReliable)
		off++
	}

	binary.BigEndian.PutUint16(buf[off:], uint16(len(m.ManifestSignature)))
	off += 2
	copy(buf[off:], m.ManifestSignature)
	off += len(m.ManifestSignature)

	return buf[:off]
}

// DecodeManifest parses a wire-format manifest. Trailing bytes beyond
// the fields this decoder understands are tolerated and ignored, for
// forward compatibility with newer optional blocks.
func DecodeManifest(data []byte) (*Manifest, error) {
	if len(data) < FileIDSize+8+4+4 {
		return nil, ErrTruncatedPayload
	}

	off := 0
	m := &Manifest{}
	m.FileID = decodeFileID(data[off : off+FileIDSize])
	off += FileIDSize

	m.FileSize = binary.BigEndian.Uint64(data[off:])
	off += 8
	m.TotalChunks = binary.BigEndian.Uint32(data[off:])
	off += 4
	m.Priority = Priority(data[off])
	off += 1 + 3

	var err error
	m.FileName, off, err = readLengthPrefixedString(data, off)
	if err != nil {
		return nil, err
	}
	m.SHA256Hash, off, err = readLengthPrefixedString(data, off)
	if err != nil {
		return nil, err
	}
	m.SenderID, off, err = readLengthPrefixedString(data, off)
	if err != nil {
		return nil, err
	}

	if len(data) < off+8 {
		return nil, ErrTruncatedPayload
	}
	m.TimestampMs = binary.BigEndian.Uint64(data[off:])
	off += 8

	m.MimeType, m.HasMimeType, off, err = readOptionalString(data, off)
	if err != nil {
		return nil, err
	}

	if len(data) < off+1 {
		return nil, ErrTruncatedPayload
	}
	m.HasFilePermissions = data[off] != 0
	off++
	if m.HasFilePermissions {
		if len(data) < off+2 {
			return nil, ErrTruncatedPayload
		}
		m.FilePermissions = binary.BigEndian.Uint16(data[off:])
		off += 2
	}

	if len(data) < off+1 {
		return nil, ErrTruncatedPayload
	}
	m.HasCompressionType = data[off] != 0
	off++
	if m.HasCompressionType {
		if len(data) < off+1 {
			return nil, ErrTruncatedPayload
		}
		m.CompressionType = CompressionType(data[off])
		off++
	}

	m.ResumeToken, m.HasResumeToken, off, err = readOptionalString(data, off)
	if err != nil {
		return nil, err
	}

	// Trailing extension fields are tolerated if absent (forward
	// compatibility): only parse them if enough bytes remain.
	if len(data) >= off+2 {
		count := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if len(data) >= off+count*64 {
			hashes := make([]string, count)
			for i := 0; i < count; i++ {
				hashes[i] = strings.TrimRight(string(data[off:off+64]), "\x00")
				off += 64
			}
			m.ChunkHashes = hashes
		}
	}

	if len(data) >= off+1 {
		m.HasEstimatedTransfer = data[off] != 0
		off++
		if m.HasEstimatedTransfer && len(data) >= off+4 {
			m.EstimatedTransferSec = binary.BigEndian.Uint32(data[off:])
			off += 4
		}
	}

	if len(data) >= off+1 {
		hasNetReqs := data[off] != 0
		off++
		if hasNetReqs && len(data) >= off+9 {
			nr := &NetworkRequirements{}
			nr.MinBandwidthKbps = binary.BigEndian.Uint32(data[off:])
			off += 4
			nr.MaxLatencyMs = binary.BigEndian.Uint32(data[off:])
			off += 4
			nr.RequiresReliable = data[off] != 0
			off++
			m.NetworkReqs = nr
		}
	}

	if len(data) >= off+2 {
		sigLen := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if len(data) >= off+sigLen && sigLen > 0 {
			m.ManifestSignature = append([]byte(nil), data[off:off+sigLen]...)
			off += sigLen
		}
	}

	return m, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func boolLen(present bool, n int) int {
	if present {
		return n
	}
	return 0
}

func putOptionalString(buf []byte, off int, present bool, s string) int {
	buf[off] = boolByte(present)
	off++
	if present {
		off = putLengthPrefixedString(buf, off, s)
	}
	return off
}

func readOptionalString(data []byte, off int) (string, bool, int, error) {
	if len(data) < off+1 {
		return "", false, 0, ErrTruncatedPayload
	}
	present := data[off] != 0
	off++
	if !present {
		return "", false, off, nil
	}
	s, off, err := readLengthPrefixedString(data, off)
	if err != nil {
		return "", false, 0, err
	}
	return s, true, off, nil
}
