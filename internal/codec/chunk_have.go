package codec

import "encoding/binary"

// ChunkHave is the supplemental resume-probe message (envelope type
// MessageTypeChunkHave): a receiver that restarted can ask what it
// already has confirmed, or answer such a request with a bitmap,
// without going through a full ACK cycle. It is not one of the three
// named control messages in the wire spec; it reuses their encoding
// conventions (fixed tokens, length-prefixed bitmap) and a leading
// discriminator byte.
type chunkHaveKind uint8

const (
	chunkHaveRequestKind  chunkHaveKind = 0
	chunkHaveResponseKind chunkHaveKind = 1
)

// ChunkHaveRequest asks a peer for its bitmap of confirmed chunks.
type ChunkHaveRequest struct {
	FileID     string
	ChunkCount uint32
}

// Encode serializes a ChunkHaveRequest.
func (r *ChunkHaveRequest) Encode() []byte {
	buf := make([]byte, 1+FileIDSize+4)
	buf[0] = uint8(chunkHaveRequestKind)
	fid := encodeFileID(r.FileID)
	copy(buf[1:], fid[:])
	binary.BigEndian.PutUint32(buf[1+FileIDSize:], r.ChunkCount)
	return buf
}

// ChunkHaveResponse answers a ChunkHaveRequest with a bitmap of
// confirmed chunk indices.
type ChunkHaveResponse struct {
	FileID      string
	ChunkCount  uint32
	TimestampMs uint64
	Bitmap      []byte
}

// Encode serializes a ChunkHaveResponse.
func (r *ChunkHaveResponse) Encode() []byte {
	size := 1 + FileIDSize + 4 + 8 + 2 + len(r.Bitmap)
	buf := make([]byte, size)
	buf[0] = uint8(chunkHaveResponseKind)
	off := 1
	fid := encodeFileID(r.FileID)
	copy(buf[off:], fid[:])
	off += FileIDSize
	binary.BigEndian.PutUint32(buf[off:], r.ChunkCount)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], r.TimestampMs)
	off += 8
	binary.BigEndian.PutUint16(buf[off:], uint16(len(r.Bitmap)))
	off += 2
	copy(buf[off:], r.Bitmap)
	return buf
}

// DecodeChunkHave parses the discriminator byte and dispatches to the
// request or response form. Exactly one of the two return values is
// non-nil on success.
func DecodeChunkHave(data []byte) (*ChunkHaveRequest, *ChunkHaveResponse, error) {
	if len(data) < 1 {
		return nil, nil, ErrTruncatedPayload
	}
	switch chunkHaveKind(data[0]) {
	case chunkHaveRequestKind:
		if len(data) < 1+FileIDSize+4 {
			return nil, nil, ErrTruncatedPayload
		}
		req := &ChunkHaveRequest{
			FileID:     decodeFileID(data[1 : 1+FileIDSize]),
			ChunkCount: binary.BigEndian.Uint32(data[1+FileIDSize:]),
		}
		return req, nil, nil
	case chunkHaveResponseKind:
		off := 1
		if len(data) < off+FileIDSize+4+8+2 {
			return nil, nil, ErrTruncatedPayload
		}
		resp := &ChunkHaveResponse{}
		resp.FileID = decodeFileID(data[off : off+FileIDSize])
		off += FileIDSize
		resp.ChunkCount = binary.BigEndian.Uint32(data[off:])
		off += 4
		resp.TimestampMs = binary.BigEndian.Uint64(data[off:])
		off += 8
		bitmapLen := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if len(data)-off < bitmapLen {
			return nil, nil, ErrTruncatedPayload
		}
		resp.Bitmap = append([]byte(nil), data[off:off+bitmapLen]...)
		return nil, resp, nil
	default:
		return nil, nil, ErrUnknownType
	}
}
