package fec

import (
	"github.com/quantarax/meshxfer/internal/codec"
)

// MACFunc computes a chunk's wire MAC the same way the sender's
// chunk engine does, so parity chunks carry a MAC a receiver
// verifies identically to ordinary data chunks.
type MACFunc func(payload []byte) [32]byte

// WindowEncoder groups a file's data chunks into fixed-size windows
// and emits Reed-Solomon parity chunks alongside each completed
// window. Parity chunks are ordinary codec.Chunk values with
// IsFECParity set and a ChunkIndex beyond the file's data range, so a
// receiver that never enabled FEC can simply ignore them once it has
// total_chunks data chunks.
type WindowEncoder struct {
	profile     Profile
	enc         *BatchEncoder
	mac         MACFunc
	fileID      string
	totalChunks uint32

	windowIndex uint32
	buf         []*codec.Chunk
}

// NewWindowEncoder constructs a window encoder for one transfer.
// totalChunks reserves the chunk_index space parity chunks are
// numbered past.
func NewWindowEncoder(fileID string, totalChunks uint32, mac MACFunc, profile Profile) (*WindowEncoder, error) {
	enc, err := NewBatchEncoder(profile)
	if err != nil {
		return nil, err
	}
	return &WindowEncoder{
		profile:     profile,
		enc:         enc,
		mac:         mac,
		fileID:      fileID,
		totalChunks: totalChunks,
	}, nil
}

// Add buffers a data chunk, returning parity chunks once a full
// window of K chunks has accumulated.
func (w *WindowEncoder) Add(c *codec.Chunk) ([]*codec.Chunk, error) {
	w.buf = append(w.buf, c)
	if len(w.buf) < w.profile.K {
		return nil, nil
	}
	return w.flush()
}

// Flush emits parity for a short trailing window — fewer than K
// chunks collected, which happens whenever a file's chunk count
// isn't a multiple of K.
func (w *WindowEncoder) Flush() ([]*codec.Chunk, error) {
	if len(w.buf) == 0 {
		return nil, nil
	}
	return w.flush()
}

func (w *WindowEncoder) flush() ([]*codec.Chunk, error) {
	payloads := make([][]byte, w.profile.K)
	for i := range payloads {
		if i < len(w.buf) {
			payloads[i] = w.buf[i].Payload
		}
	}

	parityPayloads, _, err := w.enc.EncodeBatch(payloads)
	if err != nil {
		w.buf = w.buf[:0]
		return nil, err
	}

	out := make([]*codec.Chunk, len(parityPayloads))
	for i, p := range parityPayloads {
		out[i] = &codec.Chunk{
			FileID:      w.fileID,
			ChunkIndex:  w.totalChunks + w.windowIndex*uint32(w.profile.R) + uint32(i),
			ChunkSequence: w.windowIndex,
			MAC:         w.mac(p),
			IsFECParity: true,
			Payload:     p,
		}
	}

	w.windowIndex++
	w.buf = w.buf[:0]
	return out, nil
}

// WindowDecoder reassembles a short window's missing data-chunk
// payloads from whatever data and parity chunks a receiver collected
// for that window.
type WindowDecoder struct {
	profile Profile
	dec     *BatchDecoder
}

// NewWindowDecoder constructs a window decoder matching the profile
// a sender's WindowEncoder used.
func NewWindowDecoder(profile Profile) (*WindowDecoder, error) {
	dec, err := NewBatchDecoder(profile)
	if err != nil {
		return nil, err
	}
	return &WindowDecoder{profile: profile, dec: dec}, nil
}

// Reconstruct fills in missing entries of dataShards (len == K) using
// whatever parityShards (len == R, nil for ones not received) were
// collected, padding all shards to a common size first. Reconstructed
// shards are trimmed back to origLens where known, since Reed-Solomon
// itself is agnostic to the padding each chunk's true length implies.
func (d *WindowDecoder) Reconstruct(dataShards, parityShards [][]byte, origLens []int) error {
	shardSize := 0
	for _, s := range dataShards {
		if len(s) > shardSize {
			shardSize = len(s)
		}
	}
	for _, s := range parityShards {
		if len(s) > shardSize {
			shardSize = len(s)
		}
	}

	all := make([][]byte, d.profile.K+d.profile.R)
	for i, s := range dataShards {
		if s == nil {
			continue
		}
		padded := make([]byte, shardSize)
		copy(padded, s)
		all[i] = padded
	}
	for i, s := range parityShards {
		if s == nil {
			continue
		}
		padded := make([]byte, shardSize)
		copy(padded, s)
		all[d.profile.K+i] = padded
	}

	if err := d.dec.Reconstruct(all); err != nil {
		return err
	}

	for i := range dataShards {
		if dataShards[i] != nil {
			continue
		}
		recovered := all[i]
		if i < len(origLens) && origLens[i] > 0 && origLens[i] <= len(recovered) {
			recovered = recovered[:origLens[i]]
		}
		dataShards[i] = recovered
	}
	return nil
}
