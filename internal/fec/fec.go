// Package fec provides optional chunk-batch Reed-Solomon forward
// error correction. It never changes the wire contract of CHUNK or
// ACK: parity shards travel as ordinary CHUNK frames with the
// FEC-parity flag set, decoded only by receivers that opted in.
package fec

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// ErrUnrecoverable is returned when a batch is missing more shards
// than its parity count can reconstruct.
var ErrUnrecoverable = errors.New("fec: more shards missing than parity can recover")

// Profile configures adaptive chunk-batch FEC. K is the number of
// data chunks per batch and R the parity chunks produced alongside
// them. K == 0 disables FEC entirely.
type Profile struct {
	K int
	R int
}

// Disabled reports whether the profile turns FEC off.
func (p Profile) Disabled() bool {
	return p.K <= 0
}

// BatchEncoder produces Reed-Solomon parity shards over a window of
// chunk-sized payloads. Unlike a whole-file codec, a window's
// payloads rarely share an exact length (the last chunk of a file is
// almost always shorter), so EncodeBatch zero-pads to the window's
// tallest shard rather than rejecting uneven input.
type BatchEncoder struct {
	profile Profile
	rs      reedsolomon.Encoder
}

// NewBatchEncoder constructs an encoder for an enabled profile.
func NewBatchEncoder(profile Profile) (*BatchEncoder, error) {
	if profile.Disabled() {
		return nil, fmt.Errorf("fec: profile disabled (K=%d)", profile.K)
	}
	if profile.K < 1 || profile.K > 256 {
		return nil, fmt.Errorf("fec: data shards must be between 1 and 256, got %d", profile.K)
	}
	if profile.R < 1 || profile.R > 256 {
		return nil, fmt.Errorf("fec: parity shards must be between 1 and 256, got %d", profile.R)
	}

	rs, err := reedsolomon.New(profile.K, profile.R)
	if err != nil {
		return nil, fmt.Errorf("fec: constructing reed-solomon encoder: %w", err)
	}

	return &BatchEncoder{profile: profile, rs: rs}, nil
}

// Profile returns the K/R configuration this encoder was built for.
func (e *BatchEncoder) Profile() Profile { return e.profile }

// EncodeBatch zero-pads payloads to a common shard size and returns R
// parity shards alongside that size. batch must hold exactly K
// payloads; a short final window at end-of-file should be padded by
// the caller with empty payloads up to K before calling.
func (e *BatchEncoder) EncodeBatch(batch [][]byte) (parity [][]byte, shardSize int, err error) {
	if len(batch) != e.profile.K {
		return nil, 0, fmt.Errorf("fec: expected %d chunks per window, got %d", e.profile.K, len(batch))
	}

	for _, p := range batch {
		if len(p) > shardSize {
			shardSize = len(p)
		}
	}

	allShards := make([][]byte, e.profile.K+e.profile.R)
	for i, p := range batch {
		shard := make([]byte, shardSize)
		copy(shard, p)
		allShards[i] = shard
	}
	for i := e.profile.K; i < e.profile.K+e.profile.R; i++ {
		allShards[i] = make([]byte, shardSize)
	}

	if err := e.rs.Encode(allShards); err != nil {
		return nil, 0, fmt.Errorf("fec: encoding window: %w", err)
	}

	return allShards[e.profile.K:], shardSize, nil
}

// BatchDecoder reconstructs missing chunk payloads in a window from
// whatever data and parity shards a receiver managed to collect.
type BatchDecoder struct {
	profile Profile
	rs      reedsolomon.Encoder
}

// NewBatchDecoder constructs a decoder for an enabled profile.
func NewBatchDecoder(profile Profile) (*BatchDecoder, error) {
	if profile.Disabled() {
		return nil, fmt.Errorf("fec: profile disabled (K=%d)", profile.K)
	}
	if profile.K < 1 || profile.K > 256 {
		return nil, fmt.Errorf("fec: data shards must be between 1 and 256, got %d", profile.K)
	}
	if profile.R < 1 || profile.R > 256 {
		return nil, fmt.Errorf("fec: parity shards must be between 1 and 256, got %d", profile.R)
	}

	rs, err := reedsolomon.New(profile.K, profile.R)
	if err != nil {
		return nil, fmt.Errorf("fec: constructing reed-solomon decoder: %w", err)
	}

	return &BatchDecoder{profile: profile, rs: rs}, nil
}

// Profile returns the K/R configuration this decoder was built for.
func (d *BatchDecoder) Profile() Profile { return d.profile }

// Reconstruct fills in the nil entries of shards (len must equal
// K+R) in place.
func (d *BatchDecoder) Reconstruct(shards [][]byte) error {
	if len(shards) != d.profile.K+d.profile.R {
		return fmt.Errorf("fec: expected %d shards (k=%d + r=%d), got %d", d.profile.K+d.profile.R, d.profile.K, d.profile.R, len(shards))
	}

	missing := 0
	for _, s := range shards {
		if s == nil {
			missing++
		}
	}
	if missing == 0 {
		return nil
	}
	if missing > d.profile.R {
		return ErrUnrecoverable
	}

	if err := d.rs.Reconstruct(shards); err != nil {
		return fmt.Errorf("fec: reconstruction failed: %w", err)
	}
	return nil
}
