package statemachine

import (
	"sync"
	"time"

	"github.com/quantarax/meshxfer/internal/chunkengine"
	"github.com/quantarax/meshxfer/internal/codec"
)

// ReceiverMachine drives the receive-side lifecycle of one transfer:
// chunk verification and reassembly via a chunkengine.Reassembler,
// and ACK coalescing per the spec's 16-chunk/500ms rule.
type ReceiverMachine struct {
	Transfer    *Transfer
	Reassembler *chunkengine.Reassembler

	clock Clock

	mu            sync.Mutex
	newSinceAck   int
	lastAckAtMs   uint64
	lastChunkAtMs uint64
	sawLastChunk  bool
	ackRequested  bool
	errorCode     uint8
}

// NewReceiverMachine constructs a receiver machine on MANIFEST
// arrival for an unknown file_id.
func NewReceiverMachine(transfer *Transfer, reassembler *chunkengine.Reassembler, clock Clock) *ReceiverMachine {
	now := clock.NowMs()
	return &ReceiverMachine{
		Transfer:      transfer,
		Reassembler:   reassembler,
		clock:         clock,
		lastAckAtMs:   now,
		lastChunkAtMs: now,
	}
}

// Start transitions Preparing -> Transferring once the receive buffer
// and empty bitmap have been allocated.
func (r *ReceiverMachine) Start() error {
	return r.Transfer.TransitionTo(StatusTransferring, "", false)
}

// AcceptChunk verifies and stores an inbound chunk. A MAC failure or
// an index outside the declared total_chunks leaves the transfer's
// bitmap untouched and reports accepted=false without failing the
// transfer — the chunk is simply not acknowledged, so the sender
// retransmits.
func (r *ReceiverMachine) AcceptChunk(c *codec.Chunk) (accepted bool, err error) {
	if c.ChunkIndex >= r.Transfer.TotalChunks {
		return false, nil
	}

	accepted, err = r.Reassembler.AddChunk(c)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.lastChunkAtMs = r.clock.NowMs()
	if accepted {
		r.newSinceAck++
	}
	if c.IsLastChunk {
		r.sawLastChunk = true
	}
	r.mu.Unlock()

	if accepted {
		r.Transfer.setBitmap(codec.BitmapFromChunks(r.Reassembler.ReceivedChunks(), r.Transfer.TotalChunks))
	}
	return accepted, nil
}

// RequestAck marks that the peer asked for an out-of-band ACK (e.g.
// its own stall recovery), honored on the next ShouldEmitAck check.
func (r *ReceiverMachine) RequestAck() {
	r.mu.Lock()
	r.ackRequested = true
	r.mu.Unlock()
}

// ShouldEmitAck reports whether the coalescing conditions are met:
// ACK_COALESCE_CHUNKS new chunks since the last ACK, ACK_COALESCE_MS
// elapsed since the last ACK with new chunks pending, the chunk flagged
// is_last_chunk has been received (this stays set, so every later
// check also reports true), an explicit request arrived, or every
// chunk has been received.
func (r *ReceiverMachine) ShouldEmitAck() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ackRequested {
		return true
	}
	if r.sawLastChunk {
		return true
	}
	if r.newSinceAck >= AckCoalesceChunks {
		return true
	}
	elapsed := time.Duration(r.clock.NowMs()-r.lastAckAtMs) * time.Millisecond
	if r.newSinceAck > 0 && elapsed >= AckCoalesceWindow {
		return true
	}
	if r.Reassembler.IsComplete() {
		return true
	}
	return false
}

// BuildAck constructs the ACK to send now, marking transfer_complete
// when every chunk has been verified and the whole-file hash
// matches, and resets the coalescing counters.
func (r *ReceiverMachine) BuildAck(receiverID string, ackID string, windowSize uint16) *codec.Ack {
	bitmap := r.Transfer.Bitmap()
	complete := r.Reassembler.IsComplete()

	r.mu.Lock()
	r.newSinceAck = 0
	r.lastAckAtMs = r.clock.NowMs()
	r.ackRequested = false
	errCode := r.errorCode
	r.mu.Unlock()

	return &codec.Ack{
		FileID:           r.Transfer.TransferID,
		AckID:            ackID,
		ReceiverID:       receiverID,
		TotalReceived:    uint32(codec.PopCount(bitmap)),
		WindowSize:       windowSize,
		TimestampMs:      r.clock.NowMs(),
		TransferComplete: complete,
		ErrorCode:        errCode,
		Bitmap:           bitmap,
	}
}

// Finish completes the transfer once BuildAck reported completion,
// returning the reconstructed bytes.
func (r *ReceiverMachine) Finish(compression codec.CompressionType) ([]byte, error) {
	data, err := r.Reassembler.Finish(compression)
	if err != nil {
		r.Transfer.TransitionTo(StatusFailed, "hash_mismatch", true)
		return nil, err
	}
	if err := r.Transfer.TransitionTo(StatusCompleted, "", false); err != nil {
		return nil, err
	}
	return data, nil
}

// CheckAbandonment fails the transfer when no CHUNK has arrived for
// AbandonTimeout while it remains incomplete.
func (r *ReceiverMachine) CheckAbandonment() bool {
	r.mu.Lock()
	idle := time.Duration(r.clock.NowMs()-r.lastChunkAtMs) * time.Millisecond
	r.mu.Unlock()

	if r.Reassembler.IsComplete() {
		return false
	}
	if idle < AbandonTimeout {
		return false
	}
	r.Transfer.TransitionTo(StatusFailed, "abandoned", true)
	return true
}

// RejectConflict marks a MANIFEST re-arrival with differing content
// for the same file_id, per the spec's idempotent-MANIFEST rule.
func (r *ReceiverMachine) RejectConflict() {
	r.mu.Lock()
	r.errorCode = errorCodeConflict
	r.mu.Unlock()
}

// errorCodeConflict is the ACK error_code for a MANIFEST conflict.
const errorCodeConflict = 1
