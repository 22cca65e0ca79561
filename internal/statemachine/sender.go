package statemachine

import (
	"sync"
	"time"

	"github.com/quantarax/meshxfer/internal/codec"
)

type inFlightChunk struct {
	sentAtMs uint64
}

// SenderMachine drives the send-side lifecycle of one transfer: chunk
// emission bounded by window_size, ACK-driven bitmap reconciliation,
// and timeout-triggered retransmission or failure.
type SenderMachine struct {
	Transfer *Transfer

	clock      Clock
	windowSize uint16
	chunks     []*codec.Chunk // ordered by ChunkIndex, index == ChunkIndex

	mu          sync.Mutex
	inFlight    map[uint32]*inFlightChunk
	retryCounts map[uint32]uint8
	lastAckAtMs uint64
}

// NewSenderMachine constructs a sender machine for a Preparing
// transfer with its full ordered chunk set already produced.
func NewSenderMachine(transfer *Transfer, chunks []*codec.Chunk, windowSize uint16, clock Clock) *SenderMachine {
	if windowSize == 0 {
		windowSize = WindowSizeDefault
	}
	return &SenderMachine{
		Transfer:    transfer,
		clock:       clock,
		windowSize:  windowSize,
		chunks:      chunks,
		inFlight:    make(map[uint32]*inFlightChunk),
		retryCounts: make(map[uint32]uint8),
		lastAckAtMs: clock.NowMs(),
	}
}

// Start transitions Preparing -> Transferring once the MANIFEST has
// been emitted by the caller.
func (s *SenderMachine) Start() error {
	return s.Transfer.TransitionTo(StatusTransferring, "", false)
}

// NextChunksToSend selects chunks to emit this tick: the lowest
// indices not yet acknowledged and not already in flight, up to the
// window_size bound, and marks them in flight.
func (s *SenderMachine) NextChunksToSend() []*codec.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	bitmap := s.Transfer.Bitmap()
	now := s.clock.NowMs()

	var out []*codec.Chunk
	for _, c := range s.chunks {
		if len(s.inFlight)+len(out) >= int(s.windowSize) {
			break
		}
		if bitIsSet(bitmap, c.ChunkIndex) {
			continue
		}
		if _, busy := s.inFlight[c.ChunkIndex]; busy {
			continue
		}
		c.RetryCount = s.retryCounts[c.ChunkIndex]
		s.inFlight[c.ChunkIndex] = &inFlightChunk{sentAtMs: now}
		out = append(out, c)
	}
	return out
}

// ApplyAck folds an incoming ACK's bitmap into the transfer's
// reconstructed bitmap, clears acknowledged chunks from in-flight,
// and applies pause/cancel/completion signaling. ACK application is
// commutative and monotonic, so out-of-order ACKs are safe.
func (s *SenderMachine) ApplyAck(ack *codec.Ack) error {
	s.mu.Lock()
	merged := codec.UnionBitmaps(s.Transfer.Bitmap(), ack.Bitmap)
	s.mu.Unlock()
	s.Transfer.setBitmap(merged)

	s.mu.Lock()
	s.lastAckAtMs = s.clock.NowMs()
	for idx := range s.inFlight {
		if bitIsSet(merged, idx) {
			delete(s.inFlight, idx)
			delete(s.retryCounts, idx)
		}
	}
	s.mu.Unlock()

	switch {
	case ack.CancelTransfer:
		return s.Transfer.TransitionTo(StatusCancelled, "peer cancelled", false)
	case ack.PauseTransfer:
		return s.Transfer.TransitionTo(StatusPaused, "", false)
	case ack.ErrorCode != 0:
		return s.Transfer.TransitionTo(StatusFailed, "peer error", false)
	}

	k := codec.PopCount(merged)
	if uint32(k) == s.Transfer.TotalChunks && ack.TransferComplete {
		return s.Transfer.TransitionTo(StatusCompleted, "", false)
	}
	return nil
}

// Pause transitions Transferring to Paused on explicit manager
// request (distinct from a peer-requested pause via ACK flag).
func (s *SenderMachine) Pause() error {
	return s.Transfer.TransitionTo(StatusPaused, "", false)
}

// Resume transitions Paused back to Transferring on explicit manager
// request.
func (s *SenderMachine) Resume() error {
	return s.Transfer.TransitionTo(StatusTransferring, "", false)
}

// Cancel transitions the transfer to Cancelled from the sender side.
func (s *SenderMachine) Cancel() error {
	return s.Transfer.TransitionTo(StatusCancelled, "cancelled", false)
}

// TimeoutResult reports the outcome of a CheckTimeouts pass.
type TimeoutResult struct {
	Retransmit []*codec.Chunk
	Failed     bool
	Reason     string
}

// CheckTimeouts resends any chunk that has been in flight longer than
// RetxTimeout, failing the transfer after MaxRetriesPerChunk retries
// on the same chunk, and fails the whole transfer on a stall (no ACK
// for StallTimeout while chunks remain in flight).
func (s *SenderMachine) CheckTimeouts() TimeoutResult {
	s.mu.Lock()
	now := s.clock.NowMs()
	var toResend []uint32
	for idx, inf := range s.inFlight {
		age := time.Duration(now-inf.sentAtMs) * time.Millisecond
		if age < RetxTimeout {
			continue
		}
		s.retryCounts[idx]++
		if s.retryCounts[idx] > MaxRetriesPerChunk {
			s.mu.Unlock()
			s.Transfer.TransitionTo(StatusFailed, "retry_exhausted", true)
			return TimeoutResult{Failed: true, Reason: "retry_exhausted"}
		}
		inf.sentAtMs = now
		toResend = append(toResend, idx)
	}

	stalled := len(s.inFlight) > 0 && time.Duration(now-s.lastAckAtMs)*time.Millisecond >= StallTimeout
	s.mu.Unlock()

	if stalled {
		s.Transfer.TransitionTo(StatusFailed, "stalled", true)
		return TimeoutResult{Failed: true, Reason: "stalled"}
	}

	var out []*codec.Chunk
	for _, idx := range toResend {
		out = append(out, s.chunks[idx])
	}
	return TimeoutResult{Retransmit: out}
}

func bitIsSet(bitmap []byte, idx uint32) bool {
	byteIdx := idx / 8
	if int(byteIdx) >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<(idx%8)) != 0
}
