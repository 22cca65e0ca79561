// Package statemachine implements the per-transfer sender and
// receiver lifecycles: MANIFEST/CHUNK emission and ACK-driven
// retransmission on the send side, chunk verification and ACK
// coalescing on the receive side. Both sides share the same terminal
// vocabulary and transition discipline, grounded in the teacher's
// Session.TransitionTo validated state table.
package statemachine

import (
	"errors"
	"sync"
	"time"

	"github.com/quantarax/meshxfer/internal/codec"
)

// Canonical timing and window constants.
const (
	WindowSizeDefault  = 10
	RetxTimeout        = 3 * time.Second
	StallTimeout       = 30 * time.Second
	AbandonTimeout     = 60 * time.Second
	AckCoalesceChunks  = 16
	AckCoalesceWindow  = 500 * time.Millisecond
	MaxRetriesPerChunk = 5
)

// ErrInvalidTransition is returned when a caller requests a status
// change the transfer's current status doesn't allow.
var ErrInvalidTransition = errors.New("statemachine: invalid status transition")

// Status is a transfer's lifecycle status, shared by sender and
// receiver sub-machines.
type Status int

const (
	StatusPreparing Status = iota + 1
	StatusTransferring
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPreparing:
		return "PREPARING"
	case StatusTransferring:
		return "TRANSFERRING"
	case StatusPaused:
		return "PAUSED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Direction distinguishes the sender's and receiver's sub-machines
// sharing a transfer record.
type Direction int

const (
	DirectionSend Direction = iota + 1
	DirectionReceive
)

func (d Direction) String() string {
	if d == DirectionSend {
		return "SEND"
	}
	return "RECEIVE"
}

var validTransitions = map[Status][]Status{
	StatusPreparing:    {StatusTransferring, StatusFailed, StatusCancelled},
	StatusTransferring: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:       {StatusTransferring, StatusFailed, StatusCancelled},
	StatusCompleted:    {},
	StatusFailed:       {},
	StatusCancelled:    {},
}

// Transfer is the shared per-(peer, file_id) record; both sub-machines
// change its status only through TransitionTo.
type Transfer struct {
	TransferID     string // == Manifest.FileID
	Manifest       *codec.Manifest
	Direction      Direction
	PeerID         string
	PeerNickname   string
	TotalChunks    uint32
	PausedAtChunks uint32

	mu              sync.RWMutex
	status          Status
	failReason      string
	canRetry        bool
	bitmap          []byte
	lastActivity    time.Time
	startedAt       time.Time
	bytesDone       int64
	chunksDone      uint32
}

// NewTransfer constructs a transfer record in the Preparing status.
func NewTransfer(manifest *codec.Manifest, direction Direction, peerID, peerNickname string) *Transfer {
	now := time.Now()
	return &Transfer{
		TransferID:   manifest.FileID,
		Manifest:     manifest,
		Direction:    direction,
		PeerID:       peerID,
		PeerNickname: peerNickname,
		TotalChunks:  manifest.TotalChunks,
		status:       StatusPreparing,
		bitmap:       make([]byte, codec.BitmapByteLength(manifest.TotalChunks)),
		startedAt:    now,
		lastActivity: now,
	}
}

// TransitionTo validates and applies a status change, recording a
// failure reason when entering Failed.
func (t *Transfer) TransitionTo(newStatus Status, reason string, canRetry bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := validTransitions[t.status]
	ok := false
	for _, s := range allowed {
		if s == newStatus {
			ok = true
			break
		}
	}
	if !ok {
		return ErrInvalidTransition
	}

	t.status = newStatus
	t.lastActivity = time.Now()
	if newStatus == StatusFailed {
		t.failReason = reason
		t.canRetry = canRetry
	}
	return nil
}

// Status returns the current status (thread-safe snapshot).
func (t *Transfer) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// FailInfo returns the reason and retryability recorded on the most
// recent transition into Failed.
func (t *Transfer) FailInfo() (reason string, canRetry bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failReason, t.canRetry
}

// Bitmap returns a copy of the transfer's current completed-chunk
// bitmap.
func (t *Transfer) Bitmap() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]byte(nil), t.bitmap...)
}

// setBitmap replaces the transfer's bitmap and touches lastActivity.
func (t *Transfer) setBitmap(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bitmap = b
	t.chunksDone = uint32(codec.PopCount(b))
	t.lastActivity = time.Now()
}

// touch refreshes lastActivity without changing status.
func (t *Transfer) touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivity = time.Now()
}

func (t *Transfer) idleSince() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastActivity
}

// ProgressPercent returns completion as a 0-100 percentage.
func (t *Transfer) ProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.TotalChunks == 0 {
		return 0
	}
	return float64(t.chunksDone) / float64(t.TotalChunks) * 100
}

// BytesDone returns the sender/receiver's best estimate of bytes
// transferred so far, derived from chunk count and file size.
func (t *Transfer) BytesDone() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.TotalChunks == 0 {
		return int64(t.Manifest.FileSize)
	}
	return int64(uint64(t.chunksDone) * t.Manifest.FileSize / uint64(t.TotalChunks))
}
