// Package config holds the tunables for the mesh file-transfer core.
//
// Defaults match the canonical constants named in the protocol
// specification so an embedder gets spec-compliant behavior without
// touching a single field.
package config

import "time"

// Config holds the tunables shared by ChunkEngine, TransferStateMachine
// and TransferManager. Zero-value Config is not usable; start from
// Default().
type Config struct {
	// ChunkSize is the canonical (non-adaptive) chunk size in bytes.
	ChunkSize int

	// TransportMTU bounds the ChunkEngine's adaptive chunk size: no
	// tier ever chooses a chunk larger than this, matching the
	// protocol's low-MTU mesh framing.
	TransportMTU int

	// MaxHops is the envelope TTL a freshly-created envelope starts with.
	MaxHops uint8

	// MaxActiveTransfers bounds the number of non-terminal transfers
	// the manager runs concurrently.
	MaxActiveTransfers int

	// WindowSizeDefault is the suggested sender window advertised in
	// ACKs absent any other signal.
	WindowSizeDefault uint16

	// RetransmitTimeout through MaxRetriesPerChunk record the protocol's
	// timing, ACK-coalescing and retry values. The statemachine package
	// does not read them: it uses its own constants of the same values.

	// RetransmitTimeout is how long an in-flight, unacknowledged chunk
	// waits before being resent.
	RetransmitTimeout time.Duration

	// StallTimeout fails a sender-side transfer that has a non-empty
	// in-flight set but receives no ACK for this long.
	StallTimeout time.Duration

	// AbandonTimeout fails a receiver-side transfer that receives no
	// CHUNK for this long while incomplete.
	AbandonTimeout time.Duration

	// AckCoalesceChunks is the number of newly-accepted chunks that
	// triggers an ACK even before AckCoalesceInterval elapses.
	AckCoalesceChunks int

	// AckCoalesceInterval is the maximum time the receiver waits
	// before emitting an ACK for newly accepted chunks.
	AckCoalesceInterval time.Duration

	// MaxRetriesPerChunk bounds retransmission attempts before a
	// sender gives up on a transfer.
	MaxRetriesPerChunk int

	// CompressionThreshold is the chunk payload size (bytes) above
	// which compression is attempted.
	CompressionThreshold int

	// CompressionMinSavingsPct is the minimum percentage reduction a
	// compressed payload must achieve to be kept.
	CompressionMinSavingsPct int

	// CacheCapacity bounds the number of entries in the shared LRU
	// chunk cache.
	CacheCapacity int

	// ConcurrentChunkWorkers bounds the parallel batch size used by
	// the ChunkEngine when producing chunks.
	ConcurrentChunkWorkers int

	// HistorySize bounds the terminal-transfer ring kept by the
	// manager for retry/observability purposes.
	HistorySize int

	// MaxTransferBytes rejects admission of a source larger than this
	// many bytes. Zero means unbounded.
	MaxTransferBytes int64

	// EventBufferSize bounds each subscriber's pending-event channel
	// in the manager's EventPublisher.
	EventBufferSize int
}

// Default returns the canonical configuration named in the
// specification's external-interfaces section.
func Default() Config {
	return Config{
		ChunkSize:                480,
		TransportMTU:             512,
		MaxHops:                  7,
		MaxActiveTransfers:       3,
		WindowSizeDefault:        10,
		RetransmitTimeout:        3 * time.Second,
		StallTimeout:             30 * time.Second,
		AbandonTimeout:           60 * time.Second,
		AckCoalesceChunks:        16,
		AckCoalesceInterval:      500 * time.Millisecond,
		MaxRetriesPerChunk:       5,
		CompressionThreshold:     10240,
		CompressionMinSavingsPct: 10,
		CacheCapacity:            50,
		ConcurrentChunkWorkers:   10,
		HistorySize:              100,
		MaxTransferBytes:         0,
		EventBufferSize:          32,
	}
}
