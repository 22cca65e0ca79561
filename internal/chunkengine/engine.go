package chunkengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/quantarax/meshxfer/internal/codec"
)

// ErrSourceSizeUnknown is returned when a caller asks for adaptive
// sizing or total-chunk counts against a streaming source that never
// reported its length.
var ErrSourceSizeUnknown = errors.New("chunkengine: source size unknown")

// ErrHashMismatch is returned by Reassembler.Finish when the
// reconstructed file's SHA-256 does not match the manifest's declared
// hash.
var ErrHashMismatch = errors.New("chunkengine: reassembled file hash mismatch")

// ByteSource is the collaborator a sender reads file bytes from. It is
// named rather than concrete so callers can back it with an *os.File,
// an in-memory buffer, or a content-addressed store.
type ByteSource interface {
	// Size returns the total byte length, or -1 if unknown.
	Size() int64
	// ReadAt reads len(p) bytes starting at off, like io.ReaderAt.
	ReadAt(p []byte, off int64) (n int, err error)
}

// Options configures a ChunkEngine instance; fields mirror the
// relevant subset of config.Config so the engine does not need to
// import the whole daemon configuration.
type Options struct {
	DefaultChunkSize     int
	MTU                  int // transport MTU bound for adaptive sizing; <= 0 uses DefaultMTU
	ConcurrentWorkers    int
	CompressionThreshold int
	CompressionMinSaving int
	CacheCapacity        int
}

// Engine produces and reassembles chunks for transfers, backed by a
// bounded worker pool for batch production and an LRU cache for
// recently seen chunk payloads.
type Engine struct {
	opts     Options
	cache    *ChunkCache
	pressure *PressureMonitor
}

// New creates a chunk engine. pressure may be nil, in which case the
// engine always reports no memory pressure (useful in tests).
func New(opts Options, pressure *PressureMonitor) *Engine {
	if opts.ConcurrentWorkers <= 0 {
		opts.ConcurrentWorkers = 1
	}
	return &Engine{
		opts:     opts,
		cache:    NewChunkCache(opts.CacheCapacity),
		pressure: pressure,
	}
}

// Cache exposes the engine's chunk cache for retransmit lookups.
func (e *Engine) Cache() *ChunkCache { return e.cache }

// underPressure reports true if either pressure signal fires: the
// cache's own occupancy ratio (the protocol's primary, always-on
// check) or the host memory sample from PressureMonitor, when one is
// configured (a domain-stack addition layered on top, not a
// replacement). Either signal firing also clears the cache, the
// protocol's handle_memory_pressure() response.
func (e *Engine) underPressure() bool {
	pressure := e.cache.IsUnderPressure()
	if e.pressure != nil && e.pressure.IsUnderPressure() {
		pressure = true
	}
	if pressure {
		e.cache.Clear()
	}
	return pressure
}

// UnderPressure reports the engine's current memory pressure signal
// (cache occupancy, and host memory when a PressureMonitor is
// configured), for health/metrics reporting outside the chunking
// path.
func (e *Engine) UnderPressure() bool { return e.underPressure() }

// HandleMemoryPressure clears the chunk cache directly, for callers
// that want to react to an externally observed pressure signal
// without going through UnderPressure's combined check.
func (e *Engine) HandleMemoryPressure() { e.cache.Clear() }

// ChunkSizeFor returns the chunk size the engine would use for a
// transfer of the given size right now, accounting for observed
// memory pressure.
func (e *Engine) ChunkSizeFor(fileSize int64) int {
	return PressureAdjustedChunkSize(fileSize, e.opts.DefaultChunkSize, e.opts.MTU, e.underPressure())
}

// ProducedChunk is one chunk ready to place on the wire, plus the
// plaintext payload the engine cached for retransmits.
type ProducedChunk struct {
	Chunk   *codec.Chunk
	Payload []byte // pre-compression bytes, also placed in the chunk cache; the MAC covers Chunk.Payload
}

// ProduceAll reads src end-to-end and returns every chunk for the
// transfer, produced concurrently across opts.ConcurrentWorkers
// workers and returned in ascending chunk_index order. compression is
// codec.CompressionNone to disable it.
func (e *Engine) ProduceAll(ctx context.Context, fileID string, src ByteSource, compression codec.CompressionType) ([]ProducedChunk, error) {
	size := src.Size()
	if size < 0 {
		return nil, ErrSourceSizeUnknown
	}

	chunkSize := e.ChunkSizeFor(size)
	total := TotalChunks(size, chunkSize)
	macKey := DeriveMACKey(fileID)

	results := make([]ProducedChunk, total)
	errs := make([]error, total)

	indices := make(chan uint32)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indices {
			select {
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				continue
			default:
			}

			offset := int64(idx) * int64(chunkSize)
			remaining := size - offset
			n := int64(chunkSize)
			if remaining < n {
				n = remaining
			}
			if n < 0 {
				n = 0
			}

			buf := make([]byte, n)
			if n > 0 {
				if _, err := src.ReadAt(buf, offset); err != nil && err != io.EOF {
					errs[idx] = fmt.Errorf("read chunk %d: %w", idx, err)
					continue
				}
			}

			payload := buf
			compressedPayload, applied, cerr := ShouldCompress(buf, e.opts.CompressionThreshold, e.opts.CompressionMinSaving, compression)
			if cerr != nil {
				errs[idx] = fmt.Errorf("compress chunk %d: %w", idx, cerr)
				continue
			}
			wirePayload := buf
			if applied {
				wirePayload = compressedPayload
			}

			c := &codec.Chunk{
				FileID:             fileID,
				ChunkIndex:         idx,
				ChunkSequence:      idx,
				IsLastChunk:        idx == total-1,
				CompressionApplied: applied,
				Payload:            wirePayload,
			}
			c.MAC = ComputeMAC(macKey, wirePayload)

			results[idx] = ProducedChunk{Chunk: c, Payload: payload}
			e.cache.Put(CacheEntry{FileID: fileID, ChunkIndex: idx, Payload: payload})
		}
	}

	workerCount := e.opts.ConcurrentWorkers
	if uint32(workerCount) > total && total > 0 {
		workerCount = int(total)
	}
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go worker()
	}

	for i := uint32(0); i < total; i++ {
		indices <- i
	}
	close(indices)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

// Reassembler accumulates received chunks for one transfer, tolerating
// duplicates and out-of-order arrival, and verifies the whole-file
// SHA-256 once every chunk has arrived.
type Reassembler struct {
	mu          sync.Mutex
	fileID      string
	macKey      [32]byte
	totalChunks uint32
	expectHash  string
	received    map[uint32]receivedChunk
}

type receivedChunk struct {
	payload     []byte
	compressed  bool
}

// NewReassembler starts a reassembler for a manifest-declared transfer.
func NewReassembler(fileID string, totalChunks uint32, expectedSHA256Hex string) *Reassembler {
	return &Reassembler{
		fileID:      fileID,
		macKey:      DeriveMACKey(fileID),
		totalChunks: totalChunks,
		expectHash:  expectedSHA256Hex,
		received:    make(map[uint32]receivedChunk),
	}
}

// ErrMACInvalid is returned by AddChunk when a chunk's MAC does not
// verify under the derived per-transfer key.
var ErrMACInvalid = errors.New("chunkengine: chunk MAC verification failed")

// AddChunk verifies and stores one received chunk. Re-adding a chunk
// index already stored is a no-op that returns (false, nil) — receipt
// idempotence, not an error. The payload is stored as received, along
// with the chunk's CompressionApplied flag, which Finish uses to decide
// whether to decompress it.
func (r *Reassembler) AddChunk(c *codec.Chunk) (accepted bool, err error) {
	if !VerifyMAC(r.macKey, c.Payload, c.MAC) {
		return false, ErrMACInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.received[c.ChunkIndex]; dup {
		return false, nil
	}
	r.received[c.ChunkIndex] = receivedChunk{
		payload:    append([]byte(nil), c.Payload...),
		compressed: c.CompressionApplied,
	}
	return true, nil
}

// ReceivedChunks reports the set of chunk indices accepted so far.
func (r *Reassembler) ReceivedChunks() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint32, 0, len(r.received))
	for idx := range r.received {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsComplete reports whether every chunk in [0, totalChunks) has been
// received.
func (r *Reassembler) IsComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint32(len(r.received)) >= r.totalChunks
}

// Finish concatenates chunks in order, decompressing per-chunk as
// declared, and verifies the result against the manifest's SHA-256.
// It does not consume compressedKind from the manifest directly;
// callers pass whatever CompressionType the manifest declared so each
// chunk can be decompressed with the same algorithm it was produced
// with (the chunk's own CompressionApplied flag decides whether to
// invoke it at all).
func (r *Reassembler) Finish(compressedKind codec.CompressionType) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint32(len(r.received)) < r.totalChunks {
		return nil, fmt.Errorf("chunkengine: incomplete transfer, have %d of %d chunks", len(r.received), r.totalChunks)
	}

	hasher := NewWholeFileHasher()
	var out []byte
	for i := uint32(0); i < r.totalChunks; i++ {
		rc, ok := r.received[i]
		if !ok {
			return nil, fmt.Errorf("chunkengine: missing chunk %d at reassembly", i)
		}
		payload := rc.payload
		if rc.compressed {
			decompressed, err := Decompress(compressedKind, payload)
			if err != nil {
				return nil, fmt.Errorf("chunkengine: decompress chunk %d: %w", i, err)
			}
			payload = decompressed
		}
		hasher.Write(payload)
		out = append(out, payload...)
	}

	if r.expectHash != "" && hasher.SumHex() != r.expectHash {
		return nil, ErrHashMismatch
	}

	return out, nil
}
