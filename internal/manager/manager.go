// Package manager implements TransferManager: admission, priority
// scheduling, concurrency bounding, and progress aggregation across
// many concurrent transfers, plus the inbound envelope demux that
// routes arriving MANIFEST/CHUNK/ACK/CHUNK_HAVE frames to the right
// per-transfer handler. The manager owns no goroutines of its own;
// callers drive it with Tick, mirroring the protocol's stated
// concurrency model of a worker pool plus a timer source rather than
// a thread per transfer.
package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/quantarax/meshxfer/internal/chunkengine"
	"github.com/quantarax/meshxfer/internal/codec"
	"github.com/quantarax/meshxfer/internal/config"
	"github.com/quantarax/meshxfer/internal/observability"
	"github.com/quantarax/meshxfer/internal/ratelimit"
	"github.com/quantarax/meshxfer/internal/statemachine"
	"github.com/google/uuid"
)

// ErrSourceUnreadable is returned by Queue when the source cannot be
// read for the eager SHA-256 pass.
var ErrSourceUnreadable = errors.New("manager: source unreadable")

// ErrUnknownTransfer is returned by the public operations when no
// queued, active, or historical record matches the given transfer ID.
var ErrUnknownTransfer = errors.New("manager: unknown transfer id")

// ErrNotRetryable is returned by Retry when the transfer's history
// record has can_retry=false.
var ErrNotRetryable = errors.New("manager: transfer is not retryable")

// ackIDSize mirrors codec's unexported ackIDSize (16 bytes), the
// fixed-token width ack_id is truncated/padded to on the wire.
const ackIDSize = 16

// maxConsecutiveChunkFailures bounds how many times the same
// chunk_index may fail MAC verification in a row before the receiver
// gives up on the transfer rather than waiting indefinitely for a
// sender that keeps retransmitting a corrupt chunk.
const maxConsecutiveChunkFailures = 5

// Transport is the fire-and-forget send path the manager emits
// envelopes over. Named locally (rather than imported from
// internal/transport) to avoid a dependency cycle risk between the
// two packages as either evolves independently.
type Transport interface {
	Send(envelope []byte, to string) error
}

// ByteSink receives a completed receive-side transfer's reconstructed
// bytes, filename, and MIME type.
type ByteSink interface {
	Write(fileName, mimeType string, data []byte) error
}

// HistoryRecord is one bounded-ring entry recording a transfer's
// terminal outcome.
type HistoryRecord struct {
	TransferID   string
	FileName     string
	PeerID       string
	Direction    statemachine.Direction
	Status       statemachine.Status
	Reason       string
	CanRetry     bool
	TotalChunks  uint32
	BytesDone    int64
	CompletedAt  time.Time
	retryPayload *retryPayload // nil for receive-side or non-retryable records
}

type retryPayload struct {
	source       chunkengine.ByteSource
	peerID       string
	peerNickname string
	priority     codec.Priority
	compression  codec.CompressionType
	mimeType     string
}

// sendEntry is one send-side transfer, either queued (sender == nil)
// or active (sender != nil, after ChunkEngine production).
type sendEntry struct {
	transferID   string
	manifest     *codec.Manifest
	source       chunkengine.ByteSource
	peerID       string
	peerNickname string
	priority     codec.Priority
	compression  codec.CompressionType
	mimeType     string
	enqueueSeq   uint64

	transfer *statemachine.Transfer
	sender   *statemachine.SenderMachine
	span     *observability.TransferSpan

	lastRateSampleAt uint64
	lastBytesDone    int64
	rateBps          float64
}

// receiveEntry is one receive-side transfer, created on MANIFEST
// arrival.
type receiveEntry struct {
	transfer    *statemachine.Transfer
	receiver    *statemachine.ReceiverMachine
	manifest    *codec.Manifest
	compression codec.CompressionType
	span        *observability.TransferSpan

	// macFailures counts consecutive MAC-verification failures per
	// chunk_index, reset whenever that index is later accepted.
	macFailures map[uint32]int
}

// TransferManager is the single admission/scheduling/progress owner
// for every transfer a peer is sending or receiving.
type TransferManager struct {
	cfg       config.Config
	engine    *chunkengine.Engine
	transport Transport
	sink      ByteSink
	clock     statemachine.Clock
	selfID    string
	logger    *observability.Logger

	Events  *EventPublisher
	metrics *observability.Metrics
	tracer  *observability.Tracer

	admissionPacer *ratelimit.Pacer

	mu          sync.Mutex
	seq         uint64
	queued      []*sendEntry
	active      map[string]*sendEntry
	receiving   map[string]*receiveEntry
	history     []HistoryRecord
	historyHead int
}

// New constructs a TransferManager. logger may be nil to disable
// logging (tests).
func New(cfg config.Config, engine *chunkengine.Engine, transport Transport, sink ByteSink, clock statemachine.Clock, selfID string, logger *observability.Logger) *TransferManager {
	if clock == nil {
		clock = statemachine.SystemClock{}
	}
	return &TransferManager{
		cfg:            cfg,
		engine:         engine,
		transport:      transport,
		sink:           sink,
		clock:          clock,
		selfID:         selfID,
		logger:         logger,
		Events:         NewEventPublisher(cfg.EventBufferSize),
		admissionPacer: ratelimit.NewPacer(float64(cfg.MaxActiveTransfers), cfg.MaxActiveTransfers),
		active:         make(map[string]*sendEntry),
		receiving:      make(map[string]*receiveEntry),
		history:        make([]HistoryRecord, 0, cfg.HistorySize),
	}
}

// Queue admits a new send-side transfer: it eagerly computes the
// source's SHA-256, builds the MANIFEST, and inserts it into the
// priority-ordered queued list. Returns ("", false) iff the source is
// unreadable or exceeds the configured maximum size; chunk production
// itself is deferred to promotion, keeping an unbounded queue cheap.
func (m *TransferManager) Queue(source chunkengine.ByteSource, fileName, mimeType string, peerID, peerNickname string, priority codec.Priority, compression codec.CompressionType) (string, bool) {
	size := source.Size()
	if size < 0 {
		return "", false
	}
	if m.cfg.MaxTransferBytes > 0 && size > m.cfg.MaxTransferBytes {
		return "", false
	}

	sum, err := streamingSHA256(source, size)
	if err != nil {
		return "", false
	}

	chunkSize := m.engine.ChunkSizeFor(size)
	totalChunks := chunkengine.TotalChunks(size, chunkSize)
	fileID := truncateToken(uuid.NewString(), codec.FileIDSize)

	manifest := &codec.Manifest{
		FileID:      fileID,
		FileName:    fileName,
		FileSize:    uint64(size),
		TotalChunks: totalChunks,
		SHA256Hash:  sum,
		SenderID:    m.selfID,
		TimestampMs: m.clock.NowMs(),
		Priority:    priority,
	}
	if mimeType != "" {
		manifest.MimeType = mimeType
		manifest.HasMimeType = true
	}
	if compression != codec.CompressionNone {
		manifest.CompressionType = compression
		manifest.HasCompressionType = true
	}

	entry := &sendEntry{
		transferID:   fileID,
		manifest:     manifest,
		source:       source,
		peerID:       peerID,
		peerNickname: peerNickname,
		priority:     priority,
		compression:  compression,
		mimeType:     mimeType,
	}

	m.mu.Lock()
	m.seq++
	entry.enqueueSeq = m.seq
	m.queued = append(m.queued, entry)
	sortQueued(m.queued)
	depth := len(m.queued)
	m.mu.Unlock()

	m.Events.PublishQueued(fileID, int(priority), depth)
	if m.logger != nil {
		m.logger.TransferQueued(fileID, int(priority), depth)
	}
	return fileID, true
}

// sortQueued orders by (priority descending, enqueue_time ascending).
func sortQueued(q []*sendEntry) {
	sort.SliceStable(q, func(i, j int) bool {
		if q[i].priority != q[j].priority {
			return q[i].priority > q[j].priority
		}
		return q[i].enqueueSeq < q[j].enqueueSeq
	})
}

// Tick drives the manager: promotes queued transfers into free slots,
// emits due chunks/ACKs for active transfers, applies timeouts, and
// retires terminal transfers into history. Callers invoke it on a
// regular interval (e.g. every RetransmitTimeout/2); it never blocks.
func (m *TransferManager) Tick() {
	m.promote()

	m.mu.Lock()
	sendIDs := make([]string, 0, len(m.active))
	for id := range m.active {
		sendIDs = append(sendIDs, id)
	}
	m.mu.Unlock()
	sort.SliceStable(sendIDs, func(i, j int) bool {
		a, b := m.active[sendIDs[i]], m.active[sendIDs[j]]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.enqueueSeq < b.enqueueSeq
	})

	for _, id := range sendIDs {
		m.pumpSend(id)
	}

	m.mu.Lock()
	receiveIDs := make([]string, 0, len(m.receiving))
	for id := range m.receiving {
		receiveIDs = append(receiveIDs, id)
	}
	m.mu.Unlock()
	for _, id := range receiveIDs {
		m.pumpReceive(id)
	}

	m.publishGlobalProgress()
}

func (m *TransferManager) promote() {
	for {
		m.mu.Lock()
		if len(m.active) >= m.cfg.MaxActiveTransfers || len(m.queued) == 0 {
			m.mu.Unlock()
			return
		}
		if !m.admissionPacer.Allow(1) {
			m.mu.Unlock()
			return
		}
		entry := m.queued[0]
		m.queued = m.queued[1:]
		m.mu.Unlock()

		if err := m.activate(entry); err != nil {
			if m.logger != nil {
				m.logger.Error(err, "transfer activation failed")
			}
			m.appendHistory(HistoryRecord{
				TransferID:  entry.transferID,
				FileName:    entry.manifest.FileName,
				PeerID:      entry.peerID,
				Direction:   statemachine.DirectionSend,
				Status:      statemachine.StatusFailed,
				Reason:      "activation_failed",
				CanRetry:    true,
				TotalChunks: entry.manifest.TotalChunks,
				CompletedAt: time.Now(),
				retryPayload: &retryPayload{
					source: entry.source, peerID: entry.peerID, peerNickname: entry.peerNickname,
					priority: entry.priority, compression: entry.compression, mimeType: entry.mimeType,
				},
			})
			m.Events.PublishFailed(entry.transferID, "activation_failed", true)
			continue
		}
	}
}

func (m *TransferManager) activate(entry *sendEntry) error {
	produced, err := m.engine.ProduceAll(context.Background(), entry.transferID, entry.source, entry.compression)
	if err != nil {
		return fmt.Errorf("produce chunks: %w", err)
	}
	chunks := make([]*codec.Chunk, len(produced))
	for i, p := range produced {
		chunks[i] = p.Chunk
	}

	transfer := statemachine.NewTransfer(entry.manifest, statemachine.DirectionSend, entry.peerID, entry.peerNickname)
	sender := statemachine.NewSenderMachine(transfer, chunks, m.cfg.WindowSizeDefault, m.clock)
	if err := sender.Start(); err != nil {
		return fmt.Errorf("start sender: %w", err)
	}

	entry.transfer = transfer
	entry.sender = sender
	entry.lastRateSampleAt = m.clock.NowMs()
	if m.tracer != nil {
		_, entry.span = m.tracer.StartTransfer(context.Background(), entry.transferID, entry.peerID, "send")
	}

	m.mu.Lock()
	m.active[entry.transferID] = entry
	m.mu.Unlock()

	envelope := codec.NewEnvelope(codec.MessageTypeManifest, m.selfID, nil, entry.manifest.Encode(), m.clock.NowMs(), m.cfg.MaxHops)
	_ = m.transport.Send(envelope.Encode(), entry.peerID)

	if m.metrics != nil {
		m.metrics.RecordTransferStart()
	}
	m.Events.PublishStarted(entry.transferID, entry.manifest.FileName, int64(entry.manifest.FileSize))
	if m.logger != nil {
		m.logger.TransferStarted(entry.transferID, int64(entry.manifest.FileSize), int(entry.manifest.TotalChunks))
	}
	return nil
}

func (m *TransferManager) pumpSend(transferID string) {
	m.mu.Lock()
	entry, ok := m.active[transferID]
	m.mu.Unlock()
	if !ok {
		return
	}

	for _, c := range entry.sender.NextChunksToSend() {
		env := codec.NewEnvelope(codec.MessageTypeChunk, m.selfID, nil, c.Encode(), m.clock.NowMs(), m.cfg.MaxHops)
		_ = m.transport.Send(env.Encode(), entry.peerID)
		if m.logger != nil {
			m.logger.ChunkSent(transferID, c.ChunkIndex, len(c.Payload), c.RetryCount)
		}
		if m.metrics != nil {
			m.metrics.RecordChunkSent(len(c.Payload))
		}
	}

	result := entry.sender.CheckTimeouts()
	for _, c := range result.Retransmit {
		env := codec.NewEnvelope(codec.MessageTypeChunk, m.selfID, nil, c.Encode(), m.clock.NowMs(), m.cfg.MaxHops)
		_ = m.transport.Send(env.Encode(), entry.peerID)
		if m.metrics != nil {
			m.metrics.RecordChunkRetransmit(result.Reason)
		}
	}

	m.sampleRate(entry)

	status := entry.transfer.Status()
	if isTerminal(status) {
		m.retireSend(entry)
	} else {
		m.Events.PublishProgress(transferID, entry.transfer.ProgressPercent())
	}
}

func (m *TransferManager) sampleRate(entry *sendEntry) {
	now := m.clock.NowMs()
	elapsedMs := now - entry.lastRateSampleAt
	if elapsedMs == 0 {
		return
	}
	done := entry.transfer.BytesDone()
	deltaBytes := done - entry.lastBytesDone
	entry.rateBps = float64(deltaBytes) / (float64(elapsedMs) / 1000.0)
	entry.lastRateSampleAt = now
	entry.lastBytesDone = done
}

// TransferRate returns the sender's most recent bytes/sec estimate
// for transferID, or 0 if unknown.
func (m *TransferManager) TransferRate(transferID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active[transferID]; ok {
		return e.rateBps
	}
	return 0
}

// EstimatedTimeRemaining returns the sender's ETA in seconds for
// transferID given its current rate estimate, or 0 if unknown.
func (m *TransferManager) EstimatedTimeRemaining(transferID string) int64 {
	m.mu.Lock()
	e, ok := m.active[transferID]
	m.mu.Unlock()
	if !ok || e.rateBps <= 0 {
		return 0
	}
	remaining := float64(e.manifest.FileSize) - float64(e.transfer.BytesDone())
	if remaining <= 0 {
		return 0
	}
	return int64(remaining / e.rateBps)
}

func (m *TransferManager) pumpReceive(transferID string) {
	m.mu.Lock()
	entry, ok := m.receiving[transferID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if entry.receiver.CheckAbandonment() {
		m.retireReceive(transferID, entry)
		return
	}

	if entry.receiver.ShouldEmitAck() {
		ack := entry.receiver.BuildAck(m.selfID, truncateToken(uuid.NewString(), ackIDSize), m.cfg.WindowSizeDefault)
		env := codec.NewEnvelope(codec.MessageTypeAck, m.selfID, nil, ack.Encode(), m.clock.NowMs(), m.cfg.MaxHops)
		_ = m.transport.Send(env.Encode(), entry.transfer.PeerID)

		if ack.TransferComplete {
			data, err := entry.receiver.Finish(entry.compression)
			if err != nil {
				if m.logger != nil {
					m.logger.Error(err, "reassembly failed")
				}
				m.retireReceive(transferID, entry)
				return
			}
			mimeType := ""
			if entry.manifest.HasMimeType {
				mimeType = entry.manifest.MimeType
			}
			if m.sink != nil {
				_ = m.sink.Write(entry.manifest.FileName, mimeType, data)
			}
			m.retireReceive(transferID, entry)
			return
		}
	}
	m.Events.PublishProgress(transferID, entry.transfer.ProgressPercent())
}

func (m *TransferManager) retireSend(entry *sendEntry) {
	m.mu.Lock()
	delete(m.active, entry.transferID)
	m.mu.Unlock()

	status := entry.transfer.Status()
	reason, canRetry := entry.transfer.FailInfo()
	if entry.span != nil {
		entry.span.End(status.String(), reason)
	}
	rec := HistoryRecord{
		TransferID:  entry.transferID,
		FileName:    entry.manifest.FileName,
		PeerID:      entry.peerID,
		Direction:   statemachine.DirectionSend,
		Status:      status,
		Reason:      reason,
		CanRetry:    canRetry,
		TotalChunks: entry.manifest.TotalChunks,
		BytesDone:   entry.transfer.BytesDone(),
		CompletedAt: time.Now(),
	}
	if canRetry {
		rec.retryPayload = &retryPayload{
			source: entry.source, peerID: entry.peerID, peerNickname: entry.peerNickname,
			priority: entry.priority, compression: entry.compression, mimeType: entry.mimeType,
		}
	}
	m.appendHistory(rec)
	m.publishTerminal(entry.transferID, status, reason, canRetry)
}

func (m *TransferManager) retireReceive(transferID string, entry *receiveEntry) {
	m.mu.Lock()
	delete(m.receiving, transferID)
	m.mu.Unlock()

	status := entry.transfer.Status()
	reason, canRetry := entry.transfer.FailInfo()
	if entry.span != nil {
		entry.span.End(status.String(), reason)
	}
	m.appendHistory(HistoryRecord{
		TransferID:  transferID,
		FileName:    entry.manifest.FileName,
		PeerID:      entry.transfer.PeerID,
		Direction:   statemachine.DirectionReceive,
		Status:      status,
		Reason:      reason,
		CanRetry:    canRetry,
		TotalChunks: entry.manifest.TotalChunks,
		BytesDone:   entry.transfer.BytesDone(),
		CompletedAt: time.Now(),
	})
	m.publishTerminal(transferID, status, reason, canRetry)
}

func (m *TransferManager) publishTerminal(transferID string, status statemachine.Status, reason string, canRetry bool) {
	if m.metrics != nil {
		m.metrics.RecordTransferComplete(status.String(), 0)
	}
	switch status {
	case statemachine.StatusCompleted:
		m.Events.PublishCompleted(transferID, 0)
		if m.logger != nil {
			m.logger.TransferCompleted(transferID, 0, 0, true)
		}
	case statemachine.StatusFailed:
		m.Events.PublishFailed(transferID, reason, canRetry)
		if m.logger != nil {
			m.logger.TransferFailed(transferID, reason)
		}
	case statemachine.StatusCancelled:
		m.Events.PublishCancelled(transferID)
	}
}

func (m *TransferManager) appendHistory(rec HistoryRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) < m.cfg.HistorySize {
		m.history = append(m.history, rec)
		return
	}
	m.history[m.historyHead] = rec
	m.historyHead = (m.historyHead + 1) % m.cfg.HistorySize
}

// History returns a snapshot of the bounded terminal-transfer ring, in
// insertion order (oldest first).
func (m *TransferManager) History() []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryRecord, len(m.history))
	if len(m.history) < m.cfg.HistorySize {
		copy(out, m.history)
		return out
	}
	n := copy(out, m.history[m.historyHead:])
	copy(out[n:], m.history[:m.historyHead])
	return out
}

// GlobalProgress returns the mean progress percentage across all
// active (send- and receive-side) transfers, recomputed on demand.
func (m *TransferManager) GlobalProgress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := len(m.active) + len(m.receiving)
	if count == 0 {
		return 0
	}
	var sum float64
	for _, e := range m.active {
		sum += e.transfer.ProgressPercent()
	}
	for _, e := range m.receiving {
		sum += e.transfer.ProgressPercent()
	}
	return sum / float64(count)
}

// ActiveCount returns the number of send-side transfers currently
// occupying an admission slot.
func (m *TransferManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// QueuedCount returns the number of transfers waiting for an
// admission slot.
func (m *TransferManager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// MaxActiveTransfers returns the configured admission concurrency
// bound, for health/metrics reporting.
func (m *TransferManager) MaxActiveTransfers() int {
	return m.cfg.MaxActiveTransfers
}

// SetMetrics attaches a Prometheus metrics recorder; nil (the
// default) disables metrics recording entirely.
func (m *TransferManager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// SetTracer attaches an OpenTelemetry tracer that emits one span per
// transfer; nil (the default) disables tracing entirely.
func (m *TransferManager) SetTracer(tracer *observability.Tracer) {
	m.tracer = tracer
}

// publishGlobalProgress emits a sentinel TransferEvent for
// global-progress subscribers: empty TransferID, since it describes
// the whole manager rather than one transfer.
func (m *TransferManager) publishGlobalProgress() {
	m.Events.Publish(&TransferEvent{
		TransferID:      "",
		EventType:       EventProgress,
		Timestamp:       time.Now(),
		ProgressPercent: m.GlobalProgress(),
	})
}

// Cancel transitions transferID to Cancelled, whether queued or
// active, synchronously from the caller's perspective.
func (m *TransferManager) Cancel(transferID string) error {
	m.mu.Lock()
	for i, e := range m.queued {
		if e.transferID == transferID {
			m.queued = append(m.queued[:i:i], m.queued[i+1:]...)
			m.mu.Unlock()
			m.appendHistory(HistoryRecord{TransferID: transferID, FileName: e.manifest.FileName, PeerID: e.peerID, Direction: statemachine.DirectionSend, Status: statemachine.StatusCancelled, CompletedAt: time.Now()})
			m.Events.PublishCancelled(transferID)
			return nil
		}
	}
	if e, ok := m.active[transferID]; ok {
		m.mu.Unlock()
		if err := e.sender.Cancel(); err != nil {
			return err
		}
		cancelAck := &codec.Ack{FileID: transferID, ReceiverID: m.selfID, CancelTransfer: true, TimestampMs: m.clock.NowMs()}
		env := codec.NewEnvelope(codec.MessageTypeAck, m.selfID, nil, cancelAck.Encode(), m.clock.NowMs(), m.cfg.MaxHops)
		_ = m.transport.Send(env.Encode(), e.peerID)
		m.retireSend(e)
		return nil
	}
	if e, ok := m.receiving[transferID]; ok {
		m.mu.Unlock()
		e.transfer.TransitionTo(statemachine.StatusCancelled, "cancelled", false)
		m.retireReceive(transferID, e)
		return nil
	}
	m.mu.Unlock()
	return ErrUnknownTransfer
}

// Pause transitions an active transfer (send or receive side) to
// Paused.
func (m *TransferManager) Pause(transferID string) error {
	m.mu.Lock()
	if e, ok := m.active[transferID]; ok {
		m.mu.Unlock()
		err := e.sender.Pause()
		if err == nil {
			m.Events.PublishPaused(transferID)
		}
		return err
	}
	if e, ok := m.receiving[transferID]; ok {
		m.mu.Unlock()
		err := e.transfer.TransitionTo(statemachine.StatusPaused, "", false)
		if err == nil {
			m.Events.PublishPaused(transferID)
		}
		return err
	}
	m.mu.Unlock()
	return ErrUnknownTransfer
}

// Resume transitions a Paused transfer back to Transferring.
func (m *TransferManager) Resume(transferID string) error {
	m.mu.Lock()
	if e, ok := m.active[transferID]; ok {
		m.mu.Unlock()
		err := e.sender.Resume()
		if err == nil {
			m.Events.PublishResumed(transferID)
		}
		return err
	}
	if e, ok := m.receiving[transferID]; ok {
		m.mu.Unlock()
		err := e.transfer.TransitionTo(statemachine.StatusTransferring, "", false)
		if err == nil {
			m.Events.PublishResumed(transferID)
		}
		return err
	}
	m.mu.Unlock()
	return ErrUnknownTransfer
}

// Retry re-admits a transfer whose most recent history record has
// CanRetry set, using the original source. It returns the *new*
// transfer ID (retrying always re-queues as a fresh admission, since
// the old transfer's identity is retired).
func (m *TransferManager) Retry(transferID string) (string, error) {
	m.mu.Lock()
	var rec *HistoryRecord
	for i := range m.history {
		if m.history[i].TransferID == transferID {
			rec = &m.history[i]
			break
		}
	}
	m.mu.Unlock()

	if rec == nil {
		return "", ErrUnknownTransfer
	}
	if !rec.CanRetry || rec.retryPayload == nil {
		return "", ErrNotRetryable
	}

	p := rec.retryPayload
	newID, ok := m.Queue(p.source, rec.FileName, p.mimeType, p.peerID, p.peerNickname, p.priority, p.compression)
	if !ok {
		return "", ErrSourceUnreadable
	}
	return newID, nil
}

// OnEnvelope decodes an inbound envelope and routes its payload to
// the matching send- or receive-side handler. Malformed or
// unrecognized frames are dropped silently, never propagated as an
// error to the transport layer.
func (m *TransferManager) OnEnvelope(envelopeBytes []byte) {
	env, err := codec.DecodeEnvelope(envelopeBytes)
	if err != nil {
		return
	}
	switch env.Type {
	case codec.MessageTypeManifest:
		m.onManifest(env)
	case codec.MessageTypeChunk:
		m.onChunk(env)
	case codec.MessageTypeAck:
		m.onAck(env)
	case codec.MessageTypeChunkHave:
		m.onChunkHave(env)
	}
}

func (m *TransferManager) onManifest(env *codec.Envelope) {
	manifest, err := codec.DecodeManifest(env.Payload)
	if err != nil {
		return
	}

	m.mu.Lock()
	existing, conflict := m.receiving[manifest.FileID]
	m.mu.Unlock()
	if conflict {
		if existing.manifest.SHA256Hash != manifest.SHA256Hash {
			existing.receiver.RejectConflict()
		}
		return
	}

	transfer := statemachine.NewTransfer(manifest, statemachine.DirectionReceive, env.SenderID, "")
	reassembler := chunkengine.NewReassembler(manifest.FileID, manifest.TotalChunks, manifest.SHA256Hash)
	receiver := statemachine.NewReceiverMachine(transfer, reassembler, m.clock)
	if err := receiver.Start(); err != nil {
		return
	}

	compression := codec.CompressionNone
	if manifest.HasCompressionType {
		compression = manifest.CompressionType
	}

	recvEntry := &receiveEntry{
		transfer:    transfer,
		receiver:    receiver,
		manifest:    manifest,
		compression: compression,
		macFailures: make(map[uint32]int),
	}
	if m.tracer != nil {
		_, recvEntry.span = m.tracer.StartTransfer(context.Background(), manifest.FileID, env.SenderID, "receive")
	}

	m.mu.Lock()
	m.receiving[manifest.FileID] = recvEntry
	m.mu.Unlock()

	m.Events.PublishStarted(manifest.FileID, manifest.FileName, int64(manifest.FileSize))
	if m.logger != nil {
		m.logger.TransferStarted(manifest.FileID, int64(manifest.FileSize), int(manifest.TotalChunks))
	}
}

func (m *TransferManager) onChunk(env *codec.Envelope) {
	c, err := codec.DecodeChunk(env.Payload)
	if err != nil {
		return
	}
	m.mu.Lock()
	entry, ok := m.receiving[c.FileID]
	m.mu.Unlock()
	if !ok {
		return
	}
	accepted, err := entry.receiver.AcceptChunk(c)
	if err != nil {
		if m.logger != nil {
			m.logger.ChunkMACFailed(c.FileID, c.ChunkIndex, c.RetryCount)
		}
		if errors.Is(err, chunkengine.ErrMACInvalid) {
			if m.metrics != nil {
				m.metrics.ChunksMACFailures.Inc()
			}
			entry.macFailures[c.ChunkIndex]++
			if entry.macFailures[c.ChunkIndex] >= maxConsecutiveChunkFailures {
				entry.transfer.TransitionTo(statemachine.StatusFailed, "integrity", true)
				m.retireReceive(c.FileID, entry)
			}
		}
		return
	}
	if accepted {
		delete(entry.macFailures, c.ChunkIndex)
		if m.metrics != nil {
			m.metrics.RecordChunkReceived(len(c.Payload))
		}
	}
}

// onAck applies an inbound ACK to whichever side of the transfer this
// manager owns. Most ACKs land on the sender (the normal receipt-state
// flow), but a pause/cancel signal travels as an ACK in either
// direction, so a receive-side entry matching file_id also honors it.
func (m *TransferManager) onAck(env *codec.Envelope) {
	ack, err := codec.DecodeAck(env.Payload)
	if err != nil {
		return
	}
	m.mu.Lock()
	sendEntry, isSend := m.active[ack.FileID]
	recvEntry, isRecv := m.receiving[ack.FileID]
	m.mu.Unlock()

	if isSend {
		_ = sendEntry.sender.ApplyAck(ack)
		return
	}
	if !isRecv {
		return
	}
	switch {
	case ack.CancelTransfer:
		recvEntry.transfer.TransitionTo(statemachine.StatusCancelled, "peer cancelled", false)
		m.retireReceive(ack.FileID, recvEntry)
	case ack.PauseTransfer:
		if recvEntry.transfer.TransitionTo(statemachine.StatusPaused, "", false) == nil {
			m.Events.PublishPaused(ack.FileID)
		}
	}
}

func (m *TransferManager) onChunkHave(env *codec.Envelope) {
	req, resp, err := codec.DecodeChunkHave(env.Payload)
	if err != nil {
		return
	}
	if req != nil {
		m.mu.Lock()
		entry, ok := m.receiving[req.FileID]
		m.mu.Unlock()
		if !ok {
			return
		}
		have := entry.receiver.Transfer.Bitmap()
		response := &codec.ChunkHaveResponse{FileID: req.FileID, ChunkCount: entry.manifest.TotalChunks, Bitmap: have, TimestampMs: m.clock.NowMs()}
		out := codec.NewEnvelope(codec.MessageTypeChunkHave, m.selfID, nil, response.Encode(), m.clock.NowMs(), m.cfg.MaxHops)
		_ = m.transport.Send(out.Encode(), env.SenderID)
		return
	}
	if resp != nil {
		// Resume-probe responses are advisory; a full resume flow
		// would cross-check resp.Bitmap against resumestore before
		// deciding what to (re)send. Left to the embedding
		// application, which owns the resumestore lifecycle.
		_ = resp
	}
}

func isTerminal(s statemachine.Status) bool {
	switch s {
	case statemachine.StatusCompleted, statemachine.StatusFailed, statemachine.StatusCancelled:
		return true
	default:
		return false
	}
}

func streamingSHA256(source chunkengine.ByteSource, size int64) (string, error) {
	h := sha256.New()
	const blockSize = 64 * 1024
	buf := make([]byte, blockSize)
	var off int64
	for off < size {
		n := int64(blockSize)
		if size-off < n {
			n = size - off
		}
		read, err := source.ReadAt(buf[:n], off)
		if read > 0 {
			h.Write(buf[:read])
		}
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
		}
		if read == 0 {
			return "", ErrSourceUnreadable
		}
		off += int64(read)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func truncateToken(s string, size int) string {
	if len(s) <= size {
		return s
	}
	return s[:size]
}
