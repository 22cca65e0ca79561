package statemachine

import (
	"testing"
	"time"

	"github.com/quantarax/meshxfer/internal/codec"
)

func testManifest(fileID string, totalChunks uint32) *codec.Manifest {
	return &codec.Manifest{
		FileID:      fileID,
		FileName:    "test.bin",
		FileSize:    uint64(totalChunks) * 480,
		TotalChunks: totalChunks,
		SHA256Hash:  "0000000000000000000000000000000000000000000000000000000000000"[:64],
		SenderID:    "sender-1",
		Priority:    codec.PriorityNormal,
	}
}

func testChunks(fileID string, n uint32) []*codec.Chunk {
	out := make([]*codec.Chunk, n)
	for i := uint32(0); i < n; i++ {
		out[i] = &codec.Chunk{
			FileID:      fileID,
			ChunkIndex:  i,
			IsLastChunk: i == n-1,
			Payload:     []byte{byte(i)},
		}
	}
	return out
}

func TestSenderMachine_WindowBoundedEmission(t *testing.T) {
	manifest := testManifest("f1", 10)
	transfer := NewTransfer(manifest, DirectionSend, "peer-1", "Peer One")
	clock := NewFakeClock(1000)
	sender := NewSenderMachine(transfer, testChunks("f1", 10), 3, clock)

	if err := sender.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	batch := sender.NextChunksToSend()
	if len(batch) != 3 {
		t.Fatalf("expected window_size=3 chunks, got %d", len(batch))
	}

	// No more should be sent until ACKs free up window slots.
	if more := sender.NextChunksToSend(); len(more) != 0 {
		t.Fatalf("expected no further sends while window is full, got %d", len(more))
	}
}

func TestSenderMachine_AckAdvancesBitmapAndCompletes(t *testing.T) {
	manifest := testManifest("f1", 4)
	transfer := NewTransfer(manifest, DirectionSend, "peer-1", "Peer One")
	clock := NewFakeClock(1000)
	sender := NewSenderMachine(transfer, testChunks("f1", 4), 10, clock)
	sender.Start()

	sender.NextChunksToSend()

	ack := &codec.Ack{
		FileID:           "f1",
		Bitmap:           codec.BitmapFromChunks([]uint32{0, 1, 2, 3}, 4),
		TransferComplete: true,
	}
	if err := sender.ApplyAck(ack); err != nil {
		t.Fatalf("ApplyAck failed: %v", err)
	}

	if transfer.Status() != StatusCompleted {
		t.Fatalf("expected transfer to complete, got %s", transfer.Status())
	}
}

func TestSenderMachine_PauseAndCancelViaAck(t *testing.T) {
	manifest := testManifest("f1", 4)
	transfer := NewTransfer(manifest, DirectionSend, "peer-1", "Peer One")
	clock := NewFakeClock(1000)
	sender := NewSenderMachine(transfer, testChunks("f1", 4), 10, clock)
	sender.Start()

	if err := sender.ApplyAck(&codec.Ack{FileID: "f1", PauseTransfer: true, Bitmap: []byte{}}); err != nil {
		t.Fatalf("ApplyAck(pause) failed: %v", err)
	}
	if transfer.Status() != StatusPaused {
		t.Fatalf("expected Paused, got %s", transfer.Status())
	}

	if err := sender.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if transfer.Status() != StatusTransferring {
		t.Fatalf("expected Transferring after resume, got %s", transfer.Status())
	}

	if err := sender.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if transfer.Status() != StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", transfer.Status())
	}
}

func TestSenderMachine_RetransmitOnTimeout(t *testing.T) {
	manifest := testManifest("f1", 2)
	transfer := NewTransfer(manifest, DirectionSend, "peer-1", "Peer One")
	clock := NewFakeClock(1000)
	sender := NewSenderMachine(transfer, testChunks("f1", 2), 10, clock)
	sender.Start()

	sender.NextChunksToSend()

	clock.Advance(RetxTimeout + time.Millisecond)
	result := sender.CheckTimeouts()
	if len(result.Retransmit) != 2 {
		t.Fatalf("expected both chunks retransmitted after retx timeout, got %d", len(result.Retransmit))
	}
	if result.Failed {
		t.Fatal("did not expect failure on first retransmit")
	}
}

func TestSenderMachine_FailsAfterMaxRetries(t *testing.T) {
	manifest := testManifest("f1", 1)
	transfer := NewTransfer(manifest, DirectionSend, "peer-1", "Peer One")
	clock := NewFakeClock(1000)
	sender := NewSenderMachine(transfer, testChunks("f1", 1), 10, clock)
	sender.Start()

	sender.NextChunksToSend()
	for i := 0; i < MaxRetriesPerChunk; i++ {
		clock.Advance(RetxTimeout + time.Millisecond)
		result := sender.CheckTimeouts()
		if result.Failed {
			t.Fatalf("unexpected early failure at retry %d", i)
		}
	}

	clock.Advance(RetxTimeout + time.Millisecond)
	result := sender.CheckTimeouts()
	if !result.Failed || result.Reason != "retry_exhausted" {
		t.Fatalf("expected retry_exhausted failure, got %+v", result)
	}
	if transfer.Status() != StatusFailed {
		t.Fatalf("expected Failed status, got %s", transfer.Status())
	}
}
