package statemachine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/quantarax/meshxfer/internal/chunkengine"
	"github.com/quantarax/meshxfer/internal/codec"
)

func macChunk(fileID string, idx uint32, payload []byte, isLast bool) *codec.Chunk {
	key := chunkengine.DeriveMACKey(fileID)
	return &codec.Chunk{
		FileID:      fileID,
		ChunkIndex:  idx,
		IsLastChunk: isLast,
		MAC:         chunkengine.ComputeMAC(key, payload),
		Payload:     payload,
	}
}

func TestReceiverMachine_AcceptAndAck(t *testing.T) {
	payloads := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")}
	whole := bytes.Join(payloads, nil)
	hash := sha256.Sum256(whole)

	manifest := testManifest("f1", uint32(len(payloads)))
	manifest.SHA256Hash = hex.EncodeToString(hash[:])

	transfer := NewTransfer(manifest, DirectionReceive, "peer-1", "Peer One")
	reassembler := chunkengine.NewReassembler("f1", manifest.TotalChunks, manifest.SHA256Hash)
	clock := NewFakeClock(1000)
	receiver := NewReceiverMachine(transfer, reassembler, clock)
	receiver.Start()

	for i, p := range payloads {
		accepted, err := receiver.AcceptChunk(macChunk("f1", uint32(i), p, i == len(payloads)-1))
		if err != nil {
			t.Fatalf("AcceptChunk failed: %v", err)
		}
		if !accepted {
			t.Fatalf("expected chunk %d to be accepted", i)
		}
	}

	if !receiver.ShouldEmitAck() {
		t.Fatal("expected ACK to be due after the last chunk")
	}

	ack := receiver.BuildAck("receiver-1", "ack-1", WindowSizeDefault)
	if !ack.TransferComplete {
		t.Fatal("expected transfer_complete on the completing ACK")
	}

	data, err := receiver.Finish(codec.CompressionNone)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if !bytes.Equal(data, whole) {
		t.Fatal("reconstructed data mismatch")
	}
	if transfer.Status() != StatusCompleted {
		t.Fatalf("expected Completed, got %s", transfer.Status())
	}
}

func TestReceiverMachine_CoalescesByChunkCountAndTime(t *testing.T) {
	manifest := testManifest("f1", 20)
	transfer := NewTransfer(manifest, DirectionReceive, "peer-1", "Peer One")
	reassembler := chunkengine.NewReassembler("f1", manifest.TotalChunks, "")
	clock := NewFakeClock(1000)
	receiver := NewReceiverMachine(transfer, reassembler, clock)
	receiver.Start()

	for i := 0; i < 15; i++ {
		if _, err := receiver.AcceptChunk(macChunk("f1", uint32(i), []byte{byte(i)}, false)); err != nil {
			t.Fatalf("AcceptChunk failed: %v", err)
		}
	}
	if receiver.ShouldEmitAck() {
		t.Fatal("did not expect an ACK before 16 new chunks or the time window")
	}

	if _, err := receiver.AcceptChunk(macChunk("f1", 15, []byte{15}, false)); err != nil {
		t.Fatalf("AcceptChunk failed: %v", err)
	}
	if !receiver.ShouldEmitAck() {
		t.Fatal("expected an ACK once 16 new chunks accumulated")
	}
	receiver.BuildAck("receiver-1", "ack-1", WindowSizeDefault)

	if _, err := receiver.AcceptChunk(macChunk("f1", 16, []byte{16}, false)); err != nil {
		t.Fatalf("AcceptChunk failed: %v", err)
	}
	if receiver.ShouldEmitAck() {
		t.Fatal("did not expect an ACK immediately after reset")
	}

	clock.Advance(AckCoalesceWindow + time.Millisecond)
	if !receiver.ShouldEmitAck() {
		t.Fatal("expected an ACK once the coalescing window elapsed with a pending new chunk")
	}
}

func TestReceiverMachine_AbandonmentTimeout(t *testing.T) {
	manifest := testManifest("f1", 4)
	transfer := NewTransfer(manifest, DirectionReceive, "peer-1", "Peer One")
	reassembler := chunkengine.NewReassembler("f1", manifest.TotalChunks, "")
	clock := NewFakeClock(1000)
	receiver := NewReceiverMachine(transfer, reassembler, clock)
	receiver.Start()

	if _, err := receiver.AcceptChunk(macChunk("f1", 0, []byte{0}, false)); err != nil {
		t.Fatalf("AcceptChunk failed: %v", err)
	}

	if receiver.CheckAbandonment() {
		t.Fatal("did not expect abandonment immediately")
	}

	clock.Advance(AbandonTimeout + time.Millisecond)
	if !receiver.CheckAbandonment() {
		t.Fatal("expected abandonment after the abandon timeout elapsed")
	}
	if transfer.Status() != StatusFailed {
		t.Fatalf("expected Failed, got %s", transfer.Status())
	}
}
