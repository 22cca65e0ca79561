// Command meshxfer-demo runs a self-contained two-peer transfer over
// an in-memory transport, exercising the full queue, admit, chunk,
// acknowledge, and reassemble path without any real radio or mesh
// link available. It mirrors the flag-driven, single-purpose style
// of the teacher's cmd/quic_send and cmd/quic_recv binaries.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quantarax/meshxfer/internal/chunkengine"
	"github.com/quantarax/meshxfer/internal/codec"
	"github.com/quantarax/meshxfer/internal/config"
	"github.com/quantarax/meshxfer/internal/manager"
	"github.com/quantarax/meshxfer/internal/observability"
	"github.com/quantarax/meshxfer/internal/statemachine"
	"github.com/quantarax/meshxfer/internal/transport"
)

func main() {
	filePath := flag.String("file", "", "path to the file to send (demo generates a payload if empty)")
	fileSize := flag.Int("size", 64*1024, "size in bytes of the generated demo payload, if --file is unset")
	priority := flag.String("priority", "normal", "transfer priority: low, normal, high, urgent")
	flag.Parse()

	logger := observability.NewLogger("meshxfer-demo", "dev", os.Stdout)

	data, fileName, err := loadPayload(*filePath, *fileSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshxfer-demo: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	clock := statemachine.SystemClock{}
	hub := transport.NewMemoryHub()

	senderEngine := chunkengine.New(chunkengine.Options{
		DefaultChunkSize:     cfg.ChunkSize,
		MTU:                  cfg.TransportMTU,
		ConcurrentWorkers:    cfg.ConcurrentChunkWorkers,
		CompressionThreshold: cfg.CompressionThreshold,
		CompressionMinSaving: cfg.CompressionMinSavingsPct,
		CacheCapacity:        cfg.CacheCapacity,
	}, nil)
	receiverEngine := chunkengine.New(chunkengine.Options{
		DefaultChunkSize:     cfg.ChunkSize,
		MTU:                  cfg.TransportMTU,
		ConcurrentWorkers:    cfg.ConcurrentChunkWorkers,
		CompressionThreshold: cfg.CompressionThreshold,
		CompressionMinSaving: cfg.CompressionMinSavingsPct,
		CacheCapacity:        cfg.CacheCapacity,
	}, nil)

	sink := transport.NewMemorySink()

	senderMgr := manager.New(cfg, senderEngine, hub.Peer("sender"), nil, clock, "sender", logger.WithPeer("sender"))
	receiverMgr := manager.New(cfg, receiverEngine, hub.Peer("receiver"), sink, clock, "receiver", logger.WithPeer("receiver"))

	hub.Peer("sender").OnReceive(receiverMgr.OnEnvelope)
	hub.Peer("receiver").OnReceive(senderMgr.OnEnvelope)

	shutdownTracing, err := observability.InitTracing(context.Background(), "meshxfer-demo")
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshxfer-demo: init tracing: %v\n", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())
	senderMgr.SetTracer(observability.NewTracer("meshxfer-demo.sender"))
	receiverMgr.SetTracer(observability.NewTracer("meshxfer-demo.receiver"))

	sub := senderMgr.Events.Subscribe("")
	defer senderMgr.Events.Unsubscribe(sub.ID)

	transferID, ok := senderMgr.Queue(transport.NewMemorySource(data), fileName, "application/octet-stream", "receiver", "receiver", parsePriority(*priority), codec.CompressionNone)
	if !ok {
		fmt.Fprintln(os.Stderr, "meshxfer-demo: source rejected at admission")
		os.Exit(1)
	}
	logger.Info(fmt.Sprintf("queued transfer %s (%d bytes)", transferID, len(data)))

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		senderMgr.Tick()
		receiverMgr.Tick()

		if drained, done := drainTerminal(sub, transferID); drained {
			if !done {
				fmt.Fprintln(os.Stderr, "meshxfer-demo: transfer failed")
				os.Exit(1)
			}
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, mimeType, ok := sink.Get(fileName)
	if !ok {
		fmt.Fprintln(os.Stderr, "meshxfer-demo: receiver never wrote the file")
		os.Exit(1)
	}
	fmt.Printf("received %q (%d bytes, %s) — global progress %.1f%%\n",
		fileName, len(got), mimeType, senderMgr.GlobalProgress()*100)
}

// drainTerminal polls the subscription's channel for a terminal event
// matching transferID without blocking, so the demo's poll loop stays
// responsive to Tick.
func drainTerminal(sub *manager.EventSubscription, transferID string) (drained, completed bool) {
	for {
		select {
		case evt := <-sub.Channel:
			if evt.TransferID != transferID {
				continue
			}
			switch evt.EventType {
			case manager.EventCompleted:
				return true, true
			case manager.EventFailed, manager.EventCancelled:
				return true, false
			}
		default:
			return false, false
		}
	}
}

func loadPayload(path string, size int) (data []byte, fileName string, err error) {
	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", path, err)
		}
		return data, fileBase(path), nil
	}
	if size <= 0 {
		size = 1
	}
	data = make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data, "demo-payload.bin", nil
}

func fileBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func parsePriority(s string) codec.Priority {
	switch s {
	case "low":
		return codec.PriorityLow
	case "high":
		return codec.PriorityHigh
	case "urgent":
		return codec.PriorityUrgent
	default:
		return codec.PriorityNormal
	}
}
