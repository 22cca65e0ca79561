// Command quic_send dials a running quic_recv peer and sends one
// file over the protocol's QUIC transport, polling the transfer
// manager until it reaches a terminal state.
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
	"github.com/quantarax/meshxfer/internal/quictransport"
	"github.com/quantarax/meshxfer/internal/quicutil"
	"github.com/quantarax/meshxfer/internal/statemachine"
	"github.com/quantarax/meshxfer/internal/validation"
)

func main() {
	addr := flag.String("addr", "", "receiver address (host:port)")
	filePath := flag.String("file", "", "path to the file to send")
	priority := flag.String("priority", "normal", "transfer priority: low, normal, high, urgent")
	selfID := flag.String("id", "sender", "this peer's ID")
	peerID := flag.String("peer-id", "receiver", "the receiving peer's ID")
	timeout := flag.Duration("timeout", 60*time.Second, "give up after this long without completion")
	flag.Parse()

	if *addr == "" || *filePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: quic_send -addr host:port -file path [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if err := validation.Addr(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "quic_send: %v\n", err)
		os.Exit(1)
	}
	if err := validation.FilePath(*filePath, true); err != nil {
		fmt.Fprintf(os.Stderr, "quic_send: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("quic_send", "dev", os.Stdout)

	data, err := os.ReadFile(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quic_send: reading %s: %v\n", *filePath, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	clientTLS := quicutil.MakeClientTLSConfig()
	clientTLS.NextProtos = []string{"meshxfer"}

	conn, err := quictransport.Dial(ctx, *addr, clientTLS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quic_send: dialing %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	tr := quictransport.NewTransport()
	tr.AddPeer(*peerID, conn)
	defer tr.RemovePeer(*peerID)

	cfg := config.Default()
	engine := chunkengine.New(chunkengine.Options{
		DefaultChunkSize:     cfg.ChunkSize,
		MTU:                  cfg.TransportMTU,
		ConcurrentWorkers:    cfg.ConcurrentChunkWorkers,
		CompressionThreshold: cfg.CompressionThreshold,
		CompressionMinSaving: cfg.CompressionMinSavingsPct,
		CacheCapacity:        cfg.CacheCapacity,
	}, nil)

	mgr := manager.New(cfg, engine, tr, nil, statemachine.SystemClock{}, *selfID, logger.WithPeer(*selfID))
	tr.OnReceive(func(envelope []byte, from string) { mgr.OnEnvelope(envelope) })

	shutdownTracing, err := observability.InitTracing(context.Background(), "quic_send")
	if err != nil {
		fmt.Fprintf(os.Stderr, "quic_send: init tracing: %v\n", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())
	mgr.SetTracer(observability.NewTracer("quic_send"))

	sub := mgr.Events.Subscribe("")
	defer mgr.Events.Unsubscribe(sub.ID)

	transferID, ok := mgr.Queue(memorySource(data), fileBase(*filePath), "application/octet-stream", *peerID, *peerID, parsePriority(*priority), codec.CompressionNone)
	if !ok {
		fmt.Fprintln(os.Stderr, "quic_send: source rejected at admission")
		os.Exit(1)
	}
	fmt.Printf("quic_send: queued %s (%d bytes)\n", transferID, len(data))

	deadline := time.Now().Add(*timeout)
	for time.Now().Before(deadline) {
		mgr.Tick()
		if drained, completed := drainTerminal(sub, transferID); drained {
			if !completed {
				fmt.Fprintln(os.Stderr, "quic_send: transfer failed")
				os.Exit(1)
			}
			fmt.Println("quic_send: transfer completed")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "quic_send: timed out waiting for completion")
	os.Exit(1)
}

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

// memorySourceT is a minimal chunkengine.ByteSource over an in-memory
// slice, avoiding a dependency on the transport package for a single
// use site.
type memorySourceT struct{ data []byte }

func memorySource(data []byte) *memorySourceT { return &memorySourceT{data: data} }

func (s *memorySourceT) Size() int64 { return int64(len(s.data)) }

func (s *memorySourceT) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.data)) {
		return 0, fmt.Errorf("quic_send: read offset %d out of range", off)
	}
	return copy(p, s.data[off:]), nil
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
