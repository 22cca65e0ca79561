// Command quic_recv listens for one QUIC connection and receives
// whatever files the peer on the other end queues, writing each
// completed transfer to an output directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/quantarax/meshxfer/internal/chunkengine"
	"github.com/quantarax/meshxfer/internal/config"
	"github.com/quantarax/meshxfer/internal/manager"
	"github.com/quantarax/meshxfer/internal/observability"
	"github.com/quantarax/meshxfer/internal/quictransport"
	"github.com/quantarax/meshxfer/internal/quicutil"
	"github.com/quantarax/meshxfer/internal/statemachine"
	"github.com/quantarax/meshxfer/internal/validation"
)

// fileSink is a manager.ByteSink that writes each completed transfer
// under outDir, named after the transfer's declared file name.
type fileSink struct{ outDir string }

func (s *fileSink) Write(fileName, mimeType string, data []byte) error {
	path := filepath.Join(s.outDir, filepath.Base(fileName))
	return os.WriteFile(path, data, 0644)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:0", "address to listen on")
	healthAddr := flag.String("health-addr", "", "address to serve /healthz on (disabled if empty)")
	outDir := flag.String("out", ".", "directory to write received files into")
	selfID := flag.String("id", "receiver", "this peer's ID")
	peerID := flag.String("peer-id", "sender", "the sending peer's ID")
	idle := flag.Duration("idle-timeout", 120*time.Second, "exit after this long with no activity")
	flag.Parse()

	logger := observability.NewLogger("quic_recv", "dev", os.Stdout)

	if err := validation.Addr(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "quic_recv: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "quic_recv: creating %s: %v\n", *outDir, err)
		os.Exit(1)
	}

	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		fmt.Fprintf(os.Stderr, "quic_recv: generating certificate: %v\n", err)
		os.Exit(1)
	}
	serverTLS, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quic_recv: building TLS config: %v\n", err)
		os.Exit(1)
	}
	serverTLS.NextProtos = []string{"meshxfer"}

	listener, err := quictransport.Listen(*addr, serverTLS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quic_recv: listening on %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer listener.Close()
	fmt.Printf("quic_recv: listening on %s\n", listener.Addr())

	acceptCtx, cancel := context.WithTimeout(context.Background(), *idle)
	defer cancel()
	conn, err := listener.Accept(acceptCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quic_recv: accept: %v\n", err)
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

	sink := &fileSink{outDir: *outDir}
	mgr := manager.New(cfg, engine, tr, sink, statemachine.SystemClock{}, *selfID, logger.WithPeer(*selfID))
	tr.OnReceive(func(envelope []byte, from string) { mgr.OnEnvelope(envelope) })

	metrics := observability.NewMetrics()
	mgr.SetMetrics(metrics)

	shutdownTracing, err := observability.InitTracing(context.Background(), "quic_recv")
	if err != nil {
		fmt.Fprintf(os.Stderr, "quic_recv: init tracing: %v\n", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())
	mgr.SetTracer(observability.NewTracer("quic_recv"))

	sub := mgr.Events.Subscribe("")
	defer mgr.Events.Unsubscribe(sub.ID)

	if *healthAddr != "" {
		checker := observability.NewHealthChecker("dev")
		checker.RegisterCheck("active_transfers", func(ctx context.Context) observability.ComponentHealth {
			return observability.ActiveTransfersCheck(mgr.ActiveCount(), mgr.MaxActiveTransfers(), mgr.QueuedCount())(ctx)
		})
		checker.RegisterCheck("memory_pressure", observability.MemoryPressureCheck(engine.UnderPressure))
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", checker.Handler())
		mux.Handle("/metrics", metrics.Handler())
		go http.ListenAndServe(*healthAddr, mux)
	}

	deadline := time.Now().Add(*idle)
	for time.Now().Before(deadline) {
		mgr.Tick()
		select {
		case evt := <-sub.Channel:
			switch evt.EventType {
			case manager.EventCompleted:
				fmt.Printf("quic_recv: completed transfer %s\n", evt.TransferID)
				deadline = time.Now().Add(*idle)
			case manager.EventFailed, manager.EventCancelled:
				fmt.Printf("quic_recv: transfer %s ended: %s\n", evt.TransferID, evt.EventType)
			}
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "quic_recv: idle timeout reached, exiting")
}
