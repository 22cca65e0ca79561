// Command chunker previews the manifest meshxfer would produce for a
// file: adaptive chunk size, total chunk count, and whole-file
// SHA-256, without ever queuing a transfer. Useful for sizing a
// transfer before committing to it on a constrained link.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/quantarax/meshxfer/internal/chunkengine"
	"github.com/quantarax/meshxfer/internal/codec"
	"github.com/quantarax/meshxfer/internal/validation"
)

// fileSource adapts an *os.File to chunkengine.ByteSource.
type fileSource struct {
	f    *os.File
	size int64
}

func openFileSource(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSource{f: f, size: info.Size()}, nil
}

func (s *fileSource) Size() int64 { return s.size }

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileSource) Close() error { return s.f.Close() }

type manifestPreview struct {
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ChunkSize   int    `json:"chunk_size"`
	TotalChunks uint32 `json:"total_chunks"`
	SHA256Hash  string `json:"sha256_hash"`
}

func main() {
	workers := flag.Int("workers", 4, "concurrent chunk-production workers")
	output := flag.String("output", "", "write preview JSON to file (default: stdout)")
	pretty := flag.Bool("pretty", true, "pretty-print JSON output")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: chunker [options] <file_path>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	path := flag.Arg(0)
	if err := validation.FilePath(path, true); err != nil {
		fmt.Fprintf(os.Stderr, "chunker: %v\n", err)
		os.Exit(2)
	}

	src, err := openFileSource(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunker: opening %s: %v\n", path, err)
		os.Exit(2)
	}
	defer src.Close()

	engine := chunkengine.New(chunkengine.Options{
		DefaultChunkSize:     chunkengine.BaseChunkSize,
		MTU:                  chunkengine.DefaultMTU,
		ConcurrentWorkers:    *workers,
		CompressionThreshold: 1 << 30, // preview mode: never compress
		CompressionMinSaving: 100,
		CacheCapacity:        1,
	}, nil)

	fileID := uuid.NewString()
	chunkSize := engine.ChunkSizeFor(src.Size())
	produced, err := engine.ProduceAll(context.Background(), fileID, src, codec.CompressionNone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunker: producing chunks: %v\n", err)
		os.Exit(3)
	}

	hasher := chunkengine.NewWholeFileHasher()
	for _, pc := range produced {
		hasher.Write(pc.Payload)
	}

	preview := manifestPreview{
		FileID:      fileID,
		FileName:    fileBase(path),
		FileSize:    src.Size(),
		ChunkSize:   chunkSize,
		TotalChunks: uint32(len(produced)),
		SHA256Hash:  hasher.SumHex(),
	}

	var data []byte
	if *pretty {
		data, err = json.MarshalIndent(preview, "", "  ")
	} else {
		data, err = json.Marshal(preview)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunker: serializing preview: %v\n", err)
		os.Exit(4)
	}

	if *output != "" {
		if err := os.WriteFile(*output, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "chunker: writing %s: %v\n", *output, err)
			os.Exit(5)
		}
		return
	}
	fmt.Println(string(data))
}

func fileBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
