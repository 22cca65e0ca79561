package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithTransfer adds file_id context to the logger, scoping every
// subsequent entry to a single transfer.
func (l *Logger) WithTransfer(fileID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("file_id", fileID).Logger(),
	}
}

// WithPeer adds peer_id context to the logger.
func (l *Logger) WithPeer(peerID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("peer_id", peerID).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// TransferQueued logs admission of a transfer into the manager's queue.
func (l *Logger) TransferQueued(fileID string, priority int, queueDepth int) {
	l.logger.Info().
		Str("file_id", fileID).
		Int("priority", priority).
		Int("queue_depth", queueDepth).
		Msg("transfer queued")
}

// TransferStarted logs the Preparing -> Transferring edge.
func (l *Logger) TransferStarted(fileID string, fileSize int64, totalChunks int) {
	l.logger.Info().
		Str("file_id", fileID).
		Int64("file_size", fileSize).
		Int("total_chunks", totalChunks).
		Msg("transfer started")
}

// ChunkSent logs an individual chunk transmission.
func (l *Logger) ChunkSent(fileID string, chunkIndex uint32, chunkSize int, retryCount uint8) {
	l.logger.Debug().
		Str("file_id", fileID).
		Uint32("chunk_index", chunkIndex).
		Int("chunk_size", chunkSize).
		Uint8("retry_count", retryCount).
		Msg("chunk sent")
}

// TransferProgress logs periodic progress updates.
func (l *Logger) TransferProgress(fileID string, acked, total uint32, rateBps float64, elapsed time.Duration) {
	progress := 0.0
	if total > 0 {
		progress = float64(acked) / float64(total) * 100.0
	}
	l.logger.Info().
		Str("file_id", fileID).
		Uint32("chunks_acked", acked).
		Uint32("total_chunks", total).
		Float64("progress_percent", progress).
		Float64("rate_bytes_per_sec", rateBps).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("transfer progress")
}

// TransferCompleted logs the terminal Completed transition.
func (l *Logger) TransferCompleted(fileID string, fileSize uint64, duration time.Duration, sha256Verified bool) {
	l.logger.Info().
		Str("file_id", fileID).
		Uint64("file_size", fileSize).
		Float64("duration_seconds", duration.Seconds()).
		Bool("sha256_verified", sha256Verified).
		Msg("transfer completed")
}

// TransferFailed logs the terminal Failed transition.
func (l *Logger) TransferFailed(fileID string, reason string) {
	l.logger.Error().
		Str("file_id", fileID).
		Str("reason", reason).
		Msg("transfer failed")
}

// ChunkMACFailed logs a MAC verification failure on a received chunk.
func (l *Logger) ChunkMACFailed(fileID string, chunkIndex uint32, retryCount uint8) {
	l.logger.Error().
		Str("file_id", fileID).
		Uint32("chunk_index", chunkIndex).
		Uint8("retry_count", retryCount).
		Msg("chunk MAC verification failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
