package transport

import "errors"

// errOutOfRange is returned by MemorySource.ReadAt for an offset past
// the end of the underlying data.
var errOutOfRange = errors.New("transport: read offset out of range")

// MemorySource is a chunkengine.ByteSource backed by an in-memory
// byte slice, for tests and the demo binary where no filesystem
// access is wired.
type MemorySource struct {
	data []byte
}

// NewMemorySource wraps data as a random-access ByteSource.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

// Size returns the source's total byte length.
func (s *MemorySource) Size() int64 { return int64(len(s.data)) }

// ReadAt copies into p starting at off. Unlike io.ReaderAt, a read that
// reaches the end of the data returns the short count with a nil error.
func (s *MemorySource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.data)) {
		return 0, errOutOfRange
	}
	n := copy(p, s.data[off:])
	return n, nil
}
