// Package resumestore is an optional persistence collaborator the
// core never depends on directly. A receiver that restarts mid
// transfer can consult it to rehydrate a bitmap and a Merkle-verified
// prefix length instead of starting the transfer over, but the core
// state machine works identically with no store wired in at all — per
// the protocol's non-goal of durable in-flight state, nothing here is
// required for correctness, only for convenience across restarts.
package resumestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketResume = []byte("resume")

// ErrNotFound is returned by Get when no record exists for fileID.
var ErrNotFound = errors.New("resumestore: no record for file id")

// Record is the resumable state persisted for one file_id: the
// receiver's bitmap of accepted chunks and the length of the prefix
// whose Merkle binding has already been verified.
type Record struct {
	Bitmap          []byte
	VerifiedPrefix  uint32 // count of leading chunks verified against the Merkle root
	TotalChunks     uint32
	UpdatedAtUnixMs uint64
}

// Store persists Records keyed by file_id in a single bbolt file.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the bbolt-backed store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("resumestore: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketResume)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resumestore: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put persists or overwrites the record for fileID.
func (s *Store) Put(fileID string, rec Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketResume)
		if bk == nil {
			return bbolt.ErrBucketNotFound
		}
		return bk.Put([]byte(fileID), encodeRecord(rec))
	})
}

// Get returns the persisted record for fileID, or ErrNotFound.
func (s *Store) Get(fileID string) (Record, error) {
	var rec Record
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketResume)
		if bk == nil {
			return nil
		}
		v := bk.Get([]byte(fileID))
		if v == nil {
			return nil
		}
		var decErr error
		rec, decErr = decodeRecord(v)
		if decErr != nil {
			return decErr
		}
		found = true
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes any record for fileID. Deleting a nonexistent key is
// not an error.
func (s *Store) Delete(fileID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketResume)
		if bk == nil {
			return nil
		}
		return bk.Delete([]byte(fileID))
	})
}

// GC removes records whose UpdatedAtUnixMs is older than maxAge,
// mirroring the teacher's bolt-backed CAS GC sweep.
func (s *Store) GC(maxAge time.Duration, nowUnixMs uint64) (removed int, err error) {
	cutoff := nowUnixMs - uint64(maxAge.Milliseconds())
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketResume)
		if bk == nil {
			return bbolt.ErrBucketNotFound
		}
		c := bk.Cursor()
		var staleKeys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, decErr := decodeRecord(v)
			if decErr != nil {
				continue
			}
			if rec.UpdatedAtUnixMs < cutoff {
				staleKeys = append(staleKeys, append([]byte(nil), k...))
			}
		}
		for _, k := range staleKeys {
			if err := bk.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// encodeRecord lays out a Record as:
// verified_prefix(4) total_chunks(4) updated_at_ms(8) bitmap_len(4) bitmap
func encodeRecord(rec Record) []byte {
	buf := make([]byte, 4+4+8+4+len(rec.Bitmap))
	off := 0
	binary.BigEndian.PutUint32(buf[off:], rec.VerifiedPrefix)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], rec.TotalChunks)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], rec.UpdatedAtUnixMs)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(rec.Bitmap)))
	off += 4
	copy(buf[off:], rec.Bitmap)
	return buf
}

func decodeRecord(data []byte) (Record, error) {
	if len(data) < 20 {
		return Record{}, fmt.Errorf("resumestore: truncated record (%d bytes)", len(data))
	}
	var rec Record
	off := 0
	rec.VerifiedPrefix = binary.BigEndian.Uint32(data[off:])
	off += 4
	rec.TotalChunks = binary.BigEndian.Uint32(data[off:])
	off += 4
	rec.UpdatedAtUnixMs = binary.BigEndian.Uint64(data[off:])
	off += 8
	bitmapLen := binary.BigEndian.Uint32(data[off:])
	off += 4
	if uint32(len(data)-off) < bitmapLen {
		return Record{}, fmt.Errorf("resumestore: truncated bitmap (want %d, have %d)", bitmapLen, len(data)-off)
	}
	rec.Bitmap = append([]byte(nil), data[off:off+int(bitmapLen)]...)
	return rec, nil
}
