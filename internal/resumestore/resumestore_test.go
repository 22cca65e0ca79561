package resumestore

import (
	"path/filepath"
	"testing"
)

func TestStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "resume.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	rec := Record{
		Bitmap:          []byte{0xFF, 0x0F},
		VerifiedPrefix:  12,
		TotalChunks:     16,
		UpdatedAtUnixMs: 1000,
	}
	if err := s.Put("file-a", rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get("file-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.VerifiedPrefix != 12 || got.TotalChunks != 16 || string(got.Bitmap) != string(rec.Bitmap) {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestStore_GetMissingReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "resume.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if _, err := s.Get("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "resume.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	_ = s.Put("file-a", Record{Bitmap: []byte{0x01}, TotalChunks: 1, UpdatedAtUnixMs: 5})
	if err := s.Delete("file-a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("file-a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_GC(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "resume.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	_ = s.Put("old", Record{Bitmap: []byte{0x01}, TotalChunks: 1, UpdatedAtUnixMs: 100})
	_ = s.Put("new", Record{Bitmap: []byte{0x01}, TotalChunks: 1, UpdatedAtUnixMs: 100000})

	removed, err := s.GC(1000, 100000)
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := s.Get("old"); err != ErrNotFound {
		t.Fatal("expected old record to be gone")
	}
	if _, err := s.Get("new"); err != nil {
		t.Fatalf("expected new record to survive, got %v", err)
	}
}
