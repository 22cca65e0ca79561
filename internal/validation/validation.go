// Package validation holds the small input checks the cmd/ binaries
// run on flags before touching the network or filesystem — a file
// path that must exist, a dialable address, a value in range. None of
// this is wire validation; codec and chunkengine police the protocol
// itself.
package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

var (
	ErrInvalidPath   = errors.New("validation: invalid file path")
	ErrPathNotExists = errors.New("validation: path does not exist")
	ErrInvalidAddr   = errors.New("validation: invalid address")
	ErrEmptyString   = errors.New("validation: value must not be empty")
	ErrOutOfRange    = errors.New("validation: value out of range")
)

// FilePath cleans p and, if mustExist, confirms it resolves to a file
// already on disk.
func FilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	p = filepath.Clean(p)
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// Addr reports whether addr parses as a dialable host:port pair.
func Addr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

// NonEmpty reports whether s has at least one byte.
func NonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

// IntRange reports whether v falls within [min, max] inclusive.
func IntRange(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}
