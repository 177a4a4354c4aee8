// Package hash computes content digests of staged files and trees.
//
// A board run records the digest of its staged tree so later runs and the
// status command can tell whether the tree was modified since (drift
// detection). The package provides a SHA-256 implementation over fsops.FS
// and a fake implementation for testing.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/bspstage/internal/fsops"
)

// Hasher provides an abstraction for hashing operations.
type Hasher interface {
	// HashFile computes the hash of the file at the given path.
	HashFile(path string) (string, error)

	// TreeDigest computes a digest over every entry below root.
	TreeDigest(root string) (string, error)
}

// Entry is one line of a tree listing.
type Entry struct {
	// Path is relative to the tree root, slash-separated
	Path string `json:"path"`

	// Kind is "dir", "file" or "link"
	Kind string `json:"kind"`

	// Mode is the permission bits (files only)
	Mode os.FileMode `json:"mode,omitempty"`

	// Sum is the content hash (files) or link target (links)
	Sum string `json:"sum,omitempty"`
}

func (e Entry) line() string {
	switch e.Kind {
	case "file":
		return fmt.Sprintf("file %04o %s %s\n", e.Mode, e.Sum, e.Path)
	case "link":
		return fmt.Sprintf("link %s -> %s\n", e.Path, e.Sum)
	default:
		return fmt.Sprintf("dir %s\n", e.Path)
	}
}

// SHA256Hasher implements Hasher using SHA-256.
type SHA256Hasher struct {
	fs fsops.FS

	// Skip lists base names left out of tree digests
	Skip map[string]bool
}

// NewSHA256Hasher creates a new SHA256Hasher reading through fs.
func NewSHA256Hasher(fs fsops.FS) *SHA256Hasher {
	return &SHA256Hasher{fs: fs, Skip: map[string]bool{}}
}

// HashFile computes the SHA-256 hash of the file at the given path.
func (h *SHA256Hasher) HashFile(path string) (string, error) {
	data, err := h.fs.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Tree lists every entry below root in lexical order. Symlinks are recorded
// by target and never followed.
func (h *SHA256Hasher) Tree(root string) ([]Entry, error) {
	if _, err := h.fs.Stat(root); err != nil {
		return nil, fsops.Classify("digest", root, err)
	}

	var entries []Entry
	err := h.fs.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fsops.Classify("digest", path, err)
		}
		if path == root {
			return nil
		}
		if h.Skip[info.Name()] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry := Entry{Path: filepath.ToSlash(rel)}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := h.fs.Readlink(path)
			if err != nil {
				return fsops.Classify("readlink", path, err)
			}
			entry.Kind = "link"
			entry.Sum = target
		case info.IsDir():
			entry.Kind = "dir"
		default:
			sum, err := h.HashFile(path)
			if err != nil {
				return err
			}
			entry.Kind = "file"
			entry.Mode = info.Mode().Perm()
			entry.Sum = sum
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// TreeDigest hashes the Tree listing of root. Two trees with the same names,
// kinds, permission bits, contents and link targets have the same digest.
func (h *SHA256Hasher) TreeDigest(root string) (string, error) {
	entries, err := h.Tree(root)
	if err != nil {
		return "", err
	}
	return DigestEntries(entries), nil
}

// DigestEntries hashes a tree listing.
func DigestEntries(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.line())
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// FakeHasher implements Hasher with deterministic hashes for testing.
type FakeHasher struct {
	hashes map[string]string
}

// NewFakeHasher creates a new FakeHasher.
func NewFakeHasher() *FakeHasher {
	return &FakeHasher{
		hashes: make(map[string]string),
	}
}

// SetHash sets the hash for a specific path (file or tree root).
func (h *FakeHasher) SetHash(path, hash string) {
	h.hashes[path] = hash
}

// HashFile returns the predetermined hash for the given path.
func (h *FakeHasher) HashFile(path string) (string, error) {
	if hash, ok := h.hashes[path]; ok {
		return hash, nil
	}
	return "fakehash", nil
}

// TreeDigest returns the predetermined hash for root.
func (h *FakeHasher) TreeDigest(root string) (string, error) {
	return h.HashFile(root)
}
