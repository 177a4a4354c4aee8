package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danieljhkim/bspstage/internal/fsops"
	"github.com/danieljhkim/bspstage/internal/hash"
)

var (
	// ErrNoRecord indicates a board has never been staged.
	ErrNoRecord = errors.New("no record")

	// ErrDrift indicates the staged tree changed since it was recorded.
	ErrDrift = errors.New("drift detected")
)

// RecordStore provides an interface for persisting board records.
type RecordStore interface {
	// Load loads the record of board. Returns ErrNoRecord if there is none.
	Load(board string) (*Record, error)

	// Save saves the record atomically.
	Save(record *Record) error

	// Delete deletes the record of board. An absent record is fine.
	Delete(board string) error

	// List returns the boards with records, sorted.
	List() ([]string, error)
}

// FileRecordStore implements RecordStore using JSON files on disk.
type FileRecordStore struct {
	fs         fsops.FS
	recordsDir string
}

// NewFileRecordStore creates a new FileRecordStore.
func NewFileRecordStore(fs fsops.FS, recordsDir string) *FileRecordStore {
	return &FileRecordStore{
		fs:         fs,
		recordsDir: recordsDir,
	}
}

func (s *FileRecordStore) path(board string) (string, error) {
	if err := s.fs.ValidateIdentifier(board); err != nil {
		return "", fmt.Errorf("invalid board name: %w", err)
	}
	return filepath.Join(s.recordsDir, board+".json"), nil
}

// Load loads the record of board.
func (s *FileRecordStore) Load(board string) (*Record, error) {
	path, err := s.path(board)
	if err != nil {
		return nil, err
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w for board %s", ErrNoRecord, board)
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

// Save saves the record atomically.
func (s *FileRecordStore) Save(record *Record) error {
	path, err := s.path(record.Board)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := s.fs.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Delete deletes the record of board.
func (s *FileRecordStore) Delete(board string) error {
	path, err := s.path(board)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// List returns the boards with records, sorted.
func (s *FileRecordStore) List() ([]string, error) {
	exists, err := s.fs.Exists(s.recordsDir)
	if err != nil {
		return nil, fsops.Classify("list", s.recordsDir, err)
	}
	if !exists {
		return []string{}, nil
	}

	entries, err := s.fs.ReadDir(s.recordsDir)
	if err != nil {
		return nil, err
	}

	boards := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		boards = append(boards, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(boards)
	return boards, nil
}

// VerifyResult compares a record with the tree on disk.
type VerifyResult struct {
	Record  *Record
	Current string
}

// Verify recomputes the digest of the board directory a succeeded record
// points to. A mismatch is ErrDrift; the result is returned either way.
func Verify(store RecordStore, hasher hash.Hasher, board string) (*VerifyResult, error) {
	record, err := store.Load(board)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusSucceeded || record.Digest == "" {
		return &VerifyResult{Record: record}, fmt.Errorf("board %s has no successful run to verify (status %s)", board, record.Status)
	}

	current, err := hasher.TreeDigest(record.BoardDir)
	if err != nil {
		return &VerifyResult{Record: record}, fmt.Errorf("failed to digest %s: %w", record.BoardDir, err)
	}

	result := &VerifyResult{Record: record, Current: current}
	if current != record.Digest {
		return result, fmt.Errorf("%w: %s changed since %s", ErrDrift, record.BoardDir, record.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	return result, nil
}
