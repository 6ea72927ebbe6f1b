// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
)

// FileRecordStore keeps session records in a single JSON file. Every write
// replaces the file through a rename, so readers never see a partial set.
type FileRecordStore struct {
	mu   sync.Mutex
	path string
}

// NewFileRecordStore creates a store backed by path. The file is created on
// first write; its directory must exist.
func NewFileRecordStore(path string) *FileRecordStore {
	return &FileRecordStore{path: path}
}

// Path returns the backing file path.
func (s *FileRecordStore) Path() string {
	return s.path
}

// Append adds rec to the stored set.
func (s *FileRecordStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read()
	if err != nil {
		return err
	}
	return s.write(append(recs, rec))
}

// Load returns every stored record. A missing file is an empty set.
func (s *FileRecordStore) Load(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Replace rewrites the stored set.
func (s *FileRecordStore) Replace(_ context.Context, recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(recs)
}

func (s *FileRecordStore) read() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_FILE_READ_FAILED").With("path", s.path).Wrap(err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, oops.Code("SESSION_FILE_CORRUPT").With("path", s.path).Wrap(err)
	}
	return recs, nil
}

func (s *FileRecordStore) write(recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return oops.Code("SESSION_FILE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return oops.Code("SESSION_FILE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()        //nolint:errcheck // write error takes precedence
		_ = os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return oops.Code("SESSION_FILE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return oops.Code("SESSION_FILE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return oops.Code("SESSION_FILE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	return nil
}

var _ RecordStore = (*FileRecordStore)(nil)
