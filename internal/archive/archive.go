// Copyright 2026 The CZ7 Host Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive snapshots service data directories into compressed tar
// archives and restores them.
//
// An archive holds a single top-level directory named after the data
// directory it was taken from. Restore only accepts archives with that
// layout.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cz7host/cz7host/internal/storage"
)

var (
	ErrSourceMissing    = errors.New("source directory missing")
	ErrMalformedArchive = errors.New("malformed archive")
	ErrNotFound         = errors.New("archive not found")
	ErrInvalidName      = errors.New("invalid archive name")
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
)

// RestoreMode orders the destructive clear relative to archive validation.
type RestoreMode string

const (
	// ClearFirst empties the data directory before the archive is staged.
	// A malformed archive leaves the directory empty.
	ClearFirst RestoreMode = "clear-first"
	// StageFirst stages and validates the archive before touching the data
	// directory.
	StageFirst RestoreMode = "stage-first"
)

// ParseRestoreMode parses s, defaulting to ClearFirst when empty.
func ParseRestoreMode(s string) (RestoreMode, error) {
	switch RestoreMode(s) {
	case "", ClearFirst:
		return ClearFirst, nil
	case StageFirst:
		return StageFirst, nil
	}
	return "", fmt.Errorf("unknown restore mode %q", s)
}

const (
	namePrefix = "backup_"
	nameSuffix = ".tar.gz"
	timeLayout = "2006-01-02_15-04-05.000000000"
)

// Result describes a freshly written archive.
type Result struct {
	Name      string
	SizeBytes int64
	Checksum  string
	CreatedAt time.Time
}

// Store keeps archives under one directory per service.
type Store struct {
	root string
	mode RestoreMode
	now  func() time.Time
}

// NewStore returns a Store rooted at root.
func NewStore(root string, mode RestoreMode) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup root %s: %w", root, err)
	}
	if mode == "" {
		mode = ClearFirst
	}
	return &Store{root: abs, mode: mode, now: time.Now}, nil
}

// Mode returns the configured restore ordering.
func (s *Store) Mode() RestoreMode {
	return s.mode
}

// Path returns the location of a service's archive.
func (s *Store) Path(serviceID, name string) (string, error) {
	if err := storage.ValidateName(serviceID); err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, serviceID, name), nil
}

// Delete removes an archive.
func (s *Store) Delete(serviceID, name string) error {
	p, err := s.Path(serviceID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete archive %s: %w", name, err)
	}
	return nil
}

// Open returns the archive for reading. The caller closes it.
func (s *Store) Open(serviceID, name string) (*os.File, error) {
	p, err := s.Path(serviceID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open archive %s: %w", name, err)
	}
	return f, nil
}

// ValidateName accepts only names this package generates.
func ValidateName(name string) error {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func archiveName(t time.Time) string {
	return namePrefix + t.UTC().Format(timeLayout) + nameSuffix
}
