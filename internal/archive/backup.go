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

package archive

import (
	"archive/tar"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"

	"github.com/cz7host/cz7host/internal/observability/logger"
	"github.com/cz7host/cz7host/internal/storage"
)

// Backup archives dataDir into the service's backup directory. Symlinks and
// special files are skipped.
func (s *Store) Backup(ctx context.Context, serviceID, dataDir string) (*Result, error) {
	info, err := os.Stat(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, dataDir)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", dataDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceMissing, dataDir)
	}

	if err := storage.ValidateName(serviceID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, serviceID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	createdAt := s.now()
	name, f, err := createUnique(dir, createdAt)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)

	h, _ := blake2b.New256(nil)
	size, werr := writeArchive(ctx, io.MultiWriter(f, h), dataDir)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write archive %s: %w", name, werr)
	}

	return &Result{
		Name:      name,
		SizeBytes: size,
		Checksum:  hex.EncodeToString(h.Sum(nil)),
		CreatedAt: createdAt,
	}, nil
}

// Checksum returns the hex BLAKE2b-256 digest of an archive.
func (s *Store) Checksum(serviceID, name string) (string, error) {
	f, err := s.Open(serviceID, name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest(f)
}

func digest(r io.Reader) (string, error) {
	h, _ := blake2b.New256(nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// createUnique opens a new archive file for the timestamp, never replacing
// an existing one.
func createUnique(dir string, t time.Time) (string, *os.File, error) {
	for i := 0; i < 100; i++ {
		name := archiveName(t.Add(time.Duration(i)))
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if err == nil {
			return name, f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, fmt.Errorf("failed to create archive: %w", err)
		}
	}
	return "", nil, fmt.Errorf("failed to pick a unique archive name in %s", dir)
}

// countingWriter tracks bytes written to the file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func writeArchive(ctx context.Context, w io.Writer, dataDir string) (int64, error) {
	cw := &countingWriter{w: w}
	gz := gzip.NewWriter(cw)
	tw := tar.NewWriter(gz)
	top := filepath.Base(dataDir)

	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(top, rel))

		if !d.IsDir() && !d.Type().IsRegular() {
			slog.DebugContext(ctx, "skipping non-regular file",
				logger.Component("archive"),
				logger.String("path", name),
			)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uname, hdr.Gname = "", ""

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return 0, err
	}

	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}
	return cw.n, nil
}
