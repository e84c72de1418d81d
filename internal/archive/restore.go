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
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"

	"github.com/cz7host/cz7host/internal/observability/logger"
)

// Restore replaces the contents of dataDir with the archive's. When
// checksum is non-empty the archive must match it.
//
// In ClearFirst mode dataDir is emptied before anything else, so a bad
// archive leaves it empty. In StageFirst mode dataDir is untouched unless
// the archive extracts cleanly.
func (s *Store) Restore(ctx context.Context, serviceID, dataDir, name, checksum string) error {
	src, err := s.Path(serviceID, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	if s.mode == ClearFirst {
		if err := clearDir(dataDir); err != nil {
			return err
		}
	}

	// stage next to dataDir so the final moves are renames on one filesystem
	parent := filepath.Dir(dataDir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}
	stage, err := os.MkdirTemp(parent, ".restore-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	if err := extract(ctx, src, stage, checksum); err != nil {
		return err
	}

	inner := filepath.Join(stage, filepath.Base(dataDir))
	info, err := os.Stat(inner)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: expected top-level directory %q", ErrMalformedArchive, filepath.Base(dataDir))
	}

	if s.mode != ClearFirst {
		if err := clearDir(dataDir); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(inner)
	if err != nil {
		return fmt.Errorf("failed to read staged archive: %w", err)
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(inner, e.Name()), filepath.Join(dataDir, e.Name())); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", e.Name(), err)
		}
	}

	slog.InfoContext(ctx, "archive restored",
		logger.Component("archive"),
		logger.ServiceID(serviceID),
		logger.Archive(name),
		logger.String("mode", string(s.mode)),
	)
	return nil
}

// clearDir leaves dir existing and empty. The directory itself is kept so
// bind mounts and open handles on it stay valid.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		return nil
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
	}
	return nil
}

// extract unpacks the archive at src into dst. Entries that would land
// outside dst fail the whole extraction; links and device files are skipped.
func extract(ctx context.Context, src, dst, checksum string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	h, _ := blake2b.New256(nil)
	if checksum != "" {
		r = io.TeeReader(f, h)
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedArchive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedArchive, err)
		}

		target, err := entryPath(dst, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedArchive, err)
			}
		default:
			slog.DebugContext(ctx, "skipping archive entry",
				logger.Component("archive"),
				logger.String("entry", hdr.Name),
			)
		}
	}

	if checksum != "" {
		// drain trailing padding so the digest covers the whole file
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedArchive, err)
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != checksum {
			return fmt.Errorf("%w: %w", ErrMalformedArchive, ErrChecksumMismatch)
		}
	}
	return nil
}

func entryPath(dst, name string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(name, `\`, "/"))
	if strings.HasPrefix(name, "/") || clean == "/" || hasDotDot(name) {
		return "", fmt.Errorf("%w: unsafe entry %q", ErrMalformedArchive, name)
	}
	return filepath.Join(dst, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func hasDotDot(name string) bool {
	for _, part := range strings.Split(strings.ReplaceAll(name, `\`, "/"), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func writeEntry(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o640
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
