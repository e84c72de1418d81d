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

// Package storage manages per-service data directories under a fixed base
// path. Every path handed in by a caller is resolved relative to one
// service's directory and rejected if it would leave it.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrPathEscape       = errors.New("path escapes service directory")
	ErrInvalidServiceID = errors.New("invalid service id")
	ErrNotFound         = errors.New("path not found")
	ErrNotDirectory     = errors.New("path is not a directory")
	ErrNotFile          = errors.New("path is not a file")
	ErrTooLarge         = errors.New("file too large")
)

// FileInfo describes one entry of a service directory.
type FileInfo struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	IsDir      bool      `json:"is_dir"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Root is the base directory holding one subdirectory per service.
type Root struct {
	base string
}

// NewRoot returns a Root at base. The directory is created on first use.
func NewRoot(base string) (*Root, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root %s: %w", base, err)
	}
	return &Root{base: abs}, nil
}

// Base returns the absolute base path.
func (r *Root) Base() string {
	return r.base
}

// Dir returns the data directory of a service without touching the disk.
func (r *Root) Dir(serviceID string) (string, error) {
	if err := ValidateName(serviceID); err != nil {
		return "", err
	}
	return filepath.Join(r.base, serviceID), nil
}

// Ensure creates the service directory if needed and returns it.
func (r *Root) Ensure(serviceID string) (string, error) {
	dir, err := r.Dir(serviceID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create service directory: %w", err)
	}
	return dir, nil
}

// RemoveAll deletes the service directory and everything below it.
func (r *Root) RemoveAll(serviceID string) error {
	dir, err := r.Dir(serviceID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Resolve maps a caller-supplied relative path to an absolute path inside
// the service directory. Leading slashes are ignored; any path that would
// climb out of the directory is rejected.
func (r *Root) Resolve(serviceID, rel string) (string, error) {
	dir, err := r.Dir(serviceID)
	if err != nil {
		return "", err
	}
	clean, err := cleanRel(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}

// List returns the entries of a directory inside the service directory.
func (r *Root) List(serviceID, rel string) ([]FileInfo, error) {
	root, clean, err := r.open(serviceID, rel)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	info, err := root.Stat(clean)
	if err != nil {
		return nil, mapErr(err)
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	entries, err := fs.ReadDir(root.FS(), clean)
	if err != nil {
		return nil, mapErr(err)
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:       e.Name(),
			Path:       path.Join(clean, e.Name()),
			IsDir:      e.IsDir(),
			SizeBytes:  fi.Size(),
			ModifiedAt: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Read returns the content of a regular file.
func (r *Root) Read(serviceID, rel string) ([]byte, error) {
	root, clean, err := r.open(serviceID, rel)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	info, err := root.Stat(clean)
	if err != nil {
		return nil, mapErr(err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFile
	}
	data, err := root.ReadFile(clean)
	if err != nil {
		return nil, mapErr(err)
	}
	return data, nil
}

// Write creates or truncates a file, creating parent directories.
func (r *Root) Write(serviceID, rel string, content []byte) error {
	root, clean, err := r.open(serviceID, rel)
	if err != nil {
		return err
	}
	defer root.Close()

	if clean == "." {
		return ErrNotFile
	}
	if parent := path.Dir(clean); parent != "." {
		if err := root.MkdirAll(parent, 0o750); err != nil {
			return mapErr(err)
		}
	}
	if err := root.WriteFile(clean, content, 0o640); err != nil {
		return mapErr(err)
	}
	return nil
}

// Delete removes a file or a directory tree. The service directory itself
// cannot be deleted this way.
func (r *Root) Delete(serviceID, rel string) error {
	root, clean, err := r.open(serviceID, rel)
	if err != nil {
		return err
	}
	defer root.Close()

	if clean == "." {
		return ErrPathEscape
	}
	if _, err := root.Lstat(clean); err != nil {
		return mapErr(err)
	}
	if err := root.RemoveAll(clean); err != nil {
		return mapErr(err)
	}
	return nil
}

// open ensures the service directory and opens it as an os.Root, which also
// refuses symlinks that point outside it.
func (r *Root) open(serviceID, rel string) (*os.Root, string, error) {
	clean, err := cleanRel(rel)
	if err != nil {
		return nil, "", err
	}
	dir, err := r.Ensure(serviceID)
	if err != nil {
		return nil, "", err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open service directory: %w", err)
	}
	return root, clean, nil
}

// ValidateName accepts a single, non-special path element.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidServiceID, name)
	}
	return nil
}

func cleanRel(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, `\`, "/")
	if strings.ContainsRune(rel, 0) {
		return "", ErrPathEscape
	}
	// path.Clean on a rooted path would swallow a leading "..", so track depth.
	depth := 0
	for _, part := range strings.Split(strings.TrimLeft(rel, "/"), "/") {
		switch part {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", ErrPathEscape
			}
		default:
			depth++
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if clean == "" {
		return ".", nil
	}
	return clean, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case strings.Contains(err.Error(), "path escapes from parent"):
		return fmt.Errorf("%w: %w", ErrPathEscape, err)
	default:
		return err
	}
}
