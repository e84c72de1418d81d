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

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	r, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	return r
}

// TestPurpose: Validates that relative paths cannot escape a service directory.
// Scope: Unit Test
// Security: Path Traversal (CWE-22)
// Expected: Paths climbing above the service root are rejected; leading slashes and inner ".." that stay inside resolve.
// Test Case ID: STO-01
func TestRoot_Resolve_Traversal(t *testing.T) {
	r := newTestRoot(t)
	dir, err := r.Dir("svc-1")
	require.NoError(t, err)

	tests := []struct {
		rel     string
		want    string
		escapes bool
	}{
		{"world/level.dat", filepath.Join(dir, "world", "level.dat"), false},
		{"/server.properties", filepath.Join(dir, "server.properties"), false},
		{"", dir, false},
		{"a/../b", filepath.Join(dir, "b"), false},
		{"../svc-2/secret", "", true},
		{"a/../../etc/passwd", "", true},
		{`..\..\etc`, "", true},
		{"/../../root", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			got, err := r.Resolve("svc-1", tt.rel)
			if tt.escapes {
				assert.ErrorIs(t, err, ErrPathEscape)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestPurpose: Validates that service identifiers must be single path elements.
// Scope: Unit Test
// Security: Path Traversal (CWE-22)
// Expected: Empty, dot and slash-bearing ids are rejected.
// Test Case ID: STO-02
func TestRoot_Dir_InvalidServiceID(t *testing.T) {
	r := newTestRoot(t)
	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := r.Dir(id)
		assert.ErrorIs(t, err, ErrInvalidServiceID, id)
	}
}

// TestPurpose: Validates file operations inside a service directory.
// Scope: Unit Test
// Expected: Write creates parents; List and Read return what was written; Delete removes it.
// Test Case ID: STO-03
func TestRoot_FileOperations(t *testing.T) {
	r := newTestRoot(t)

	require.NoError(t, r.Write("svc-1", "plugins/config.yml", []byte("enabled: true\n")))
	require.NoError(t, r.Write("svc-1", "eula.txt", []byte("eula=true\n")))

	entries, err := r.List("svc-1", "/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "eula.txt", entries[0].Name)
	assert.False(t, entries[0].IsDir)
	assert.Equal(t, int64(10), entries[0].SizeBytes)
	assert.Equal(t, "plugins", entries[1].Name)
	assert.True(t, entries[1].IsDir)

	data, err := r.Read("svc-1", "plugins/config.yml")
	require.NoError(t, err)
	assert.Equal(t, "enabled: true\n", string(data))

	_, err = r.Read("svc-1", "plugins")
	assert.ErrorIs(t, err, ErrNotFile)

	_, err = r.List("svc-1", "eula.txt")
	assert.ErrorIs(t, err, ErrNotDirectory)

	require.NoError(t, r.Delete("svc-1", "plugins"))
	_, err = r.Read("svc-1", "plugins/config.yml")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, r.Delete("svc-1", "missing.txt"), ErrNotFound)
	assert.ErrorIs(t, r.Delete("svc-1", "/"), ErrPathEscape)
}

// TestPurpose: Validates that symlinks inside a service directory cannot be used to read outside it.
// Scope: Unit Test
// Security: Symlink Traversal (CWE-59)
// Expected: Reading through a link pointing outside the service directory fails.
// Test Case ID: STO-04
func TestRoot_Read_SymlinkEscape(t *testing.T) {
	r := newTestRoot(t)
	outside := filepath.Join(t.TempDir(), "host-secret")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))

	dir, err := r.Ensure("svc-1")
	require.NoError(t, err)
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	_, err = r.Read("svc-1", "link")
	assert.Error(t, err)
}
