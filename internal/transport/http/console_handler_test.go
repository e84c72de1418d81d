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


package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/hosting"
)

// TestPurpose: Validates plain-text log retrieval with tail and follow options.
// Scope: Unit Test
// Expected: 200 text/plain carrying the stream verbatim; the orchestrator receives the parsed options.
// Test Case ID: API-12
func TestHandler_ServiceLogs(t *testing.T) {
	s := newTestServer(t)
	s.orch.On("Logs", mock.Anything, testTenant, "s1", backend.LogOptions{Follow: true, Tail: 50}).
		Return(io.NopCloser(strings.NewReader("[Server] Done (3.2s)!\nPlayer joined\n")), nil)

	w := s.do("GET", "/api/v1/services/s1/logs?tail=50&follow=true", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "[Server] Done (3.2s)!\nPlayer joined\n", w.Body.String())
	s.orch.AssertExpectations(t)
}

// TestPurpose: Validates log request refusals.
// Scope: Unit Test
// Expected: 400 for a malformed tail or follow value without calling the orchestrator; 409 for a service without console output.
// Test Case ID: API-13
func TestHandler_ServiceLogs_Refusals(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/v1/services/s1/logs?tail=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/v1/services/s1/logs?follow=maybe", nil).Code)
	s.orch.AssertNotCalled(t, "Logs", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	s.orch.On("Logs", mock.Anything, testTenant, "vm1", backend.LogOptions{}).Return(nil, hosting.ErrNoConsole)
	w := s.do("GET", "/api/v1/services/vm1/logs", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "no console output")
}

func dialConsole(t *testing.T, s *testServer, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, header)
}

// TestPurpose: Validates the console socket streams one line per message and closes normally at end of output.
// Scope: Integration Test (loopback HTTP)
// Expected: Two text messages with the log lines, then a normal closure; follow is forced on.
// Test Case ID: API-14
func TestHandler_ServiceConsole(t *testing.T) {
	s := newTestServer(t)
	s.orch.On("Logs", mock.Anything, testTenant, "s1", backend.LogOptions{Follow: true, Tail: 10}).
		Return(io.NopCloser(strings.NewReader("line one\nline two\n")), nil)

	conn, _, err := dialConsole(t, s, "/api/v1/services/s1/console?tail=10")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	for _, want := range []string{"line one", "line two"} {
		typ, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, typ)
		assert.Equal(t, want, string(msg))
	}

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

// TestPurpose: Validates that console refusals happen before the upgrade.
// Scope: Integration Test (loopback HTTP)
// Security: A foreign tenant's console request is rejected with a plain 403.
// Expected: The handshake fails with the mapped HTTP status.
// Test Case ID: API-15
func TestHandler_ServiceConsole_Forbidden(t *testing.T) {
	s := newTestServer(t)
	s.orch.On("Logs", mock.Anything, testTenant, "s2", mock.Anything).Return(nil, hosting.ErrForbidden)

	_, resp, err := dialConsole(t, s, "/api/v1/services/s2/console")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// TestPurpose: Validates backup archive download.
// Scope: Unit Test
// Expected: Full download has gzip type, attachment filename and ETag; a Range request returns 206 with the requested bytes.
// Test Case ID: API-16
func TestHandler_DownloadBackup(t *testing.T) {
	s := newTestServer(t)
	content := "\x1f\x8barchive-bytes"
	path := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	b := &hosting.Backup{
		ID:        "b1",
		Filename:  "backup_2026-01-01_00-00-00.000000000.tar.gz",
		Checksum:  "abc123",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	open := func() *os.File {
		f, err := os.Open(path)
		require.NoError(t, err)
		return f
	}
	s.orch.On("OpenBackup", mock.Anything, testTenant, "b1").Return(b, open(), nil).Once()
	s.orch.On("OpenBackup", mock.Anything, testTenant, "b1").Return(b, open(), nil).Once()

	w := s.do("GET", "/api/v1/backups/b1/download", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=`+b.Filename, w.Header().Get("Content-Disposition"))
	assert.Equal(t, `"abc123"`, w.Header().Get("ETag"))
	assert.Equal(t, content, w.Body.String())

	req := httptest.NewRequest("GET", "/api/v1/backups/b1/download", nil)
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Range", "bytes=2-")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "archive-bytes", w.Body.String())
}

// TestPurpose: Validates download refusals map to HTTP statuses.
// Scope: Unit Test
// Security: Another tenant's backup is not served.
// Expected: 403 for a foreign backup, 404 for a missing one.
// Test Case ID: API-17
func TestHandler_DownloadBackup_Refusals(t *testing.T) {
	s := newTestServer(t)
	s.orch.On("OpenBackup", mock.Anything, testTenant, "theirs").Return(nil, nil, hosting.ErrForbidden)
	s.orch.On("OpenBackup", mock.Anything, testTenant, "gone").Return(nil, nil, hosting.ErrNotFound)

	assert.Equal(t, http.StatusForbidden, s.do("GET", "/api/v1/backups/theirs/download", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/v1/backups/gone/download", nil).Code)
}

// TestPurpose: Validates the host status report.
// Scope: Unit Test
// Expected: 200 with one entry per backend including derived memory figures and per-backend errors.
// Test Case ID: API-18
func TestHandler_SystemStatus(t *testing.T) {
	s := newTestServer(t)
	s.orch.On("HostStatus", mock.Anything).Return(&hosting.HostStatus{Backends: []hosting.BackendHost{
		{Backend: "container", CPUs: 8, MemoryTotalBytes: 1 << 30, Running: 2},
		{Backend: "hypervisor", Error: "rpc: connection reset"},
	}}, nil)

	w := s.do("GET", "/api/v1/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	backends := decodeBody(t, w)["backends"].([]any)
	require.Len(t, backends, 2)
	first := backends[0].(map[string]any)
	assert.Equal(t, "container", first["backend"])
	assert.Equal(t, float64(8), first["cpus"])
	assert.Equal(t, float64(1<<30), first["memory_total_bytes"])
	assert.Equal(t, "rpc: connection reset", backends[1].(map[string]any)["error"])
}
