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
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cz7host/cz7host/internal/hosting"
	"github.com/cz7host/cz7host/internal/storage"
)

const maxJSONBody = 1 << 20

// ListFiles lists a directory of a service's data. The directory is given by
// the path query parameter and defaults to the root.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.orchestrator.ListFiles(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID"), r.URL.Query().Get("path"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if files == nil {
		files = []storage.FileInfo{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"files": files})
}

// ReadFile returns the raw content of a file
func (h *Handler) ReadFile(w http.ResponseWriter, r *http.Request) {
	data, err := h.orchestrator.ReadFile(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID"), r.URL.Query().Get("path"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// WriteFile replaces a file with the raw request body
func (h *Handler) WriteFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, hosting.MaxFileSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := h.orchestrator.WriteFile(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID"), rel, data); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteFile removes a file or directory
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := h.orchestrator.DeleteFile(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID"), rel); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
