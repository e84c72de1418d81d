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
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cz7host/cz7host/internal/hosting"
)

// CreateBackup archives a service's data directory
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	b, err := h.orchestrator.CreateBackup(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

// ListServiceBackups lists the backups of one service
func (h *Handler) ListServiceBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.orchestrator.ListBackups(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondBackups(w, backups)
}

// ListBackups lists every backup the caller owns, including those of
// deleted services
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.orchestrator.ListTenantBackups(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondBackups(w, backups)
}

// DownloadBackup serves a backup archive. Range and conditional requests
// are honoured.
func (h *Handler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	b, f, err := h.orchestrator.OpenBackup(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "backupID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": b.Filename}))
	if b.Checksum != "" {
		w.Header().Set("ETag", `"`+b.Checksum+`"`)
	}
	http.ServeContent(w, r, b.Filename, b.CreatedAt, f)
}

// RestoreBackup replaces a service's data with a backup
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.RestoreBackup(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "backupID")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteBackup removes a backup and its archive
func (h *Handler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.DeleteBackup(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "backupID")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondBackups(w http.ResponseWriter, backups []*hosting.Backup) {
	if backups == nil {
		backups = []*hosting.Backup{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"backups": backups})
}
