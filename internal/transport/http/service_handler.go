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
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cz7host/cz7host/internal/billing"
	"github.com/cz7host/cz7host/internal/hosting"
	"github.com/cz7host/cz7host/internal/observability/logger"
)

// CreateServiceRequest represents a service creation request
type CreateServiceRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// StatusResponse is the live status of one service
type StatusResponse struct {
	ID     string         `json:"id"`
	Status hosting.Status `json:"status"`
}

// QuotaResponse describes a tenant's plan and usage
type QuotaResponse struct {
	Plan      *billing.Plan `json:"plan"`
	Status    string        `json:"subscription_status"`
	Services  int           `json:"services"`
	Remaining int           `json:"remaining"`
}

// ListKinds returns the service kinds this host can provision
func (h *Handler) ListKinds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"kinds": h.orchestrator.SupportedKinds()})
}

// SystemStatus reports host capacity as seen by each enabled backend
func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.orchestrator.HostStatus(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// GetQuota returns the caller's plan and service usage
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	usage, err := h.usage.Usage(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			respondError(w, http.StatusNotFound, "no active subscription")
			return
		}
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, QuotaResponse{
		Plan:      usage.Plan,
		Status:    string(usage.Subscription.Status),
		Services:  usage.Services,
		Remaining: usage.Remaining(),
	})
}

// CreateService provisions a new service for the caller
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	var req CreateServiceRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, err := hosting.ParseKind(req.Kind)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	svc, err := h.orchestrator.Create(r.Context(), tenantID, req.Name, kind)
	if err != nil {
		slog.WarnContext(r.Context(), "service creation failed",
			logger.TenantID(tenantID),
			logger.Kind(string(kind)),
			logger.Error(err),
		)
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, svc)
}

// ListServices lists the caller's services with live status
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	views, err := h.orchestrator.List(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if views == nil {
		views = []*hosting.ServiceView{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"services": views})
}

// GetService returns one service with its live status
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	view, err := h.orchestrator.Get(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetServiceStatus returns the live normalized status of a service
func (h *Handler) GetServiceStatus(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")
	status, err := h.orchestrator.Status(r.Context(), GetTenantID(r.Context()), serviceID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{ID: serviceID, Status: status})
}

// StartService starts a service
func (h *Handler) StartService(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.orchestrator.Start)
}

// StopService stops a service
func (h *Handler) StopService(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.orchestrator.Stop)
}

// RestartService stops and starts a service
func (h *Handler) RestartService(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.orchestrator.Restart)
}

// DeleteService removes a service and its backend resource
func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Delete(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, serviceID string) error) {
	if err := op(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
