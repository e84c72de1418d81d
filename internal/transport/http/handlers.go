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
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cz7host/cz7host/internal/archive"
	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/billing"
	"github.com/cz7host/cz7host/internal/hosting"
	"github.com/cz7host/cz7host/internal/observability/logger"
	"github.com/cz7host/cz7host/internal/storage"
)

// Orchestrator is the hosting surface the handlers drive.
type Orchestrator interface {
	SupportedKinds() []hosting.Kind
	Create(ctx context.Context, tenantID, name string, kind hosting.Kind) (*hosting.Service, error)
	List(ctx context.Context, tenantID string) ([]*hosting.ServiceView, error)
	Get(ctx context.Context, tenantID, serviceID string) (*hosting.ServiceView, error)
	Status(ctx context.Context, tenantID, serviceID string) (hosting.Status, error)
	Start(ctx context.Context, tenantID, serviceID string) error
	Stop(ctx context.Context, tenantID, serviceID string) error
	Restart(ctx context.Context, tenantID, serviceID string) error
	Delete(ctx context.Context, tenantID, serviceID string) error

	CreateBackup(ctx context.Context, tenantID, serviceID string) (*hosting.Backup, error)
	ListBackups(ctx context.Context, tenantID, serviceID string) ([]*hosting.Backup, error)
	ListTenantBackups(ctx context.Context, tenantID string) ([]*hosting.Backup, error)
	RestoreBackup(ctx context.Context, tenantID, backupID string) error
	DeleteBackup(ctx context.Context, tenantID, backupID string) error

	ListFiles(ctx context.Context, tenantID, serviceID, rel string) ([]storage.FileInfo, error)
	ReadFile(ctx context.Context, tenantID, serviceID, rel string) ([]byte, error)
	WriteFile(ctx context.Context, tenantID, serviceID, rel string, content []byte) error
	DeleteFile(ctx context.Context, tenantID, serviceID, rel string) error

	Logs(ctx context.Context, tenantID, serviceID string, opts backend.LogOptions) (io.ReadCloser, error)
	HostStatus(ctx context.Context) (*hosting.HostStatus, error)
	OpenBackup(ctx context.Context, tenantID, backupID string) (*hosting.Backup, *os.File, error)
}

// UsageReporter reports a tenant's plan and service count.
type UsageReporter interface {
	Usage(ctx context.Context, tenantID string) (*billing.Usage, error)
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	orchestrator Orchestrator
	usage        UsageReporter
}

// NewHandler creates a new HTTP handler
func NewHandler(orchestrator Orchestrator, usage UsageReporter) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		usage:        usage,
	}
}

// RouterConfig tunes the router middleware.
type RouterConfig struct {
	// RequestTimeout bounds each request. Provisioning may pull images, so
	// this should be generous.
	RequestTimeout time.Duration
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, verifier *TokenVerifier, cfg RouterConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(verifier))
		r.Use(RequireTenant)

		// The console socket lives as long as the client keeps it open.
		r.Get("/services/{serviceID}/console", h.ServiceConsole)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			r.Get("/kinds", h.ListKinds)
			r.Get("/quota", h.GetQuota)
			r.Get("/system/status", h.SystemStatus)

			r.Route("/services", func(r chi.Router) {
				r.Get("/", h.ListServices)
				r.Post("/", h.CreateService)

				r.Route("/{serviceID}", func(r chi.Router) {
					r.Get("/", h.GetService)
					r.Delete("/", h.DeleteService)
					r.Get("/status", h.GetServiceStatus)
					r.Post("/start", h.StartService)
					r.Post("/stop", h.StopService)
					r.Post("/restart", h.RestartService)
					r.Get("/logs", h.ServiceLogs)

					r.Get("/backups", h.ListServiceBackups)
					r.Post("/backups", h.CreateBackup)

					r.Get("/files", h.ListFiles)
					r.Delete("/files", h.DeleteFile)
					r.Get("/files/content", h.ReadFile)
					r.Put("/files/content", h.WriteFile)
				})
			})

			r.Route("/backups", func(r chi.Router) {
				r.Get("/", h.ListBackups)
				r.Get("/{backupID}/download", h.DownloadBackup)
				r.Post("/{backupID}/restore", h.RestoreBackup)
				r.Delete("/{backupID}", h.DeleteBackup)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "cz7host",
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// quotaErrorResponse is the body of a quota denial.
type quotaErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
	Limit  *int   `json:"limit,omitempty"`
}

// respondDomainError maps hosting, archive and storage errors to HTTP.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, hosting.ErrQuotaExceeded):
		resp := quotaErrorResponse{Error: "quota exceeded", Reason: "no_active_subscription"}
		var le *billing.LimitError
		if errors.As(err, &le) {
			resp.Reason = "limit_reached"
			resp.Limit = &le.Limit
		}
		respondJSON(w, http.StatusForbidden, resp)
	case errors.Is(err, hosting.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, hosting.ErrNotFound),
		errors.Is(err, archive.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, hosting.ErrUnsupportedKind),
		errors.Is(err, hosting.ErrInvalidName),
		errors.Is(err, storage.ErrPathEscape),
		errors.Is(err, storage.ErrNotFile),
		errors.Is(err, storage.ErrNotDirectory):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, hosting.ErrNoConsole):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, archive.ErrMalformedArchive):
		respondError(w, http.StatusUnprocessableEntity, "backup archive is malformed")
	case errors.Is(err, archive.ErrSourceMissing):
		respondError(w, http.StatusConflict, "service data directory is missing")
	case errors.Is(err, hosting.ErrProvisioningFailed):
		logServerError(r, err)
		respondError(w, http.StatusBadGateway, "provisioning failed")
	case errors.Is(err, hosting.ErrBackendError):
		logServerError(r, err)
		respondError(w, http.StatusBadGateway, "backend error")
	case errors.Is(err, context.DeadlineExceeded):
		logServerError(r, err)
		respondError(w, http.StatusGatewayTimeout, "operation timed out")
	default:
		logServerError(r, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func logServerError(r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "request failed",
		logger.RequestID(middleware.GetReqID(r.Context())),
		logger.Method(r.Method),
		logger.Path(r.URL.Path),
		logger.TenantID(GetTenantID(r.Context())),
		logger.Error(err),
	)
}
