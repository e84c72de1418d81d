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


// Package app wires configuration, storage and backends into a ready
// orchestrator for the server and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cz7host/cz7host/internal/archive"
	"github.com/cz7host/cz7host/internal/audit"
	"github.com/cz7host/cz7host/internal/backend/container"
	"github.com/cz7host/cz7host/internal/backend/hypervisor"
	"github.com/cz7host/cz7host/internal/billing"
	"github.com/cz7host/cz7host/internal/config"
	"github.com/cz7host/cz7host/internal/hosting"
	"github.com/cz7host/cz7host/internal/observability/logger"
	"github.com/cz7host/cz7host/internal/observability/metrics"
	"github.com/cz7host/cz7host/internal/storage"
	"github.com/cz7host/cz7host/internal/store/postgres"
)

// App holds the wired components.
type App struct {
	DB            *postgres.DB
	Services      *postgres.ServiceRepository
	Backups       *postgres.BackupRepository
	Plans         *postgres.PlanRepository
	Subscriptions *postgres.SubscriptionRepository
	Billing       *billing.Service
	Quota         *billing.QuotaEvaluator
	Orchestrator  *hosting.Orchestrator

	closers []func() error
}

// OpenDB connects to PostgreSQL using cfg.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
}

// New connects every enabled component. A backend that is enabled but
// unreachable is an error.
func New(ctx context.Context, cfg *config.Config, meter *metrics.Meter) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.DB, err = OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.DB.Close(); return nil })

	a.Services = postgres.NewServiceRepository(a.DB)
	a.Backups = postgres.NewBackupRepository(a.DB)
	a.Plans = postgres.NewPlanRepository(a.DB)
	a.Subscriptions = postgres.NewSubscriptionRepository(a.DB)

	auditLogger := audit.NewSlogLogger()
	a.Billing = billing.NewService(a.Plans, a.Subscriptions, auditLogger)
	a.Quota = billing.NewQuotaEvaluator(a.Subscriptions, a.Plans, a.Services)

	deps := hosting.Deps{
		Services:    a.Services,
		Backups:     a.Backups,
		Quota:       a.Quota,
		Audit:       auditLogger,
		Meter:       meter,
		CallTimeout: cfg.Backends.CallTimeout,
	}

	if cfg.Backends.ContainerEnabled {
		c, err := container.New(ctx, container.Config{StopTimeout: cfg.Backends.ContainerStopTimeout})
		if err != nil {
			return nil, fmt.Errorf("container backend: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		deps.Container = c
		slog.InfoContext(ctx, "container backend ready", logger.Backend(c.Kind()))
	}
	if cfg.Backends.HypervisorEnabled {
		h, err := hypervisor.New(hypervisor.Config{
			Socket:    cfg.Backends.LibvirtSocket,
			URI:       cfg.Backends.LibvirtURI,
			BaseImage: cfg.Backends.VMBaseImage,
			DiskDir:   cfg.Backends.VMDiskDir,
		})
		if err != nil {
			return nil, fmt.Errorf("hypervisor backend: %w", err)
		}
		a.closers = append(a.closers, h.Close)
		deps.Hypervisor = h
		slog.InfoContext(ctx, "hypervisor backend ready", logger.Backend(h.Kind()))
	}
	if deps.Container == nil && deps.Hypervisor == nil {
		slog.WarnContext(ctx, "no backend enabled; every service kind is unsupported")
	}

	deps.Catalog, err = hosting.LoadCatalog(cfg.Backends.ImageCatalogPath)
	if err != nil {
		return nil, err
	}

	dataRoot, err := storage.NewRoot(cfg.Storage.ServiceDataRoot)
	if err != nil {
		return nil, err
	}
	deps.DataRoot = dataRoot

	mode, err := archive.ParseRestoreMode(cfg.Storage.RestoreMode)
	if err != nil {
		return nil, err
	}
	archives, err := archive.NewStore(cfg.Storage.BackupRoot, mode)
	if err != nil {
		return nil, err
	}
	deps.Archives = archives

	a.Orchestrator, err = hosting.NewOrchestrator(deps)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases backends and the database pool, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
