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

package hosting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cz7host/cz7host/internal/audit"
	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/billing"
	"github.com/cz7host/cz7host/internal/id"
	"github.com/cz7host/cz7host/internal/observability/logger"
	"github.com/cz7host/cz7host/internal/observability/metrics"
)

// MaxNameLength bounds service display names.
const MaxNameLength = 64

// statusConcurrency bounds parallel status queries when listing.
const statusConcurrency = 8

// Deps are the orchestrator's collaborators. Container and Hypervisor may be
// nil when that backend is disabled; kinds routed to it are then unsupported.
type Deps struct {
	Services    Repository
	Backups     BackupRepository
	Quota       QuotaAuthorizer
	Container   Backend
	Hypervisor  Backend
	Catalog     *Catalog
	DataRoot    DataRoot
	Archives    ArchiveStore
	Audit       audit.Logger
	Meter       *metrics.Meter
	Locks       *LockTable
	CallTimeout time.Duration
}

type route struct {
	backend Backend
	image   Image
}

// Orchestrator owns service lifecycles.
type Orchestrator struct {
	services    Repository
	backups     BackupRepository
	quota       QuotaAuthorizer
	routes      map[Kind]route
	adapters    map[string]Backend
	dataRoot    DataRoot
	archives    ArchiveStore
	auditLogger audit.Logger
	locks       *LockTable
	inst        *instruments
	callTimeout time.Duration
}

// NewOrchestrator resolves the kind routing table and returns an
// orchestrator.
func NewOrchestrator(d Deps) (*Orchestrator, error) {
	if d.Services == nil || d.Quota == nil || d.DataRoot == nil {
		return nil, fmt.Errorf("services, quota and data root are required")
	}
	if d.Catalog == nil {
		d.Catalog = DefaultCatalog()
	}
	if d.Locks == nil {
		d.Locks = NewLockTable()
	}

	inst, err := newInstruments(d.Meter)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		services:    d.Services,
		backups:     d.Backups,
		quota:       d.Quota,
		routes:      make(map[Kind]route),
		adapters:    make(map[string]Backend),
		dataRoot:    d.DataRoot,
		archives:    d.Archives,
		auditLogger: d.Audit,
		locks:       d.Locks,
		inst:        inst,
		callTimeout: d.CallTimeout,
	}

	for _, b := range []Backend{d.Container, d.Hypervisor} {
		if b != nil {
			o.adapters[b.Kind()] = b
		}
	}

	for _, kind := range Kinds {
		b, ok := o.adapters[kind.BackendKind()]
		if !ok {
			continue
		}
		if kind.IsVM() {
			o.routes[kind] = route{backend: b}
			continue
		}
		if img, ok := d.Catalog.Lookup(kind); ok {
			o.routes[kind] = route{backend: b, image: img}
		}
	}

	return o, nil
}

// SupportedKinds returns the kinds this orchestrator can provision.
func (o *Orchestrator) SupportedKinds() []Kind {
	out := make([]Kind, 0, len(o.routes))
	for _, k := range Kinds {
		if _, ok := o.routes[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Create provisions a new service for tenant.
func (o *Orchestrator) Create(ctx context.Context, tenantID, name string, kind Kind) (svc *Service, err error) {
	ctx, span := startSpan(ctx, "hosting.Create",
		attribute.String("tenant.id", tenantID),
		attribute.String("service.kind", string(kind)),
	)
	defer func() { endSpan(span, err) }()

	rt, ok := o.routes[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: must be 1-%d characters", ErrInvalidName, MaxNameLength)
	}

	// held across the quota check and finalize so parallel creates cannot overshoot
	unlock, err := o.locks.Lock(ctx, tenantKey(tenantID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	plan, err := o.quota.Authorize(ctx, tenantID)
	if err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) || errors.Is(err, billing.ErrLimitReached) {
			return nil, fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		}
		return nil, fmt.Errorf("failed to evaluate quota: %w", err)
	}

	started := time.Now()
	svc = &Service{
		ID:        id.NewUUIDv7(),
		OwnerID:   tenantID,
		Name:      name,
		Kind:      kind,
		CreatedAt: started,
	}
	span.SetAttributes(attribute.String("service.id", svc.ID))

	if err := o.services.Create(ctx, svc); err != nil {
		return nil, fmt.Errorf("failed to persist service: %w", err)
	}
	o.advance(ctx, svc, PhaseProvisional, PhaseProvisioning)

	dataDir, err := o.dataRoot.Ensure(svc.ID)
	if err != nil {
		o.advance(ctx, svc, PhaseProvisioning, PhaseFailed)
		o.rollback(ctx, svc, err)
		o.inst.recordProvision(ctx, kind, "failed", started)
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	req := backend.ProvisionRequest{
		Name:    ResourceName(tenantID, svc.ID),
		Image:   rt.image.Image,
		Env:     rt.image.Env,
		DataDir: dataDir,
		Ceiling: backend.Ceiling{
			MemoryMB: plan.RAMMB,
			CPUVCore: plan.CPUVCore,
			DiskGB:   plan.DiskGB,
		},
	}

	callCtx, cancel := o.callContext(ctx)
	handle, err := rt.backend.Provision(callCtx, req)
	cancel()
	if err != nil {
		o.inst.recordBackendError(ctx, rt.backend.Kind(), "provision")
		o.advance(ctx, svc, PhaseProvisioning, PhaseFailed)
		o.rollback(ctx, svc, err)
		o.inst.recordProvision(ctx, kind, "failed", started)
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	h := Handle{Backend: rt.backend.Kind(), Value: handle}
	if err := o.services.AttachHandle(ctx, svc.ID, h); err != nil {
		o.advance(ctx, svc, PhaseProvisioning, PhaseFailed)
		o.rollbackResource(ctx, svc, rt.backend, handle, err)
		o.inst.recordProvision(ctx, kind, "failed", started)
		return nil, fmt.Errorf("%w: failed to attach handle: %w", ErrProvisioningFailed, err)
	}
	setHandle(svc, h)
	o.advance(ctx, svc, PhaseProvisioning, PhaseActive)
	o.inst.recordProvision(ctx, kind, "success", started)

	o.audit(ctx, audit.TypeServiceCreated, svc, map[string]any{
		"kind":    string(kind),
		"backend": h.Backend,
		"handle":  h.Value,
		"plan":    plan.Name,
	})

	return svc, nil
}

// Get returns one of the tenant's services with its live status.
func (o *Orchestrator) Get(ctx context.Context, tenantID, serviceID string) (*ServiceView, error) {
	svc, err := o.load(ctx, tenantID, serviceID)
	if err != nil {
		return nil, err
	}
	status, err := o.status(ctx, svc)
	if err != nil {
		slog.WarnContext(ctx, "status query failed",
			logger.ServiceID(svc.ID),
			logger.Error(err),
		)
	}
	return &ServiceView{Service: svc, Status: status}, nil
}

// List returns the tenant's services with live status. A failed status
// query yields StatusUnknown for that service only.
func (o *Orchestrator) List(ctx context.Context, tenantID string) ([]*ServiceView, error) {
	ctx, span := startSpan(ctx, "hosting.List", attribute.String("tenant.id", tenantID))
	defer span.End()

	svcs, err := o.services.ListByOwner(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	views := make([]*ServiceView, len(svcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for i, svc := range svcs {
		views[i] = &ServiceView{Service: svc, Status: StatusUnknown}
		g.Go(func() error {
			status, err := o.status(gctx, svc)
			if err != nil {
				slog.WarnContext(gctx, "status query failed",
					logger.ServiceID(svc.ID),
					logger.Error(err),
				)
			}
			views[i].Status = status
			return nil
		})
	}
	_ = g.Wait()

	return views, nil
}

// Status returns the live normalized status of one of the tenant's services.
func (o *Orchestrator) Status(ctx context.Context, tenantID, serviceID string) (Status, error) {
	svc, err := o.load(ctx, tenantID, serviceID)
	if err != nil {
		return StatusUnknown, err
	}
	return o.status(ctx, svc)
}

// Start starts a service.
func (o *Orchestrator) Start(ctx context.Context, tenantID, serviceID string) error {
	return o.lifecycle(ctx, "start", tenantID, serviceID, func(ctx context.Context, b Backend, svc *Service, h Handle) error {
		if err := o.call(ctx, b, "start", func(ctx context.Context) error { return b.Start(ctx, h.Value) }); err != nil {
			return err
		}
		o.advance(ctx, svc, PhaseActive, PhaseStarted)
		o.audit(ctx, audit.TypeServiceStarted, svc, nil)
		return nil
	})
}

// Stop stops a service. Virtual machines are powered off without a guest
// shutdown.
func (o *Orchestrator) Stop(ctx context.Context, tenantID, serviceID string) error {
	return o.lifecycle(ctx, "stop", tenantID, serviceID, func(ctx context.Context, b Backend, svc *Service, h Handle) error {
		if err := o.call(ctx, b, "stop", func(ctx context.Context) error { return b.Stop(ctx, h.Value) }); err != nil {
			return err
		}
		o.advance(ctx, svc, PhaseActive, PhaseStopped)
		o.audit(ctx, audit.TypeServiceStopped, svc, nil)
		return nil
	})
}

// Restart stops and starts a service under one lock.
func (o *Orchestrator) Restart(ctx context.Context, tenantID, serviceID string) error {
	return o.lifecycle(ctx, "restart", tenantID, serviceID, func(ctx context.Context, b Backend, svc *Service, h Handle) error {
		if err := o.call(ctx, b, "stop", func(ctx context.Context) error { return b.Stop(ctx, h.Value) }); err != nil {
			return err
		}
		if err := o.call(ctx, b, "start", func(ctx context.Context) error { return b.Start(ctx, h.Value) }); err != nil {
			return err
		}
		o.audit(ctx, audit.TypeServiceRestarted, svc, nil)
		return nil
	})
}

// Delete removes the backend resource and then the record. The record is
// kept whenever removal fails, so the call can be retried. Backups survive.
func (o *Orchestrator) Delete(ctx context.Context, tenantID, serviceID string) error {
	return o.lifecycle(ctx, "delete", tenantID, serviceID, func(ctx context.Context, b Backend, svc *Service, h Handle) error {
		o.advance(ctx, svc, PhaseActive, PhaseDeleting)

		err := o.call(ctx, b, "remove", func(ctx context.Context) error { return b.Remove(ctx, h.Value) })
		if err != nil && !errors.Is(err, backend.ErrNotFound) {
			o.advance(ctx, svc, PhaseDeleting, PhaseActive)
			return err
		}
		if err != nil {
			slog.WarnContext(ctx, "backend resource already absent",
				logger.ServiceID(svc.ID),
				logger.Handle(h.Value),
			)
		}

		if err := o.services.Delete(ctx, svc.ID); err != nil {
			return fmt.Errorf("failed to delete service record: %w", err)
		}
		o.advance(ctx, svc, PhaseDeleting, PhaseDeleted)

		if err := o.dataRoot.RemoveAll(svc.ID); err != nil {
			slog.WarnContext(ctx, "failed to remove service data directory",
				logger.ServiceID(svc.ID),
				logger.Error(err),
			)
		}

		o.audit(ctx, audit.TypeServiceDeleted, svc, map[string]any{"handle": h.Value})
		return nil
	})
}

type lifecycleFunc func(ctx context.Context, b Backend, svc *Service, h Handle) error

// lifecycle serializes op on the service and hands it the loaded record.
// The record is read after the lock is taken.
func (o *Orchestrator) lifecycle(ctx context.Context, op, tenantID, serviceID string, fn lifecycleFunc) (err error) {
	ctx, span := startSpan(ctx, "hosting."+op,
		attribute.String("tenant.id", tenantID),
		attribute.String("service.id", serviceID),
	)
	defer func() { endSpan(span, err) }()

	unlock, err := o.locks.Lock(ctx, serviceKey(serviceID))
	if err != nil {
		return err
	}
	defer unlock()

	svc, err := o.load(ctx, tenantID, serviceID)
	if err != nil {
		return err
	}
	h, _ := svc.Handle()
	b, ok := o.adapters[h.Backend]
	if !ok {
		return fmt.Errorf("%w: %s backend is not enabled", ErrBackendError, h.Backend)
	}
	return fn(ctx, b, svc, h)
}

// load returns a finalized service owned by tenantID.
func (o *Orchestrator) load(ctx context.Context, tenantID, serviceID string) (*Service, error) {
	svc, err := o.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.Provisional() {
		return nil, ErrNotFound
	}
	if svc.OwnerID != tenantID {
		return nil, ErrForbidden
	}
	return svc, nil
}

func (o *Orchestrator) status(ctx context.Context, svc *Service) (Status, error) {
	h, ok := svc.Handle()
	if !ok {
		return StatusUnknown, nil
	}
	b, ok := o.adapters[h.Backend]
	if !ok {
		return StatusUnknown, nil
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	native, err := b.Status(callCtx, h.Value)
	if err != nil {
		o.inst.recordBackendError(ctx, b.Kind(), "status")
		return StatusUnknown, fmt.Errorf("%w: %w", ErrBackendError, err)
	}
	return NormalizeStatus(h.Backend, native), nil
}

// call runs one adapter call under the call timeout and maps its error.
func (o *Orchestrator) call(ctx context.Context, b Backend, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	if err := fn(callCtx); err != nil {
		o.inst.recordBackendError(ctx, b.Kind(), op)
		return fmt.Errorf("%w: %s: %w", ErrBackendError, op, err)
	}
	return nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout > 0 {
		return context.WithTimeout(ctx, o.callTimeout)
	}
	return context.WithCancel(ctx)
}

// rollback deletes the provisional record and its data directory. It runs
// even if the caller has gone away.
func (o *Orchestrator) rollback(ctx context.Context, svc *Service, cause error) {
	ctx = context.WithoutCancel(ctx)
	o.inst.rollbacks.Add(ctx, 1)

	slog.WarnContext(ctx, "provisioning failed, rolling back",
		logger.ServiceID(svc.ID),
		logger.TenantID(svc.OwnerID),
		logger.Kind(string(svc.Kind)),
		logger.Error(cause),
	)

	if err := o.services.Delete(ctx, svc.ID); err != nil {
		slog.ErrorContext(ctx, "failed to delete provisional service record",
			logger.ServiceID(svc.ID),
			logger.Error(err),
		)
	}
	if err := o.dataRoot.RemoveAll(svc.ID); err != nil {
		slog.WarnContext(ctx, "failed to remove service data directory",
			logger.ServiceID(svc.ID),
			logger.Error(err),
		)
	}

	o.audit(ctx, audit.TypeProvisioningFailed, svc, map[string]any{"kind": string(svc.Kind), "error": cause.Error()})
	o.audit(ctx, audit.TypeProvisioningRolledBack, svc, nil)
}

// rollbackResource undoes a provision whose handle could not be recorded.
// If the resource cannot be removed the provisional record is kept so the
// orphan stays discoverable.
func (o *Orchestrator) rollbackResource(ctx context.Context, svc *Service, b Backend, handle string, cause error) {
	ctx = context.WithoutCancel(ctx)
	callCtx, cancel := o.callContext(ctx)
	err := b.Remove(callCtx, handle)
	cancel()
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		o.inst.recordBackendError(ctx, b.Kind(), "remove")
		slog.ErrorContext(ctx, "failed to remove backend resource during rollback, keeping provisional record",
			logger.ServiceID(svc.ID),
			logger.Backend(b.Kind()),
			logger.Handle(handle),
			logger.Error(err),
		)
		o.audit(ctx, audit.TypeProvisioningFailed, svc, map[string]any{"handle": handle, "error": cause.Error()})
		return
	}
	o.rollback(ctx, svc, cause)
}

func (o *Orchestrator) advance(ctx context.Context, svc *Service, from, to Phase) {
	if !from.CanTransition(to) {
		slog.ErrorContext(ctx, "illegal lifecycle transition",
			logger.ServiceID(svc.ID),
			logger.Phase(string(from), string(to)),
		)
		return
	}
	slog.DebugContext(ctx, "service lifecycle transition",
		logger.ServiceID(svc.ID),
		logger.Phase(string(from), string(to)),
	)
}

func (o *Orchestrator) audit(ctx context.Context, eventType string, svc *Service, meta map[string]any) {
	if o.auditLogger == nil {
		return
	}
	o.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		TenantID: svc.OwnerID,
		ActorID:  svc.OwnerID,
		Resource: svc.ID,
		Metadata: meta,
	})
}

func setHandle(svc *Service, h Handle) {
	v := h.Value
	switch h.Backend {
	case backend.KindContainer:
		svc.ContainerID = &v
	case backend.KindHypervisor:
		svc.DomainName = &v
	}
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// ResourceName is the container or domain name for a service.
func ResourceName(tenantID, serviceID string) string {
	return "cz7host_" + unsafeNameChars.ReplaceAllString(tenantID, "-") + "_" + serviceID
}
