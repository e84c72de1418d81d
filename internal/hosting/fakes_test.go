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
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cz7host/cz7host/internal/audit"
	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/billing"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu        sync.Mutex
	services  map[string]Service
	attachErr error
}

func newMemRepo() *memRepo {
	return &memRepo{services: make(map[string]Service)}
}

func (r *memRepo) Create(_ context.Context, svc *Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[svc.ID]; ok {
		return fmt.Errorf("duplicate id %s", svc.ID)
	}
	r.services[svc.ID] = *svc
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &svc, nil
}

func (r *memRepo) AttachHandle(_ context.Context, id string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachErr != nil {
		return r.attachErr
	}
	svc, ok := r.services[id]
	if !ok {
		return ErrNotFound
	}
	if !svc.Provisional() {
		return ErrHandleAttached
	}
	setHandle(&svc, h)
	r.services[id] = svc
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[id]; !ok {
		return ErrNotFound
	}
	delete(r.services, id)
	return nil
}

func (r *memRepo) ListByOwner(_ context.Context, ownerID string) ([]*Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Service
	for _, svc := range r.services {
		if svc.OwnerID == ownerID && !svc.Provisional() {
			s := svc
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	svcs, err := r.ListByOwner(ctx, ownerID)
	return len(svcs), err
}

// all returns every record, provisional ones included.
func (r *memRepo) all() []Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	return out
}

// memBackups is an in-memory BackupRepository.
type memBackups struct {
	mu      sync.Mutex
	backups map[string]Backup
}

func newMemBackups() *memBackups {
	return &memBackups{backups: make(map[string]Backup)}
}

func (r *memBackups) Create(_ context.Context, b *Backup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups[b.ID] = *b
	return nil
}

func (r *memBackups) GetByID(_ context.Context, id string) (*Backup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (r *memBackups) list(match func(Backup) bool) []*Backup {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Backup
	for _, b := range r.backups {
		if match(b) {
			c := b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memBackups) ListByService(_ context.Context, serviceID string) ([]*Backup, error) {
	return r.list(func(b Backup) bool { return b.ServiceID == serviceID }), nil
}

func (r *memBackups) ListByOwner(_ context.Context, ownerID string) ([]*Backup, error) {
	return r.list(func(b Backup) bool { return b.OwnerID == ownerID }), nil
}

func (r *memBackups) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backups[id]; !ok {
		return ErrNotFound
	}
	delete(r.backups, id)
	return nil
}

// memPlans and memSubs back a real billing.QuotaEvaluator.
type memPlans struct {
	plans map[string]*billing.Plan
}

func (p *memPlans) Create(_ context.Context, plan *billing.Plan) error {
	p.plans[plan.ID] = plan
	return nil
}

func (p *memPlans) GetByID(_ context.Context, id string) (*billing.Plan, error) {
	if plan, ok := p.plans[id]; ok {
		return plan, nil
	}
	return nil, billing.ErrPlanNotFound
}

func (p *memPlans) GetByName(_ context.Context, name string) (*billing.Plan, error) {
	for _, plan := range p.plans {
		if plan.Name == name {
			return plan, nil
		}
	}
	return nil, billing.ErrPlanNotFound
}

func (p *memPlans) List(_ context.Context) ([]*billing.Plan, error) {
	var out []*billing.Plan
	for _, plan := range p.plans {
		out = append(out, plan)
	}
	return out, nil
}

type memSubs struct {
	mu   sync.Mutex
	subs map[string]*billing.Subscription
}

func (s *memSubs) Upsert(_ context.Context, sub *billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.TenantID] = sub
	return nil
}

func (s *memSubs) GetActiveByTenant(_ context.Context, tenantID string) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[tenantID]; ok && sub.Status == billing.StatusActive {
		return sub, nil
	}
	return nil, billing.ErrNoActiveSubscription
}

func (s *memSubs) GetLatestByTenant(_ context.Context, tenantID string) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[tenantID]; ok {
		return sub, nil
	}
	return nil, billing.ErrSubscriptionNotFound
}

// fakeBackend is an in-memory adapter. It flags overlapping calls on the
// same handle, which the orchestrator's lock must prevent.
type fakeBackend struct {
	kind string

	mu        sync.Mutex
	resources map[string]string
	seq       int
	inflight  map[string]bool
	overlaps  int

	provisionErr error
	removeErr    error
	statusErr    error
	lastReq      backend.ProvisionRequest
	delay        time.Duration

	console     string
	lastLogOpts backend.LogOptions
	host        backend.HostInfo
	hostErr     error

	provisions atomic.Int32
	starts     atomic.Int32
	stops      atomic.Int32
	removes    atomic.Int32
	calls      []string
}

func newFakeBackend(kind string) *fakeBackend {
	return &fakeBackend{
		kind:      kind,
		resources: make(map[string]string),
		inflight:  make(map[string]bool),
	}
}

func (f *fakeBackend) Kind() string { return f.kind }

func (f *fakeBackend) enter(handle, op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight[handle] {
		f.overlaps++
	}
	f.inflight[handle] = true
	f.calls = append(f.calls, op)
}

func (f *fakeBackend) leave(handle string) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inflight, handle)
}

func (f *fakeBackend) Provision(_ context.Context, req backend.ProvisionRequest) (string, error) {
	f.provisions.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	if f.provisionErr != nil {
		return "", f.provisionErr
	}
	f.seq++
	handle := fmt.Sprintf("%s-%d", f.kind, f.seq)
	if f.kind == backend.KindHypervisor {
		handle = req.Name
	}
	f.resources[handle] = "created"
	return handle, nil
}

func (f *fakeBackend) transition(handle, op, state string) error {
	f.enter(handle, op)
	defer f.leave(handle)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.resources[handle]; !ok {
		return fmt.Errorf("%s %s: %w", op, handle, backend.ErrNotFound)
	}
	f.resources[handle] = state
	return nil
}

func (f *fakeBackend) Start(_ context.Context, handle string) error {
	f.starts.Add(1)
	return f.transition(handle, "start", "running")
}

func (f *fakeBackend) Stop(_ context.Context, handle string) error {
	f.stops.Add(1)
	return f.transition(handle, "stop", "exited")
}

func (f *fakeBackend) Remove(_ context.Context, handle string) error {
	f.removes.Add(1)
	f.enter(handle, "remove")
	defer f.leave(handle)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, ok := f.resources[handle]; !ok {
		return fmt.Errorf("remove %s: %w", handle, backend.ErrNotFound)
	}
	delete(f.resources, handle)
	return nil
}

func (f *fakeBackend) Status(_ context.Context, handle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	state, ok := f.resources[handle]
	if !ok {
		return backend.NativeNotFound, nil
	}
	return state, nil
}

func (f *fakeBackend) Logs(_ context.Context, handle string, opts backend.LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLogOpts = opts
	if _, ok := f.resources[handle]; !ok {
		return nil, fmt.Errorf("logs %s: %w", handle, backend.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(f.console)), nil
}

func (f *fakeBackend) HostInfo(context.Context) (backend.HostInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.host, f.hostErr
}

// bareBackend hides every optional capability of the wrapped adapter.
type bareBackend struct {
	Backend
}

func (f *fakeBackend) live() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.resources))
	for k, v := range f.resources {
		out[k] = v
	}
	return out
}

// recordingAudit collects audit events.
type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Log(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Type
	}
	return out
}

var errBoom = errors.New("boom")
