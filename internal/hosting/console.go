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
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cz7host/cz7host/internal/backend"
)

// Logs opens the console output of one of the tenant's services. With
// opts.Follow the stream stays open until ctx is done or the resource
// stops. No lock is held while streaming.
func (o *Orchestrator) Logs(ctx context.Context, tenantID, serviceID string, opts backend.LogOptions) (io.ReadCloser, error) {
	svc, err := o.load(ctx, tenantID, serviceID)
	if err != nil {
		return nil, err
	}
	h, ok := svc.Handle()
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := o.adapters[h.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s backend is not enabled", ErrBackendError, h.Backend)
	}
	streamer, ok := b.(LogStreamer)
	if !ok {
		return nil, fmt.Errorf("%w: %s services", ErrNoConsole, h.Backend)
	}
	if opts.Tail < 0 {
		opts.Tail = 0
	}

	rc, err := streamer.Logs(ctx, h.Value, opts)
	if err != nil {
		o.inst.recordBackendError(ctx, b.Kind(), "logs")
		return nil, fmt.Errorf("%w: logs: %w", ErrBackendError, err)
	}
	return rc, nil
}

// BackendHost is one adapter's view of the host.
type BackendHost struct {
	Backend          string  `json:"backend"`
	CPUs             int     `json:"cpus"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes,omitempty"`
	MemoryPercent    float64 `json:"memory_percent,omitempty"`
	Running          int     `json:"running"`
	Version          string  `json:"version,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// HostStatus is the capacity of the host as reported by the enabled
// backends, ordered by backend kind.
type HostStatus struct {
	Backends []BackendHost `json:"backends"`
}

// HostStatus asks every enabled backend to describe the host. A backend
// that fails is reported with its error; the call itself fails only when
// ctx does.
func (o *Orchestrator) HostStatus(ctx context.Context) (*HostStatus, error) {
	ctx, span := startSpan(ctx, "hosting.HostStatus")
	defer span.End()

	kinds := make([]string, 0, len(o.adapters))
	for kind := range o.adapters {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	out := make([]BackendHost, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		out[i] = BackendHost{Backend: kind}
		reporter, ok := o.adapters[kind].(HostReporter)
		if !ok {
			continue
		}
		g.Go(func() error {
			callCtx, cancel := o.callContext(gctx)
			defer cancel()
			info, err := reporter.HostInfo(callCtx)
			if err != nil {
				o.inst.recordBackendError(gctx, kind, "host_info")
				out[i].Error = err.Error()
				return nil
			}
			out[i] = hostView(kind, info)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("backends", len(out)))
	return &HostStatus{Backends: out}, nil
}

func hostView(kind string, info backend.HostInfo) BackendHost {
	v := BackendHost{
		Backend:          kind,
		CPUs:             info.CPUs,
		MemoryTotalBytes: info.MemoryTotalBytes,
		Running:          info.Running,
		Version:          info.Version,
	}
	if info.MemoryFreeBytes > 0 && info.MemoryFreeBytes <= info.MemoryTotalBytes {
		v.MemoryUsedBytes = info.MemoryTotalBytes - info.MemoryFreeBytes
		v.MemoryPercent = float64(v.MemoryUsedBytes) / float64(info.MemoryTotalBytes) * 100
	}
	return v
}
