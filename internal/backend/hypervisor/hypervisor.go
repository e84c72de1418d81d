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

// Package hypervisor drives the local libvirt daemon on behalf of the
// orchestrator. Each service is one KVM domain booting a private copy of a
// fixed base disk.
package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"

	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/id"
	"github.com/cz7host/cz7host/internal/observability/logger"
)

// libvirtAPI is the slice of the libvirt RPC client the adapter uses.
type libvirtAPI interface {
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainCreate(Dom libvirt.Domain) error
	DomainDestroy(Dom libvirt.Domain) error
	DomainUndefine(Dom libvirt.Domain) error
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
	NodeGetInfo() ([32]int8, uint64, int32, int32, int32, int32, int32, int32, error)
	NodeGetFreeMemory() (uint64, error)
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	ConnectGetLibVersion() (uint64, error)
	Disconnect() error
}

// Config holds adapter settings.
type Config struct {
	Socket      string
	URI         string
	BaseImage   string
	DiskDir     string
	DialTimeout time.Duration
}

// Adapter implements the hypervisor capability contract on libvirt.
type Adapter struct {
	conn       libvirtAPI
	baseImage  string
	diskDir    string
	isNotFound func(error) bool
}

// New dials the libvirt socket and opens cfg.URI.
func New(cfg Config) (*Adapter, error) {
	opts := []dialers.LocalOption{}
	if cfg.Socket != "" {
		opts = append(opts, dialers.WithSocket(cfg.Socket))
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, dialers.WithLocalTimeout(cfg.DialTimeout))
	}

	l := libvirt.NewWithDialer(dialers.NewLocal(opts...))
	uri := libvirt.ConnectURI(cfg.URI)
	if uri == "" {
		uri = libvirt.QEMUSystem
	}
	if err := l.ConnectToURI(uri); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt %s: %w", uri, err)
	}

	return newWithConn(l, cfg), nil
}

func newWithConn(conn libvirtAPI, cfg Config) *Adapter {
	return &Adapter{
		conn:       conn,
		baseImage:  cfg.BaseImage,
		diskDir:    cfg.DiskDir,
		isNotFound: libvirt.IsNotFound,
	}
}

// Kind returns backend.KindHypervisor.
func (a *Adapter) Kind() string {
	return backend.KindHypervisor
}

// DiskPath returns the per-domain disk file.
func (a *Adapter) DiskPath(domain string) string {
	return filepath.Join(a.diskDir, domain+".qcow2")
}

// Provision clones the base disk and defines, without starting, a domain
// booting from it. The returned handle is the domain name.
func (a *Adapter) Provision(ctx context.Context, req backend.ProvisionRequest) (string, error) {
	if err := req.Ceiling.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	disk := a.DiskPath(req.Name)
	if err := cloneDisk(ctx, a.baseImage, disk); err != nil {
		return "", err
	}

	xml, err := domainXML(req.Name, id.NewUUID(), disk, req.Ceiling)
	if err != nil {
		a.removeDisk(ctx, req.Name)
		return "", err
	}

	if _, err := a.conn.DomainDefineXML(xml); err != nil {
		cleanup := context.WithoutCancel(ctx)
		a.undefinePartial(cleanup, req.Name)
		a.removeDisk(cleanup, req.Name)
		return "", fmt.Errorf("failed to define domain %s: %w", req.Name, err)
	}

	return req.Name, nil
}

// Start boots the domain.
func (a *Adapter) Start(ctx context.Context, handle string) error {
	dom, err := a.lookup(ctx, "start", handle)
	if err != nil {
		return err
	}
	if err := a.conn.DomainCreate(dom); err != nil {
		return a.wrap("start", handle, err)
	}
	return nil
}

// Stop powers the domain off immediately. The guest gets no shutdown signal.
func (a *Adapter) Stop(ctx context.Context, handle string) error {
	dom, err := a.lookup(ctx, "stop", handle)
	if err != nil {
		return err
	}
	if err := a.conn.DomainDestroy(dom); err != nil {
		return a.wrap("stop", handle, err)
	}
	return nil
}

// Remove undefines the domain and deletes its disk. A disk that cannot be
// deleted is logged and left behind.
func (a *Adapter) Remove(ctx context.Context, handle string) error {
	dom, err := a.lookup(ctx, "remove", handle)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			a.removeDisk(ctx, handle)
		}
		return err
	}

	// Undefining a running domain only makes it transient; it would keep
	// running after the record is gone.
	state, _, err := a.conn.DomainGetState(dom, 0)
	if err != nil {
		return a.wrap("get state of", handle, err)
	}
	if libvirt.DomainState(state) != libvirt.DomainShutoff {
		if err := a.conn.DomainDestroy(dom); err != nil && !a.isNotFound(err) {
			return fmt.Errorf("failed to power off domain %s: %w", handle, err)
		}
	}

	if err := a.conn.DomainUndefine(dom); err != nil {
		return a.wrap("undefine", handle, err)
	}

	a.removeDisk(ctx, handle)
	return nil
}

// Status returns the libvirt state name, or backend.NativeNotFound.
func (a *Adapter) Status(ctx context.Context, handle string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dom, err := a.conn.DomainLookupByName(handle)
	if err != nil {
		if a.isNotFound(err) {
			return backend.NativeNotFound, nil
		}
		return "", fmt.Errorf("failed to look up domain %s: %w", handle, err)
	}
	state, _, err := a.conn.DomainGetState(dom, 0)
	if err != nil {
		if a.isNotFound(err) {
			return backend.NativeNotFound, nil
		}
		return "", fmt.Errorf("failed to get state of domain %s: %w", handle, err)
	}
	return StateName(libvirt.DomainState(state)), nil
}

// HostInfo reports the node's CPUs, memory and running domains.
func (a *Adapter) HostInfo(ctx context.Context) (backend.HostInfo, error) {
	if err := ctx.Err(); err != nil {
		return backend.HostInfo{}, err
	}
	_, memKiB, cpus, _, _, _, _, _, err := a.conn.NodeGetInfo()
	if err != nil {
		return backend.HostInfo{}, fmt.Errorf("failed to query node info: %w", err)
	}
	free, err := a.conn.NodeGetFreeMemory()
	if err != nil {
		return backend.HostInfo{}, fmt.Errorf("failed to query free memory: %w", err)
	}
	running, _, err := a.conn.ConnectListAllDomains(1, libvirt.ConnectListDomainsRunning)
	if err != nil {
		return backend.HostInfo{}, fmt.Errorf("failed to list running domains: %w", err)
	}

	info := backend.HostInfo{
		CPUs:             int(cpus),
		MemoryTotalBytes: memKiB * 1024,
		MemoryFreeBytes:  free,
		Running:          len(running),
	}
	if v, err := a.conn.ConnectGetLibVersion(); err == nil {
		info.Version = libVersion(v)
	}
	return info, nil
}

// libVersion formats libvirt's major*1e6+minor*1e3+release encoding.
func libVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, v/1000%1000, v%1000)
}

// Close disconnects from libvirt.
func (a *Adapter) Close() error {
	if a.conn != nil {
		return a.conn.Disconnect()
	}
	return nil
}

// StateName maps a libvirt domain state to its conventional name.
func StateName(s libvirt.DomainState) string {
	switch s {
	case libvirt.DomainNostate:
		return "nostate"
	case libvirt.DomainRunning:
		return "running"
	case libvirt.DomainBlocked:
		return "blocked"
	case libvirt.DomainPaused:
		return "paused"
	case libvirt.DomainShutdown:
		return "shutdown"
	case libvirt.DomainShutoff:
		return "shutoff"
	case libvirt.DomainCrashed:
		return "crashed"
	case libvirt.DomainPmsuspended:
		return "pmsuspended"
	default:
		return "unknown"
	}
}

func (a *Adapter) lookup(ctx context.Context, op, handle string) (libvirt.Domain, error) {
	if err := ctx.Err(); err != nil {
		return libvirt.Domain{}, err
	}
	dom, err := a.conn.DomainLookupByName(handle)
	if err != nil {
		return libvirt.Domain{}, a.wrap(op, handle, err)
	}
	return dom, nil
}

func (a *Adapter) wrap(op, handle string, err error) error {
	if a.isNotFound(err) {
		return fmt.Errorf("%s domain %s: %w", op, handle, backend.ErrNotFound)
	}
	return fmt.Errorf("failed to %s domain %s: %w", op, handle, err)
}

// undefinePartial removes a domain a failed define may have left behind.
func (a *Adapter) undefinePartial(ctx context.Context, name string) {
	dom, err := a.conn.DomainLookupByName(name)
	if err != nil {
		if !a.isNotFound(err) {
			slog.WarnContext(ctx, "failed to look up partially defined domain",
				logger.Backend(backend.KindHypervisor),
				logger.Handle(name),
				logger.Error(err),
			)
		}
		return
	}
	if err := a.conn.DomainUndefine(dom); err != nil && !a.isNotFound(err) {
		slog.WarnContext(ctx, "failed to undefine partially defined domain",
			logger.Backend(backend.KindHypervisor),
			logger.Handle(name),
			logger.Error(err),
		)
	}
}

func (a *Adapter) removeDisk(ctx context.Context, domain string) {
	path := a.DiskPath(domain)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "failed to remove domain disk",
			logger.Backend(backend.KindHypervisor),
			logger.Handle(domain),
			logger.String("disk", path),
			logger.Error(err),
		)
	}
}

// cloneDisk copies the base image to dst, refusing to overwrite. The copy
// stops at the next chunk boundary once ctx is done.
func cloneDisk(ctx context.Context, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("base image not found at %s", src)
		}
		return fmt.Errorf("failed to open base image: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create disk %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		return fmt.Errorf("failed to clone base image: %w", err)
	}
	return out.Sync()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
