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

// Package container drives the local Docker Engine on behalf of the
// orchestrator.
package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/observability/logger"
)

// DataMountPath is where a service's data directory appears inside its container.
const DataMountPath = "/data"

// engineAPI is the slice of the Docker client the adapter uses.
type engineAPI interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (image.InspectResponse, []byte, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Info(ctx context.Context) (system.Info, error)
	Close() error
}

// Config holds adapter settings.
type Config struct {
	// StopTimeout is the grace period before the engine kills a stopping container.
	StopTimeout time.Duration
}

// Adapter implements the container capability contract on Docker.
type Adapter struct {
	engine      engineAPI
	stopTimeout time.Duration
	isNotFound  func(error) bool
	isConflict  func(error) bool
}

// New connects to the engine configured by the DOCKER_* environment and
// verifies it answers.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker engine unreachable: %w", err)
	}
	return newWithEngine(cli, cfg), nil
}

func newWithEngine(engine engineAPI, cfg Config) *Adapter {
	return &Adapter{
		engine:      engine,
		stopTimeout: cfg.StopTimeout,
		isNotFound:  client.IsErrNotFound,
		isConflict:  cerrdefs.IsConflict,
	}
}

// Kind returns backend.KindContainer.
func (a *Adapter) Kind() string {
	return backend.KindContainer
}

// Provision pulls the image if needed and creates a stopped container sized
// to the ceiling. The returned handle is the container id.
func (a *Adapter) Provision(ctx context.Context, req backend.ProvisionRequest) (string, error) {
	if req.Image == "" {
		return "", fmt.Errorf("image is required")
	}
	if err := req.Ceiling.Validate(); err != nil {
		return "", err
	}

	if err := a.ensureImage(ctx, req.Image); err != nil {
		return "", fmt.Errorf("failed to pull image %s: %w", req.Image, err)
	}

	resp, err := a.engine.ContainerCreate(ctx, &container.Config{
		Image: req.Image,
		Env:   buildEnv(req.Env),
		Labels: map[string]string{
			"cz7host.managed": "true",
		},
	}, buildHostConfig(req), nil, nil, req.Name)
	if err != nil {
		// A conflict means the name belongs to a container this call did not create.
		if !a.isConflict(err) {
			a.removePartial(context.WithoutCancel(ctx), req.Name)
		}
		return "", fmt.Errorf("failed to create container %s: %w", req.Name, err)
	}

	for _, w := range resp.Warnings {
		slog.WarnContext(ctx, "container created with warning",
			logger.Backend(backend.KindContainer),
			logger.Handle(resp.ID),
			logger.String("warning", w),
		)
	}

	return resp.ID, nil
}

// Start starts the container.
func (a *Adapter) Start(ctx context.Context, handle string) error {
	if err := a.engine.ContainerStart(ctx, handle, container.StartOptions{}); err != nil {
		return a.wrap("start", handle, err)
	}
	return nil
}

// Stop stops the container, letting the engine kill it after the grace period.
func (a *Adapter) Stop(ctx context.Context, handle string) error {
	opts := container.StopOptions{}
	if a.stopTimeout > 0 {
		secs := int(a.stopTimeout / time.Second)
		opts.Timeout = &secs
	}
	if err := a.engine.ContainerStop(ctx, handle, opts); err != nil {
		return a.wrap("stop", handle, err)
	}
	return nil
}

// Remove force-removes the container, running or not.
func (a *Adapter) Remove(ctx context.Context, handle string) error {
	if err := a.engine.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true}); err != nil {
		return a.wrap("remove", handle, err)
	}
	return nil
}

// Status returns the engine's state string, or backend.NativeNotFound.
func (a *Adapter) Status(ctx context.Context, handle string) (string, error) {
	info, err := a.engine.ContainerInspect(ctx, handle)
	if err != nil {
		if a.isNotFound(err) {
			return backend.NativeNotFound, nil
		}
		return "", fmt.Errorf("failed to inspect container %s: %w", handle, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return "", nil
	}
	return string(info.State.Status), nil
}

// Logs streams the container's stdout and stderr, interleaved, as plain
// text. Closing the returned reader ends the stream.
func (a *Adapter) Logs(ctx context.Context, handle string, opts backend.LogOptions) (io.ReadCloser, error) {
	lo := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
	}
	if opts.Tail > 0 {
		lo.Tail = strconv.Itoa(opts.Tail)
	}
	raw, err := a.engine.ContainerLogs(ctx, handle, lo)
	if err != nil {
		return nil, a.wrap("read logs of", handle, err)
	}

	// Containers are created without a TTY, so the engine multiplexes the
	// two streams with frame headers.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, raw)
		_ = raw.Close()
		pw.CloseWithError(err)
	}()
	return &logStream{PipeReader: pr, raw: raw}, nil
}

type logStream struct {
	*io.PipeReader
	raw io.Closer
}

func (s *logStream) Close() error {
	_ = s.PipeReader.Close()
	return s.raw.Close()
}

// HostInfo reports the engine host's CPUs, memory and running containers.
func (a *Adapter) HostInfo(ctx context.Context) (backend.HostInfo, error) {
	info, err := a.engine.Info(ctx)
	if err != nil {
		return backend.HostInfo{}, fmt.Errorf("failed to query engine info: %w", err)
	}
	var mem uint64
	if info.MemTotal > 0 {
		mem = uint64(info.MemTotal)
	}
	return backend.HostInfo{
		CPUs:             info.NCPU,
		MemoryTotalBytes: mem,
		Running:          info.ContainersRunning,
		Version:          info.ServerVersion,
	}, nil
}

// Close releases the engine connection.
func (a *Adapter) Close() error {
	if a.engine != nil {
		return a.engine.Close()
	}
	return nil
}

// removePartial force-removes a container a failed create may have left behind.
func (a *Adapter) removePartial(ctx context.Context, name string) {
	err := a.engine.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !a.isNotFound(err) {
		slog.WarnContext(ctx, "failed to remove partially created container",
			logger.Backend(backend.KindContainer),
			logger.Handle(name),
			logger.Error(err),
		)
	}
}

func (a *Adapter) wrap(op, handle string, err error) error {
	if a.isNotFound(err) {
		return fmt.Errorf("%s container %s: %w", op, handle, backend.ErrNotFound)
	}
	return fmt.Errorf("failed to %s container %s: %w", op, handle, err)
}

// ensureImage pulls the image if it is not available locally.
func (a *Adapter) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := a.engine.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	slog.InfoContext(ctx, "pulling image", logger.Backend(backend.KindContainer), logger.String("image", ref))
	reader, err := a.engine.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// buildEnv converts the env map into sorted KEY=VALUE pairs.
func buildEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func buildHostConfig(req backend.ProvisionRequest) *container.HostConfig {
	hc := &container.HostConfig{}
	hc.Resources.Memory = req.Ceiling.MemoryBytes()
	hc.Resources.CPUShares = req.Ceiling.CPUShares()

	if req.DataDir != "" {
		hc.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: req.DataDir,
			Target: DataMountPath,
		}}
	}
	return hc
}
