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

// Package hosting provisions tenant services on the local container engine
// or hypervisor and keeps their durable records consistent with the live
// backend resources.
package hosting

import (
	"fmt"
	"time"

	"github.com/cz7host/cz7host/internal/backend"
)

// Kind is the product a service runs.
type Kind string

const (
	KindMinecraftPaper   Kind = "MINECRAFT_PAPER"
	KindMinecraftForge   Kind = "MINECRAFT_FORGE"
	KindMinecraftVanilla Kind = "MINECRAFT_VANILLA"
	KindPythonBot        Kind = "PYTHON_BOT"
	KindNodeJSApp        Kind = "NODEJS_APP"
	KindVPS              Kind = "VPS"
)

// Kinds lists every known kind.
var Kinds = []Kind{
	KindMinecraftPaper,
	KindMinecraftForge,
	KindMinecraftVanilla,
	KindPythonBot,
	KindNodeJSApp,
	KindVPS,
}

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// IsVM reports whether the kind runs as a virtual machine.
func (k Kind) IsVM() bool {
	return k == KindVPS
}

// IsMinecraft reports whether the kind is a Minecraft server.
func (k Kind) IsMinecraft() bool {
	switch k {
	case KindMinecraftPaper, KindMinecraftForge, KindMinecraftVanilla:
		return true
	}
	return false
}

// BackendKind returns the adapter kind that hosts k.
func (k Kind) BackendKind() string {
	if k.IsVM() {
		return backend.KindHypervisor
	}
	return backend.KindContainer
}

// Service is a tenant-owned compute unit. At most one of ContainerID and
// DomainName is set; a service with neither is provisional.
type Service struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	ContainerID *string   `json:"container_id,omitempty"`
	DomainName  *string   `json:"domain_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Provisional reports whether the backend handle has not been attached yet.
func (s *Service) Provisional() bool {
	return s.ContainerID == nil && s.DomainName == nil
}

// Handle returns the attached backend handle.
func (s *Service) Handle() (Handle, bool) {
	switch {
	case s.ContainerID != nil:
		return Handle{Backend: backend.KindContainer, Value: *s.ContainerID}, true
	case s.DomainName != nil:
		return Handle{Backend: backend.KindHypervisor, Value: *s.DomainName}, true
	}
	return Handle{}, false
}

// Handle identifies a backend resource.
type Handle struct {
	Backend string
	Value   string
}

// Backup is an immutable archive of one service's data directory. Backups
// outlive the service they were taken from.
type Backup struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"service_id"`
	OwnerID   string    `json:"owner_id"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// ServiceView is a service together with its live status.
type ServiceView struct {
	*Service
	Status Status `json:"status"`
}
