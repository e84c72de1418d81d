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

// Package backend holds the vocabulary shared by the compute adapters.
package backend

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotFound is returned by adapters when the addressed resource is absent.
var ErrNotFound = errors.New("backend resource not found")

// NativeNotFound is the native status adapters report for a missing resource.
const NativeNotFound = "not_found"

// Adapter kinds.
const (
	KindContainer  = "container"
	KindHypervisor = "hypervisor"
)

// Ceiling is the resource envelope granted by a plan.
type Ceiling struct {
	MemoryMB int64
	CPUVCore float64
	DiskGB   int64
}

// MemoryBytes returns the memory cap in bytes.
func (c Ceiling) MemoryBytes() int64 {
	return c.MemoryMB * 1024 * 1024
}

// CPUShares returns the relative CPU weight, where 1024 is one full core.
func (c Ceiling) CPUShares() int64 {
	shares := int64(math.Round(c.CPUVCore * 1024))
	if shares < 2 {
		// the engine rejects weights below 2
		return 2
	}
	return shares
}

// VCPUs returns the whole number of virtual CPUs covering the ceiling.
func (c Ceiling) VCPUs() uint {
	n := uint(math.Ceil(c.CPUVCore))
	if n < 1 {
		return 1
	}
	return n
}

// Validate rejects non-positive ceilings.
func (c Ceiling) Validate() error {
	if c.MemoryMB <= 0 {
		return fmt.Errorf("memory ceiling must be positive, got %d MB", c.MemoryMB)
	}
	if c.CPUVCore <= 0 {
		return fmt.Errorf("cpu ceiling must be positive, got %g vcore", c.CPUVCore)
	}
	return nil
}

// ProvisionRequest describes a resource to create in stopped state.
type ProvisionRequest struct {
	// Name is unique per host and becomes the container or domain name.
	Name    string
	Image   string
	Env     map[string]string
	DataDir string
	Ceiling Ceiling
}

// LogOptions selects the console output an adapter streams.
type LogOptions struct {
	Follow bool
	// Tail limits history to the last Tail lines; zero means all of it.
	Tail int
}

// HostInfo is the capacity an adapter reports for the host it runs on.
type HostInfo struct {
	CPUs             int
	MemoryTotalBytes uint64
	// MemoryFreeBytes is zero when the backend does not report it.
	MemoryFreeBytes uint64
	Running         int
	Version         string
}
