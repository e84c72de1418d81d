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
	"github.com/cz7host/cz7host/internal/backend"
)

// Status is the backend-independent run state of a service.
type Status string

const (
	StatusRunning       Status = "running"
	StatusStopped       Status = "stopped"
	StatusTransitioning Status = "transitioning"
	StatusNotFound      Status = "not_found"
	StatusUnknown       Status = "unknown"
)

// NormalizeStatus maps an adapter's native status to a Status.
func NormalizeStatus(backendKind, native string) Status {
	if native == backend.NativeNotFound {
		return StatusNotFound
	}

	switch backendKind {
	case backend.KindContainer:
		switch native {
		case "running":
			return StatusRunning
		case "created", "exited", "dead", "paused":
			return StatusStopped
		case "restarting", "removing":
			return StatusTransitioning
		}
	case backend.KindHypervisor:
		switch native {
		case "running", "blocked":
			return StatusRunning
		case "paused", "shutoff", "crashed", "pmsuspended":
			return StatusStopped
		case "shutdown":
			return StatusTransitioning
		}
	}
	return StatusUnknown
}
