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

// Phase is a step in a service's lifecycle. Phases are not stored: the
// record holds identity and the backend holds run state.
type Phase string

const (
	PhaseProvisional  Phase = "provisional"
	PhaseProvisioning Phase = "provisioning"
	PhaseActive       Phase = "active"
	PhaseStarted      Phase = "started"
	PhaseStopped      Phase = "stopped"
	PhaseDeleting     Phase = "deleting"
	PhaseDeleted      Phase = "deleted"
	PhaseFailed       Phase = "failed"
)

var transitions = map[Phase][]Phase{
	PhaseProvisional:  {PhaseProvisioning},
	PhaseProvisioning: {PhaseActive, PhaseFailed},
	PhaseActive:       {PhaseStarted, PhaseStopped, PhaseDeleting},
	PhaseStarted:      {PhaseStarted, PhaseStopped, PhaseDeleting},
	PhaseStopped:      {PhaseStarted, PhaseStopped, PhaseDeleting},
	// a failed removal leaves the service active
	PhaseDeleting: {PhaseDeleted, PhaseActive},
}

// CanTransition reports whether to may follow p. Failed and Deleted are
// terminal.
func (p Phase) CanTransition(to Phase) bool {
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}
