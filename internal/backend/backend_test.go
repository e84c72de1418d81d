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

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates plan ceilings translate into engine units.
// Scope: Unit Test
// Expected: MB become bytes, vcores become 1024-based shares and whole vCPUs with sane minimums.
// Test Case ID: BCK-01
func TestCeiling_Conversions(t *testing.T) {
	c := Ceiling{MemoryMB: 256, CPUVCore: 0.5, DiskGB: 1}
	assert.Equal(t, int64(256*1024*1024), c.MemoryBytes())
	assert.Equal(t, int64(512), c.CPUShares())
	assert.Equal(t, uint(1), c.VCPUs())

	c = Ceiling{MemoryMB: 2048, CPUVCore: 2.5}
	assert.Equal(t, int64(2560), c.CPUShares())
	assert.Equal(t, uint(3), c.VCPUs())

	assert.Equal(t, int64(2), Ceiling{CPUVCore: 0.0001}.CPUShares())
	assert.Equal(t, uint(1), Ceiling{}.VCPUs())
}

// TestPurpose: Validates ceilings without memory or CPU are rejected before reaching a driver.
// Scope: Unit Test
// Expected: Validate errors on zero memory or CPU.
// Test Case ID: BCK-02
func TestCeiling_Validate(t *testing.T) {
	assert.NoError(t, Ceiling{MemoryMB: 1, CPUVCore: 0.1}.Validate())
	assert.Error(t, Ceiling{CPUVCore: 1}.Validate())
	assert.Error(t, Ceiling{MemoryMB: 1}.Validate())
}
