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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates mutual exclusion per key.
// Scope: Unit Test
// Expected: Holders of one key never overlap; the table is empty afterwards.
// Test Case ID: LCK-01
func TestLockTable_MutualExclusion(t *testing.T) {
	lt := NewLockTable()
	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		maxSeen atomic.Int32
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lt.Lock(context.Background(), "service:1")
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(100 * time.Microsecond)
			holders.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Zero(t, lt.Len())
}

// TestPurpose: Validates that distinct keys do not block each other.
// Scope: Unit Test
// Expected: A second key is acquired while the first is held.
// Test Case ID: LCK-02
func TestLockTable_IndependentKeys(t *testing.T) {
	lt := NewLockTable()
	unlockA, err := lt.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := lt.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
	assert.Equal(t, 1, lt.Len())
}

// TestPurpose: Validates that a waiter honors its context.
// Scope: Unit Test
// Expected: Lock returns the context error; the held lock still works and the waiter leaves no entry.
// Test Case ID: LCK-03
func TestLockTable_ContextCancel(t *testing.T) {
	lt := NewLockTable()
	unlock, err := lt.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = lt.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Zero(t, lt.Len())

	unlock, err = lt.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}
