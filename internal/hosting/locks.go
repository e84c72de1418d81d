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
)

// LockTable hands out one mutex per key. Entries are dropped when the last
// holder or waiter releases them.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (t *LockTable) Lock(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		t.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			t.release(key, l)
		})
	}, nil
}

func (t *LockTable) release(key string, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func serviceKey(id string) string { return "service:" + id }
func tenantKey(id string) string  { return "tenant:" + id }
