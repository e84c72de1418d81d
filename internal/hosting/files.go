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

	"github.com/cz7host/cz7host/internal/storage"
)

// MaxFileSize bounds a single file written through WriteFile.
const MaxFileSize = 8 << 20

// ListFiles lists a directory inside the service's data directory.
func (o *Orchestrator) ListFiles(ctx context.Context, tenantID, serviceID, rel string) ([]storage.FileInfo, error) {
	svc, err := o.load(ctx, tenantID, serviceID)
	if err != nil {
		return nil, err
	}
	return o.dataRoot.List(svc.ID, rel)
}

// ReadFile returns a file from the service's data directory.
func (o *Orchestrator) ReadFile(ctx context.Context, tenantID, serviceID, rel string) ([]byte, error) {
	svc, err := o.load(ctx, tenantID, serviceID)
	if err != nil {
		return nil, err
	}
	return o.dataRoot.Read(svc.ID, rel)
}

// WriteFile creates or replaces a file in the service's data directory.
func (o *Orchestrator) WriteFile(ctx context.Context, tenantID, serviceID, rel string, content []byte) error {
	if len(content) > MaxFileSize {
		return fmt.Errorf("%w: file exceeds %d bytes", storage.ErrTooLarge, MaxFileSize)
	}
	return o.withService(ctx, tenantID, serviceID, func(svc *Service) error {
		return o.dataRoot.Write(svc.ID, rel, content)
	})
}

// DeleteFile removes a file or directory from the service's data directory.
func (o *Orchestrator) DeleteFile(ctx context.Context, tenantID, serviceID, rel string) error {
	return o.withService(ctx, tenantID, serviceID, func(svc *Service) error {
		return o.dataRoot.Delete(svc.ID, rel)
	})
}

// withService runs fn under the service lock so file edits do not race a
// restore or delete.
func (o *Orchestrator) withService(ctx context.Context, tenantID, serviceID string, fn func(*Service) error) error {
	unlock, err := o.locks.Lock(ctx, serviceKey(serviceID))
	if err != nil {
		return err
	}
	defer unlock()

	svc, err := o.load(ctx, tenantID, serviceID)
	if err != nil {
		return err
	}
	return fn(svc)
}
