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


package http

import "context"

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	subjectKey  contextKey = "subject"
)

// GetTenantID retrieves the authenticated Tenant ID from context.
func GetTenantID(ctx context.Context) string {
	if val, ok := ctx.Value(tenantIDKey).(string); ok {
		return val
	}
	return ""
}

// GetSubject retrieves the raw token subject from context.
func GetSubject(ctx context.Context) string {
	if val, ok := ctx.Value(subjectKey).(string); ok {
		return val
	}
	return ""
}

// WithTenantID returns a context carrying tenantID as the authenticated
// tenant.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	ctx = context.WithValue(ctx, subjectKey, tenantID)
	return context.WithValue(ctx, tenantIDKey, tenantID)
}
