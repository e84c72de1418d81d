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

package logger

import "log/slog"

// Request attributes
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}

func UserAgent(ua string) slog.Attr {
	return slog.String("user_agent", ua)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func Duration(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Hosting attributes
func TenantID(id string) slog.Attr {
	return slog.String("tenant_id", id)
}

func ServiceID(id string) slog.Attr {
	return slog.String("service_id", id)
}

func Kind(kind string) slog.Attr {
	return slog.String("kind", kind)
}

// Handle is the backend identifier: container ID or libvirt domain name.
func Handle(handle string) slog.Attr {
	return slog.String("handle", handle)
}

func Backend(name string) slog.Attr {
	return slog.String("backend", name)
}

func BackupID(id string) slog.Attr {
	return slog.String("backup_id", id)
}

func Archive(name string) slog.Attr {
	return slog.String("archive", name)
}

func Phase(from, to string) slog.Attr {
	return slog.Group("phase", slog.String("from", from), slog.String("to", to))
}

// Error attributes
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Component attributes
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}

// String creates a generic string attribute
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}
