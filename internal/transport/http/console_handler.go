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

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/observability/logger"
)

const (
	consoleWriteWait = 10 * time.Second
	maxConsoleLine   = 1 << 20
)

// Clients authenticate with a bearer header, never cookies, so a
// cross-origin page gains nothing by opening the socket.
var consoleUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServiceLogs writes the service's console output as plain text. With
// follow=true the response is flushed as output arrives until the request
// times out or the client goes away.
func (h *Handler) ServiceLogs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseLogOptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc, err := h.orchestrator.Logs(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "serviceID"), opts)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rw := http.NewResponseController(w)
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			_ = rw.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && r.Context().Err() == nil {
				logStreamError(r, err)
			}
			return
		}
	}
}

// ServiceConsole upgrades to a WebSocket and sends the service's console
// output one line per text message, following it until either side closes.
// Messages from the client are read and discarded.
func (h *Handler) ServiceConsole(w http.ResponseWriter, r *http.Request) {
	opts, err := parseLogOptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Follow = true

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Opened before the upgrade so refusals are ordinary HTTP errors.
	rc, err := h.orchestrator.Logs(ctx, GetTenantID(r.Context()), chi.URLParam(r, "serviceID"), opts)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	defer rc.Close()

	conn, err := consoleUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		_ = rc.Close()
	}()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 4096), maxConsoleLine)
	for sc.Scan() {
		line := strings.ToValidUTF8(sc.Text(), "\uFFFD")
		_ = conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		logStreamError(r, err)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "console closed")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(consoleWriteWait))
}

func parseLogOptions(r *http.Request) (backend.LogOptions, error) {
	var opts backend.LogOptions
	q := r.URL.Query()
	if v := q.Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errors.New("tail must be a non-negative integer")
		}
		opts.Tail = n
	}
	if v := q.Get("follow"); v != "" {
		f, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("follow must be a boolean")
		}
		opts.Follow = f
	}
	return opts, nil
}

func logStreamError(r *http.Request, err error) {
	slog.WarnContext(r.Context(), "console stream ended with error",
		logger.RequestID(middleware.GetReqID(r.Context())),
		logger.Path(r.URL.Path),
		logger.TenantID(GetTenantID(r.Context())),
		logger.Error(err),
	)
}
