package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forest6511/clipvault/internal/app"
	"github.com/forest6511/clipvault/pkg/clipboard"
	"github.com/forest6511/clipvault/pkg/crypto"
	"github.com/forest6511/clipvault/pkg/daemon"
	"github.com/forest6511/clipvault/pkg/query"
	"github.com/forest6511/clipvault/pkg/vault"
)

// maxBodyBytes bounds request bodies: the largest item plus base64 and
// JSON overhead.
const maxBodyBytes = vault.MaxContentSize/3*4 + 64*1024

type handler struct {
	svc       Service
	keepAlive time.Duration
}

// UnlockRequest is the body of POST /v1/unlock.
type UnlockRequest struct {
	Password string `json:"password"`
}

// UpdateRequest is the body of PUT /v1/items. Ref is a content hash or
// the literal old content.
type UpdateRequest struct {
	Ref      string `json:"ref"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// CopyRequest is the body of POST /v1/clipboard.
type CopyRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// CaptureResponse reports in-process capture.
type CaptureResponse struct {
	Running bool          `json:"running"`
	Stats   *daemon.Stats `json:"stats,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

func (h *handler) unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !decode(w, r, &req) {
		return
	}
	password := []byte(req.Password)
	defer crypto.SecureWipe(password)

	ok, err := h.svc.UnlockVault(r.Context(), password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

func (h *handler) lock(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.LockVault(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	limit, after, ok := paging(w, r)
	if !ok {
		return
	}
	page, err := h.svc.ListClipboard(r.Context(), limit, after)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	limit, after, ok := paging(w, r)
	if !ok {
		return
	}
	page, err := h.svc.SearchClipboard(r.Context(), r.URL.Query().Get("q"), limit, after)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) latest(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Latest(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	ref, ok := refParam(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Get(r.Context(), ref)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Encoding == "" {
		req.Encoding = query.EncodingText
	}
	content, err := query.DecodeContent(req.Content, req.Encoding)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.UpdateItem(r.Context(), req.Ref, content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	ref, ok := refParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteItem(r.Context(), ref); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) copy(w http.ResponseWriter, r *http.Request) {
	var req CopyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.CopyToClipboard(r.Context(), req.Content, req.ContentType); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) settings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Settings(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	var s vault.Settings
	if !decode(w, r, &s) {
		return
	}
	if err := h.svc.SaveSettings(r.Context(), s); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) captureStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.capture())
}

func (h *handler) captureStart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartCapture(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.capture())
}

func (h *handler) captureStop(w http.ResponseWriter, _ *http.Request) {
	h.svc.StopCapture()
	writeJSON(w, http.StatusOK, h.capture())
}

func (h *handler) capture() CaptureResponse {
	stats, running := h.svc.CaptureStats()
	if !running {
		return CaptureResponse{}
	}
	return CaptureResponse{Running: true, Stats: &stats}
}

// events streams clipboard-updated notifications as server-sent events
// until the client goes away or the service shuts down.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, cancel := h.svc.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.ErrorContext(ctx, "failed to encode event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// paging reads limit and after from the query string. Missing values
// fall through to the query engine's defaults.
func paging(w http.ResponseWriter, r *http.Request) (int, *int64, bool) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return 0, nil, false
		}
		limit = n
	}
	var after *int64
	if s := q.Get("after"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after")
			return 0, nil, false
		}
		after = &n
	}
	return limit, after, true
}

func refParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ref, err := url.PathUnescape(chi.URLParam(r, "ref"))
	if err != nil || ref == "" {
		writeError(w, http.StatusBadRequest, "invalid ref")
		return "", false
	}
	return ref, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		LoggerFromContext(r.Context()).WarnContext(r.Context(), "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrWrongPassword):
		return http.StatusUnauthorized
	case errors.Is(err, vault.ErrVaultLocked):
		return http.StatusLocked
	case errors.Is(err, vault.ErrNotFound), errors.Is(err, vault.ErrVaultNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrAlreadyExists), errors.Is(err, daemon.ErrDaemonAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, vault.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, vault.ErrContentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, clipboard.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, vault.ErrEmptyContent),
		errors.Is(err, vault.ErrInvalidHash),
		errors.Is(err, vault.ErrEmptyPassword),
		errors.Is(err, vault.ErrInvalidSettings),
		errors.Is(err, app.ErrInvalidPassword),
		errors.Is(err, app.ErrInvalidContent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes its mapped status. Messages of
// unclassified errors stay in the log; corruption is reported verbatim so
// the user learns the vault needs attention.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError && !errors.Is(err, vault.ErrCorrupt) {
		msg = "internal error"
	}
	LoggerFromContext(r.Context()).WarnContext(r.Context(), "request failed", "status", code, "error", err)
	writeError(w, code, msg)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
