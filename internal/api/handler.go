package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/eugenenazirov/buildd-settings/internal/settings"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler exposes a settings instance over HTTP.
type Handler struct {
	settings *settings.Settings

	clock          func() time.Time
	allowMutations bool
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithMutations enables PUT /api/overrides/{key}.
func WithMutations(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.allowMutations = enabled
	}
}

// NewHandler constructs a Handler over s.
func NewHandler(s *settings.Settings, opts ...HandlerOption) *Handler {
	h := &Handler{
		settings: s,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Timestamp:  h.clock(),
		Generation: h.settings.Current().Generation,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListSettings(w http.ResponseWriter, r *http.Request) {
	snap := h.settings.Current()
	entries := snap.Entries()

	resp := settingsResponse{
		Generation: snap.Generation,
		Settings:   make([]settingEntry, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Settings = append(resp.Settings, newSettingEntry(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	entry, ok := h.settings.Current().Entry(key)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown setting", key)
		return
	}
	writeJSON(w, http.StatusOK, newSettingEntry(entry))
}

func (h *Handler) handleGetOverrides(w http.ResponseWriter, r *http.Request) {
	s := h.settings
	writeJSON(w, http.StatusOK, overridesResponse{Overrides: s.Overrides()})
}

func (h *Handler) handleGetPacked(w http.ResponseWriter, r *http.Request) {
	s := h.settings
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.Pack()))
}

func (h *Handler) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	if !h.allowMutations {
		writeError(w, http.StatusForbidden, "Overrides are read-only", "runtime overrides are disabled on this server")
		return
	}

	s := h.settings
	key := r.PathValue("key")
	if _, ok := s.Current().Entry(key); !ok {
		writeError(w, http.StatusNotFound, "Unknown setting", key)
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "value is required")
		return
	}

	if err := s.Set(key, *req.Value); err != nil {
		if errors.Is(err, settings.ErrCoercion) {
			writeError(w, http.StatusBadRequest, "Invalid setting value", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	entry, _ := s.Current().Entry(key)
	resp := newSettingEntry(entry)
	resp.Message = "Setting overridden successfully"
	writeJSON(w, http.StatusOK, resp)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func newSettingEntry(e settings.Entry) settingEntry {
	return settingEntry{
		Key:    e.Key,
		Kind:   e.Kind.String(),
		Value:  e.Value.Interface(),
		Raw:    e.Value.String(),
		Source: string(e.Source),
		Usage:  e.Usage,
	}
}

type overrideRequest struct {
	Value *string `json:"value"`
}

type settingEntry struct {
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Value   any    `json:"value"`
	Raw     string `json:"raw"`
	Source  string `json:"source"`
	Usage   string `json:"usage,omitempty"`
	Message string `json:"message,omitempty"`
}

type settingsResponse struct {
	Generation uint64         `json:"generation"`
	Settings   []settingEntry `json:"settings"`
}

type overridesResponse struct {
	Overrides map[string]string `json:"overrides"`
}

type healthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Generation uint64    `json:"generation"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
