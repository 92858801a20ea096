package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/buildd-settings/internal/settings"
)

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func setupTestRouter(t *testing.T, opts ...HandlerOption) (http.Handler, *settings.Settings, *controllableClock) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	s := settings.New(settings.WithLogger(logger))
	s.LoadDefaults(map[string]string{settings.KeyLogDir: "/site/log"})
	if err := s.Set(settings.KeyStoreDir, "/srv/my store"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := s.Update(); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	handler := NewHandler(s, append([]HandlerOption{WithClock(clock.Now)}, opts...)...)
	router := NewRouter(handler, logger, WithLogging(false))

	return router, s, clock
}

func doRequest(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router, _, clock := setupTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status     string    `json:"status"`
		Timestamp  time.Time `json:"timestamp"`
		Generation uint64    `json:"generation"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", clock.Now(), body.Timestamp)
	}
	if body.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", body.Generation)
	}
}

func TestListSettings(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Generation uint64 `json:"generation"`
		Settings   []struct {
			Key    string `json:"key"`
			Raw    string `json:"raw"`
			Source string `json:"source"`
		} `json:"settings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(body.Settings) != len(settings.DefaultFieldSpecs()) {
		t.Fatalf("expected %d settings, got %d", len(settings.DefaultFieldSpecs()), len(body.Settings))
	}
	if body.Settings[0].Key != settings.KeyStoreDir {
		t.Fatalf("expected settings in table order, first was %s", body.Settings[0].Key)
	}

	sources := make(map[string]string, len(body.Settings))
	for _, s := range body.Settings {
		sources[s.Key] = s.Source
	}
	if sources[settings.KeyStoreDir] != "override" {
		t.Fatalf("expected store-dir to be an override, got %s", sources[settings.KeyStoreDir])
	}
	if sources[settings.KeyLogDir] != "configured" {
		t.Fatalf("expected log-dir to be configured, got %s", sources[settings.KeyLogDir])
	}
	if sources[settings.KeyMaxBuildJobs] != "default" {
		t.Fatalf("expected build-max-jobs to be a default, got %s", sources[settings.KeyMaxBuildJobs])
	}
}

func TestGetSetting(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/api/settings/build-max-jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Key   string `json:"key"`
		Kind  string `json:"kind"`
		Value int64  `json:"value"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Kind != "integer" || body.Value != 1 {
		t.Fatalf("unexpected entry: %+v", body)
	}

	rec = doRequest(router, http.MethodGet, "/api/settings/no-such-setting", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestGetOverridesAndPacked(t *testing.T) {
	router, s, _ := setupTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/api/overrides", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body struct {
		Overrides map[string]string `json:"overrides"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Overrides) != 1 || body.Overrides[settings.KeyStoreDir] != "/srv/my store" {
		t.Fatalf("unexpected overrides: %v", body.Overrides)
	}

	rec = doRequest(router, http.MethodGet, "/api/overrides/packed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != s.Pack() {
		t.Fatalf("expected packed overrides %q, got %q", s.Pack(), got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %s", ct)
	}
}

func TestPutOverrideDisabledByDefault(t *testing.T) {
	router, s, _ := setupTestRouter(t)

	rec := doRequest(router, http.MethodPut, "/api/overrides/build-max-jobs", []byte(`{"value":"4"}`))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
	if s.IsOverridden(settings.KeyMaxBuildJobs) {
		t.Fatalf("expected no override to be recorded")
	}
}

func TestPutOverrideUpdatesSettings(t *testing.T) {
	router, s, _ := setupTestRouter(t, WithMutations(true))
	before := s.Current().Generation

	rec := doRequest(router, http.MethodPut, "/api/overrides/build-max-jobs", []byte(`{"value":"4"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Value   int64  `json:"value"`
		Source  string `json:"source"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Value != 4 || body.Source != "override" || body.Message == "" {
		t.Fatalf("unexpected response: %+v", body)
	}
	if got := s.Fields().MaxBuildJobs; got != 4 {
		t.Fatalf("expected settings to hold 4 jobs, got %d", got)
	}
	if s.Current().Generation != before+1 {
		t.Fatalf("expected a new snapshot generation")
	}
}

func TestPutOverrideValidatesInput(t *testing.T) {
	router, s, _ := setupTestRouter(t, WithMutations(true))

	cases := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{name: "invalid json", target: "/api/overrides/build-max-jobs", body: `{`, status: http.StatusBadRequest},
		{name: "missing value", target: "/api/overrides/build-max-jobs", body: `{}`, status: http.StatusBadRequest},
		{name: "coercion error", target: "/api/overrides/build-use-chroot", body: `{"value":"maybe"}`, status: http.StatusBadRequest},
		{name: "negative count", target: "/api/overrides/build-max-jobs", body: `{"value":"-2"}`, status: http.StatusBadRequest},
		{name: "unknown key", target: "/api/overrides/nope", body: `{"value":"1"}`, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(router, http.MethodPut, tc.target, []byte(tc.body))
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
		})
	}

	if len(s.Overrides()) != 1 {
		t.Fatalf("expected rejected requests to leave overrides untouched, got %v", s.Overrides())
	}
}

func TestCorsPreflight(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/overrides/build-max-jobs", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "PUT")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected X-Request-ID header to be echoed, got %s", got)
	}
}

func TestHandlerServesOwnInstanceWithoutRouter(t *testing.T) {
	t.Cleanup(settings.ResetGlobal)
	settings.ResetGlobal()

	s := settings.New(settings.WithLogger(zaptest.NewLogger(t)))
	if err := s.Set(settings.KeyBuildCores, "5"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := s.Update(); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	handler := NewHandler(s)

	req := httptest.NewRequest(http.MethodGet, "/api/overrides/packed", nil)
	rec := httptest.NewRecorder()
	handler.handleGetPacked(rec, req)
	if got := rec.Body.String(); got != "build-cores=5\n" {
		t.Fatalf("expected handler instance overrides, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = httptest.NewRecorder()
	handler.handleHealth(rec, req)
	var health healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", health.Generation)
	}
}
