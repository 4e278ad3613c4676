package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/amflab/foamgen/internal/artifact"
	"github.com/amflab/foamgen/internal/config"
	"github.com/amflab/foamgen/internal/porosity"
	"github.com/amflab/foamgen/internal/storage"
	"github.com/amflab/foamgen/internal/synth"
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

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubRunner returns a canned result without drawing anything and records
// the user config it was called with.
type stubRunner struct {
	mu     sync.Mutex
	lastUC synth.UserConfig
	result *synth.Result
	err    error
}

func (s *stubRunner) run(_ context.Context, uc synth.UserConfig, params *synth.Parameters, _ ...synth.Option) (*synth.Result, error) {
	s.mu.Lock()
	s.lastUC = uc
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	res := *s.result
	res.Parameters = *params
	return &res, nil
}

func (s *stubRunner) calledWith() synth.UserConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUC
}

func stubResult() *synth.Result {
	img := image.NewGray(image.Rect(0, 0, 12, 10))
	for i := range img.Pix {
		img.Pix[i] = 77
	}
	return &synth.Result{
		Image:      img,
		Porosities: porosity.Porosities{Total: 49.8, ByFoamPores: 39.5, ByTracks: 10.3},
		Iterations: 4,
	}
}

func setupTestRouter(t *testing.T, opts ...HandlerOption) (http.Handler, *controllableClock) {
	t.Helper()

	store := storage.NewMemoryStorage()
	clock := newControllableClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	opts = append([]HandlerOption{WithClock(clock.Now)}, opts...)
	handler := NewHandler(store, zaptest.NewLogger(t), opts...)
	router := NewRouter(handler, zaptest.NewLogger(t), WithLogging(false))

	return router, clock
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
	router, clock := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
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
}

func TestGetDefaultsReturnsBuiltins(t *testing.T) {
	router, clock := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/defaults", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Config    json.RawMessage `json:"config"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	uc, _, err := config.DecodeGenerationJSON(body.Config)
	if err != nil {
		t.Fatalf("returned config does not parse: %v", err)
	}
	if want := storage.DefaultSettings().UserConfig; uc != want {
		t.Fatalf("expected default user config %+v, got %+v", want, uc)
	}
	if !body.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", clock.Now(), body.UpdatedAt)
	}
}

func TestPutDefaultsUpdatesStorage(t *testing.T) {
	router, clock := setupTestRouter(t)

	clock.Advance(time.Hour)

	settings := storage.DefaultSettings()
	settings.UserConfig.LayerHeight = 60
	settings.UserConfig.Desired = porosity.Porosities{Total: 45, ByFoamPores: 15}
	payload, err := config.EncodeGeneration(settings.UserConfig, settings.Parameters, nil)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/defaults", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Config    json.RawMessage `json:"config"`
		UpdatedAt time.Time       `json:"updatedAt"`
		Message   string          `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Message == "" {
		t.Fatalf("expected success message, got empty string")
	}
	uc, _, err := config.DecodeGenerationJSON(body.Config)
	if err != nil {
		t.Fatalf("returned config does not parse: %v", err)
	}
	if uc.LayerHeight != 60 || uc.Desired.Total != 45 {
		t.Fatalf("expected updated defaults, got %+v", uc)
	}
	if !body.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", clock.Now(), body.UpdatedAt)
	}
}

func TestPutDefaultsValidatesInput(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/api/defaults", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestGenerateEndpointSuccess(t *testing.T) {
	runner := &stubRunner{result: stubResult()}
	router, _ := setupTestRouter(t, WithRunner(runner.run))

	payload := map[string]any{
		"layer_height":                      24,
		"layer_width_to_layer_height_ratio": 1.5,
		"desired_porosities":                map[string]any{"total": 50, "by_foam_pores": 40},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Porosities       porosity.Porosities `json:"porosities"`
		Iterations       int                 `json:"iterations"`
		Config           json.RawMessage     `json:"config"`
		ImagePNG         string              `json:"image_png"`
		GenerationTimeMs int64               `json:"generation_time_ms"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Porosities.Total != 49.8 || body.Iterations != 4 {
		t.Fatalf("unexpected result %+v after %d iterations", body.Porosities, body.Iterations)
	}
	if body.GenerationTimeMs < 0 {
		t.Fatalf("expected non-negative generation time, got %d", body.GenerationTimeMs)
	}

	raw, err := base64.StdEncoding.DecodeString(body.ImagePNG)
	if err != nil {
		t.Fatalf("image_png is not valid base64: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
		t.Fatalf("image_png is not a PNG: %v", err)
	}

	if uc, _, err := config.DecodeGenerationJSON(body.Config); err != nil {
		t.Fatalf("returned config does not parse: %v", err)
	} else if uc.LayerHeight != 24 {
		t.Fatalf("expected config to reflect the request, got %+v", uc)
	}

	if got := runner.calledWith(); got.LayerHeight != 24 || got.LayerWidthRatio != 1.5 {
		t.Fatalf("expected request overrides to reach the runner, got %+v", got)
	}
}

func TestGenerateEndpointUsesStoredDefaults(t *testing.T) {
	runner := &stubRunner{result: stubResult()}
	router, _ := setupTestRouter(t, WithRunner(runner.run))

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got, want := runner.calledWith(), storage.DefaultSettings().UserConfig; got != want {
		t.Fatalf("expected stored defaults %+v, got %+v", want, got)
	}
}

func TestGenerateEndpointRejectsInvalidTargets(t *testing.T) {
	runner := &stubRunner{result: stubResult()}
	router, _ := setupTestRouter(t, WithRunner(runner.run))

	payload := map[string]any{
		"desired_porosities": map[string]any{"total": 150, "by_foam_pores": 40},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestGenerateEndpointBadJSON(t *testing.T) {
	router, _ := setupTestRouter(t, WithRunner((&stubRunner{result: stubResult()}).run))

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestGenerateEndpointNoConvergence(t *testing.T) {
	runner := &stubRunner{err: fmt.Errorf("%w after 10 iterations", synth.ErrNoConvergence)}
	router, _ := setupTestRouter(t, WithRunner(runner.run))

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}

	var body struct {
		Suggestion string `json:"suggestion"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Suggestion == "" {
		t.Fatalf("expected suggestion to be populated")
	}
}

func TestGenerateEndpointSavesArtifacts(t *testing.T) {
	dir := t.TempDir()
	runner := &stubRunner{result: stubResult()}
	writer := artifact.NewWriter(dir, zaptest.NewLogger(t))
	router, _ := setupTestRouter(t, WithRunner(runner.run), WithArtifacts(writer))

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		ImagePath  string `json:"image_path"`
		ConfigPath string `json:"config_path"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ImagePath == "" || body.ConfigPath == "" {
		t.Fatalf("expected artifact paths in response, got %+v", body)
	}
	for _, path := range []string{body.ImagePath, body.ConfigPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected saved artifact %s: %v", path, err)
		}
	}
}

func TestRunIterationsClampsToCap(t *testing.T) {
	h := NewHandler(storage.NewMemoryStorage(), zaptest.NewLogger(t), WithMaxIterations(50))

	if got := h.runIterations(0); got != 50 {
		t.Fatalf("expected cap 50 for unset override, got %d", got)
	}
	if got := h.runIterations(10); got != 10 {
		t.Fatalf("expected tighter override 10, got %d", got)
	}
	if got := h.runIterations(500); got != 50 {
		t.Fatalf("expected cap 50 for oversized override, got %d", got)
	}
}

func TestCorsPreflight(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/generate", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

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
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected X-Request-ID header to be echoed, got %s", got)
	}
}
