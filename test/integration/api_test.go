package integration

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/amflab/foamgen/internal/api"
	"github.com/amflab/foamgen/internal/config"
	"github.com/amflab/foamgen/internal/porosity"
	"github.com/amflab/foamgen/internal/storage"
	"github.com/amflab/foamgen/internal/synth"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()

	store := storage.NewMemoryStorage()
	handler := api.NewHandler(store, zaptest.NewLogger(t), api.WithMaxIterations(50))
	logger := zaptest.NewLogger(t)
	return api.NewRouter(handler, logger)
}

func performRequest(t *testing.T, handler http.Handler, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// smallSettings keeps the canvas tiny and the margins wide so a real
// generation run accepts quickly.
func smallSettings() storage.Settings {
	params := synth.DefaultParameters()
	params.ImageWidth = 150
	params.ImageHeight = 120
	params.TotalPorosityMargin = 100
	params.FoamPoreMargin = 100
	params.TrackMeanWidth = 22
	params.TrackMeanHeight = 18
	params.PoreMeanDiameter = 4
	params.PoresPerTrack = 4
	params.PoresPerTrackVariation = 2

	return storage.Settings{
		UserConfig: synth.UserConfig{
			LayerHeight:     20,
			LayerWidthRatio: 1.25,
			OutputDir:       "output",
			Desired:         porosity.Porosities{Total: 50, ByFoamPores: 20},
		},
		Parameters: params,
	}
}

func TestIntegrationFlow(t *testing.T) {
	handler := newRouter(t)

	rec := performRequest(t, handler, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", rec.Code)
	}

	settings := smallSettings()
	payload, err := config.EncodeGeneration(settings.UserConfig, settings.Parameters, nil)
	if err != nil {
		t.Fatalf("encode defaults payload: %v", err)
	}
	rec = performRequest(t, handler, http.MethodPut, "/api/defaults", payload, map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from defaults update, got %d: %s", rec.Code, rec.Body.String())
	}

	genPayload, _ := json.Marshal(map[string]any{"seed": 7})
	rec = performRequest(t, handler, http.MethodPost, "/api/generate", genPayload, map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from generate, got %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Porosities porosity.Porosities `json:"porosities"`
		Iterations int                 `json:"iterations"`
		Config     json.RawMessage     `json:"config"`
		ImagePNG   string              `json:"image_png"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Iterations < 1 {
		t.Fatalf("expected at least one iteration, got %d", response.Iterations)
	}
	if response.Porosities.Total <= 0 || response.Porosities.Total >= 100 {
		t.Fatalf("implausible total porosity %v", response.Porosities.Total)
	}

	raw, err := base64.StdEncoding.DecodeString(response.ImagePNG)
	if err != nil {
		t.Fatalf("image_png is not valid base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("image_png is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 150 || img.Bounds().Dy() != 120 {
		t.Fatalf("unexpected image size %v", img.Bounds())
	}

	if _, _, err := config.DecodeGenerationJSON(response.Config); err != nil {
		t.Fatalf("returned config does not parse: %v", err)
	}
}
