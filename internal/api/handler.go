package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amflab/foamgen/internal/artifact"
	"github.com/amflab/foamgen/internal/config"
	"github.com/amflab/foamgen/internal/porosity"
	"github.com/amflab/foamgen/internal/storage"
	"github.com/amflab/foamgen/internal/synth"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// maxRequestBody bounds the size of accepted JSON payloads.
const maxRequestBody = 1 << 20

// Runner executes one generation run. The default runner builds a fresh
// Generator per request, since a Generator is not safe for concurrent use.
type Runner func(ctx context.Context, uc synth.UserConfig, params *synth.Parameters, opts ...synth.Option) (*synth.Result, error)

// Handler wires generator, storage and artifact dependencies into HTTP
// handlers.
type Handler struct {
	storage       storage.Storage
	logger        *zap.Logger
	runner        Runner
	artifacts     *artifact.Writer
	maxIterations int

	clock func() time.Time

	mu                sync.RWMutex
	defaultsUpdatedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithRunner overrides how generation runs are executed, primarily for tests.
func WithRunner(runner Runner) HandlerOption {
	return func(h *Handler) {
		h.runner = runner
	}
}

// WithArtifacts makes the handler persist every accepted image through the
// given writer. Without it results are only returned inline.
func WithArtifacts(w *artifact.Writer) HandlerOption {
	return func(h *Handler) {
		h.artifacts = w
	}
}

// WithMaxIterations caps the adapt-and-redraw loop of every run started
// through the API.
func WithMaxIterations(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxIterations = n
		}
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store storage.Storage, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage:       store,
		logger:        logger,
		maxIterations: synth.DefaultMaxIterations,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.runner == nil {
		logger := h.logger
		h.runner = func(ctx context.Context, uc synth.UserConfig, params *synth.Parameters, opts ...synth.Option) (*synth.Result, error) {
			return synth.New(logger, opts...).Generate(ctx, uc, params)
		}
	}
	h.defaultsUpdatedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDefaults(w http.ResponseWriter, r *http.Request) {
	_ = r
	settings, err := h.storage.GetDefaults()
	if err != nil {
		writeInternalError(w, err)
		return
	}

	data, err := config.EncodeGeneration(settings.UserConfig, settings.Parameters, nil)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := defaultsResponse{
		Config:    data,
		UpdatedAt: h.currentDefaultsUpdatedAt(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePutDefaults(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to read request body")
		return
	}

	uc, params, err := config.DecodeGenerationJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid generation config", err.Error())
		return
	}

	if err := h.storage.SetDefaults(storage.Settings{UserConfig: uc, Parameters: params}); err != nil {
		if errors.Is(err, storage.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, "Invalid generation config", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	h.markDefaultsUpdated()

	data, err := config.EncodeGeneration(uc, params, nil)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := defaultsResponse{
		Config:    data,
		UpdatedAt: h.currentDefaultsUpdatedAt(),
		Message:   "Defaults updated successfully",
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	settings, err := h.storage.GetDefaults()
	if err != nil {
		writeInternalError(w, err)
		return
	}

	uc, params := h.resolveRun(settings, req)
	if err := uc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	runOpts := []synth.Option{synth.WithMaxIterations(h.runIterations(req.MaxIterations))}
	if req.Seed != nil {
		runOpts = append(runOpts, synth.WithSeed(*req.Seed))
	}

	start := time.Now()
	result, genErr := h.runner(r.Context(), uc, &params, runOpts...)
	elapsed := time.Since(start)

	if genErr != nil {
		switch {
		case errors.Is(genErr, context.Canceled), errors.Is(genErr, context.DeadlineExceeded):
			// Client is gone, nothing useful left to write.
			h.logger.Debug("generation aborted", zap.Error(genErr),
				zap.String("request_id", requestIDFromContext(r.Context())))
		case errors.Is(genErr, synth.ErrInvalidConfig):
			writeError(w, http.StatusBadRequest, "Invalid request", genErr.Error())
		case errors.Is(genErr, synth.ErrNoConvergence):
			suggestion := fmt.Sprintf(
				"Consider widening the porosity margins or raising max_iterations above %d",
				h.runIterations(req.MaxIterations))
			writeError(w, http.StatusUnprocessableEntity, "Targets not reached", genErr.Error(), suggestion)
		default:
			writeInternalError(w, genErr)
		}
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, result.Image); err != nil {
		writeInternalError(w, err)
		return
	}

	cfgData, err := config.EncodeGeneration(uc, result.Parameters, &result.Porosities)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := generateResponse{
		Porosities:       result.Porosities,
		Iterations:       result.Iterations,
		Config:           cfgData,
		ImagePNG:         base64.StdEncoding.EncodeToString(buf.Bytes()),
		GenerationTimeMs: elapsed.Milliseconds(),
	}

	if h.artifacts != nil {
		imagePath, configPath, saveErr := h.artifacts.Save(result, uc)
		if saveErr != nil {
			// The run itself succeeded, return it inline without paths.
			h.logger.Warn("failed to save generation artifacts", zap.Error(saveErr),
				zap.String("request_id", requestIDFromContext(r.Context())))
		} else {
			resp.ImagePath = imagePath
			resp.ConfigPath = configPath
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// resolveRun merges the request onto the stored defaults. When the request
// changes the user config, the drawing parameters are re-estimated for the
// new targets instead of reusing the stored ones.
func (h *Handler) resolveRun(settings storage.Settings, req generateRequest) (synth.UserConfig, synth.Parameters) {
	uc := settings.UserConfig
	changed := false

	if req.LayerHeight > 0 {
		uc.LayerHeight = req.LayerHeight
		changed = true
	}
	if req.LayerWidthRatio > 0 {
		uc.LayerWidthRatio = req.LayerWidthRatio
		changed = true
	}
	if req.Desired != nil {
		uc.Desired = porosity.Porosities{
			Total:       req.Desired.Total,
			ByFoamPores: req.Desired.ByFoamPores,
		}
		changed = true
	}

	if changed {
		return uc, synth.InitialParameters(uc)
	}
	return uc, settings.Parameters
}

// runIterations resolves the iteration cap for one run; request overrides
// may only tighten the configured cap.
func (h *Handler) runIterations(requested int) int {
	if requested > 0 && requested < h.maxIterations {
		return requested
	}
	return h.maxIterations
}

func (h *Handler) currentDefaultsUpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaultsUpdatedAt
}

func (h *Handler) markDefaultsUpdated() {
	h.mu.Lock()
	h.defaultsUpdatedAt = h.clock()
	h.mu.Unlock()
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type generateRequest struct {
	LayerHeight     int             `json:"layer_height"`
	LayerWidthRatio float64         `json:"layer_width_to_layer_height_ratio"`
	Desired         *desiredRequest `json:"desired_porosities"`
	Seed            *uint64         `json:"seed"`
	MaxIterations   int             `json:"max_iterations"`
}

type desiredRequest struct {
	Total       float64 `json:"total"`
	ByFoamPores float64 `json:"by_foam_pores"`
}

type generateResponse struct {
	Porosities       porosity.Porosities `json:"porosities"`
	Iterations       int                 `json:"iterations"`
	Config           json.RawMessage     `json:"config"`
	ImagePNG         string              `json:"image_png"`
	ImagePath        string              `json:"image_path,omitempty"`
	ConfigPath       string              `json:"config_path,omitempty"`
	GenerationTimeMs int64               `json:"generation_time_ms"`
}

type defaultsResponse struct {
	Config    json.RawMessage `json:"config"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Message   string          `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
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
