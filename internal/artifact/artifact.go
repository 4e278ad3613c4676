// Package artifact persists accepted generation results: the rendered image
// as a PNG next to a config file that can reproduce the run.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/amflab/foamgen/internal/config"
	"github.com/amflab/foamgen/internal/synth"
)

// ErrNoFreeIndex is returned when no unused artifact index could be found.
var ErrNoFreeIndex = errors.New("no free artifact index")

// maxIndexAttempts bounds the search for an unused artifact index.
const maxIndexAttempts = 2000

// Writer saves generation results into a directory.
type Writer struct {
	dir    string
	logger *zap.Logger
	rng    *rand.Rand
}

// Option configures a Writer.
type Option func(*Writer)

// WithRand sets the randomness source used for artifact indices, primarily
// for reproducible tests.
func WithRand(rng *rand.Rand) Option {
	return func(w *Writer) {
		w.rng = rng
	}
}

// NewWriter creates a Writer that saves artifacts under dir.
func NewWriter(dir string, logger *zap.Logger, opts ...Option) *Writer {
	w := &Writer{
		dir:    dir,
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.rng == nil {
		seed := rand.Uint64()
		w.rng = rand.New(rand.NewPCG(seed, seed))
	}
	return w
}

// Dir returns the directory artifacts are written to.
func (w *Writer) Dir() string {
	return w.dir
}

// Save writes the result image and its generation config under a shared
// random three-digit index. Both files are written atomically. It returns
// the image path and the config path.
func (w *Writer) Save(res *synth.Result, uc synth.UserConfig) (string, string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	index, err := w.freeIndex()
	if err != nil {
		return "", "", err
	}

	imagePath := filepath.Join(w.dir, fmt.Sprintf("img%s_%d_%d.png",
		index, int(res.Porosities.Total), int(res.Porosities.ByFoamPores)))
	configPath := filepath.Join(w.dir, fmt.Sprintf("config_%s.json", index))

	var buf bytes.Buffer
	if err := png.Encode(&buf, res.Image); err != nil {
		return "", "", fmt.Errorf("encode PNG: %w", err)
	}
	if err := renameio.WriteFile(imagePath, buf.Bytes(), 0o644); err != nil {
		return "", "", fmt.Errorf("write image: %w", err)
	}

	cfgData, err := config.EncodeGeneration(uc, res.Parameters, &res.Porosities)
	if err != nil {
		return "", "", err
	}
	if err := renameio.WriteFile(configPath, cfgData, 0o644); err != nil {
		return "", "", fmt.Errorf("write config: %w", err)
	}

	w.logger.Info("Saved generation artifacts",
		zap.String("image", imagePath),
		zap.String("config", configPath),
		zap.Int("iterations", res.Iterations))

	return imagePath, configPath, nil
}

// freeIndex picks a random zero-padded index whose config file does not
// exist yet, so repeated runs into the same directory never overwrite each
// other.
func (w *Writer) freeIndex() (string, error) {
	for attempt := 0; attempt < maxIndexAttempts; attempt++ {
		index := fmt.Sprintf("%03d", w.rng.IntN(1000))
		if _, err := os.Stat(filepath.Join(w.dir, "config_"+index+".json")); os.IsNotExist(err) {
			return index, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoFreeIndex, w.dir)
}
