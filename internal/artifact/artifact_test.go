package artifact

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/amflab/foamgen/internal/config"
	"github.com/amflab/foamgen/internal/porosity"
	"github.com/amflab/foamgen/internal/synth"
)

func testResult() (*synth.Result, synth.UserConfig) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 77
	}
	res := &synth.Result{
		Image:      img,
		Porosities: porosity.Porosities{Total: 49.6, ByFoamPores: 39.2, ByTracks: 10.4},
		Iterations: 3,
		Parameters: synth.DefaultParameters(),
	}
	uc := synth.UserConfig{
		LayerHeight:     40,
		LayerWidthRatio: 1.25,
		OutputDir:       "output",
		Desired:         porosity.Porosities{Total: 50, ByFoamPores: 40},
	}
	return res, uc
}

func TestSaveWritesImageAndConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(dir, zaptest.NewLogger(t))
	res, uc := testResult()

	imagePath, configPath, err := w.Save(res, uc)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	base := filepath.Base(imagePath)
	if !strings.HasPrefix(base, "img") || !strings.HasSuffix(base, "_49_39.png") {
		t.Fatalf("unexpected image file name %s", base)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		t.Fatalf("open saved image: %v", err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode saved image: %v", err)
	}
	if decoded.Bounds() != res.Image.Bounds() {
		t.Fatalf("saved image bounds %v, want %v", decoded.Bounds(), res.Image.Bounds())
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	gotUC, _, err := config.DecodeGenerationJSON(data)
	if err != nil {
		t.Fatalf("saved config does not parse: %v", err)
	}
	if gotUC != uc {
		t.Fatalf("saved config user section %+v, want %+v", gotUC, uc)
	}
}

func TestSaveCreatesOutputDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "out")
	w := NewWriter(dir, zaptest.NewLogger(t))
	res, uc := testResult()

	if _, _, err := w.Save(res, uc); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("output dir was not created: %v", err)
	}
}

func TestSaveSkipsTakenIndex(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rng := rand.New(rand.NewPCG(1, 1))
	first := rng.IntN(1000)

	// Occupy the index the writer would pick first.
	taken := filepath.Join(dir, fmt.Sprintf("config_%03d.json", first))
	if err := os.WriteFile(taken, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write placeholder: %v", err)
	}

	w := NewWriter(dir, zaptest.NewLogger(t), WithRand(rand.New(rand.NewPCG(1, 1))))
	res, uc := testResult()
	_, configPath, err := w.Save(res, uc)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if configPath == taken {
		t.Fatalf("writer reused the taken index %s", taken)
	}
}

func TestSaveFailsWhenAllIndicesTaken(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i := 0; i < 1000; i++ {
		path := filepath.Join(dir, fmt.Sprintf("config_%03d.json", i))
		if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
			t.Fatalf("write placeholder: %v", err)
		}
	}

	w := NewWriter(dir, zaptest.NewLogger(t))
	res, uc := testResult()
	if _, _, err := w.Save(res, uc); !errors.Is(err, ErrNoFreeIndex) {
		t.Fatalf("expected ErrNoFreeIndex, got %v", err)
	}
}
