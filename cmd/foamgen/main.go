package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/amflab/foamgen/internal/application"
	"github.com/amflab/foamgen/internal/artifact"
	"github.com/amflab/foamgen/internal/config"
	"github.com/amflab/foamgen/internal/logging"
	"github.com/amflab/foamgen/internal/porosity"
	"github.com/amflab/foamgen/internal/synth"
)

var signalNotify = signal.Notify

// renderMarginSlack widens both porosity margins when re-rendering a saved
// config, since the stored parameters already converged once.
const renderMarginSlack = 2.0

func main() {
	kingpinApp := kingpin.New("foamgen", "Generates synthetic cross-section images of 3D printed metal foam structures")
	verbose := kingpinApp.Flag("verbose", "Enable debug output").Short('v').Bool()

	generateCmd := kingpinApp.Command("generate", "Generate an image matching the given porosity targets")
	genLayerHeight := generateCmd.Flag("layer-height", "Layer height in pixels").Short('l').Default("40").Int()
	genRatio := generateCmd.Flag("ratio", "Layer width divided by layer height").Short('r').Default("1.25").Float64()
	genTotal := generateCmd.Flag("total-poro", "Desired total porosity in percent").Short('t').Default("50").Float64()
	genFoam := generateCmd.Flag("foam-poro", "Desired porosity by foam pores in percent").Short('f').Default("40").Float64()
	genOutput := generateCmd.Flag("output", "Directory for the image and its config file").Short('o').Default("output").String()
	genSeed := generateCmd.Flag("seed", "Random seed for reproducible runs").Default("0").Uint64()
	genIterations := generateCmd.Flag("max-iterations", "Cap on adapt-and-redraw iterations").Default("250").Int()

	renderCmd := kingpinApp.Command("render", "Re-render an image from a saved generation config")
	renderFile := renderCmd.Flag("file", "Generation config file (JSON or YAML)").Short('f').Required().String()
	renderOutput := renderCmd.Flag("output", "Directory for the image and its config file").Short('o').String()
	renderSeed := renderCmd.Flag("seed", "Random seed for reproducible runs").Default("0").Uint64()
	renderIterations := renderCmd.Flag("max-iterations", "Cap on adapt-and-redraw iterations").Default("250").Int()

	deviationCmd := kingpinApp.Command("deviation", "Measure the porosity spread across repeated runs of one config")
	devFile := deviationCmd.Flag("file", "Generation config file (JSON or YAML)").Short('f').Required().String()
	devRuns := deviationCmd.Flag("runs", "Number of generation runs").Default("10").Int()
	devIterations := deviationCmd.Flag("max-iterations", "Cap on adapt-and-redraw iterations per run").Default("250").Int()

	serveCmd := kingpinApp.Command("serve", "Run the HTTP generation service")
	serveConfig := serveCmd.Flag("config", "Path to YAML configuration file").String()
	servePort := serveCmd.Flag("port", "HTTP port exposed by the service").String()
	serveRPS := serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	serveBurst := serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()
	serveOutput := serveCmd.Flag("output", "Directory where accepted images are saved").String()
	serveIterations := serveCmd.Flag("max-iterations", "Cap on adapt-and-redraw iterations per request").Default("0").Int()

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	if command == serveCmd.FullCommand() {
		overrides := &config.CLIOverrides{
			ConfigFile: *serveConfig,
		}
		if *servePort != "" {
			overrides.Port = servePort
		}
		if *serveRPS >= 0 {
			overrides.RateLimitRPS = serveRPS
		}
		if *serveBurst >= 0 {
			overrides.RateLimitBurst = serveBurst
		}
		if *serveOutput != "" {
			overrides.OutputDir = serveOutput
		}
		if *serveIterations > 0 {
			overrides.MaxIterations = serveIterations
		}
		runServe(overrides)
		return
	}

	logger, err := logging.NewCLI(*verbose)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case generateCmd.FullCommand():
		uc := synth.UserConfig{
			LayerHeight:     *genLayerHeight,
			LayerWidthRatio: *genRatio,
			Desired:         porosity.Porosities{Total: *genTotal, ByFoamPores: *genFoam},
			OutputDir:       *genOutput,
		}
		params := synth.InitialParameters(uc)
		runGenerate(ctx, logger, uc, params, *genSeed, *genIterations)

	case renderCmd.FullCommand():
		uc, params, err := config.LoadGeneration(*renderFile, *renderOutput)
		if err != nil {
			logger.Fatal("failed to load generation config", zap.Error(err))
		}
		params.TotalPorosityMargin += renderMarginSlack
		params.FoamPoreMargin += renderMarginSlack
		runGenerate(ctx, logger, uc, params, *renderSeed, *renderIterations)

	case deviationCmd.FullCommand():
		uc, params, err := config.LoadGeneration(*devFile, "")
		if err != nil {
			logger.Fatal("failed to load generation config", zap.Error(err))
		}
		runDeviation(ctx, logger, uc, params, *devRuns, *devIterations)
	}
}

// runGenerate executes one generation run and saves the accepted image with
// its config next to it.
func runGenerate(ctx context.Context, logger *zap.Logger, uc synth.UserConfig, params synth.Parameters, seed uint64, maxIterations int) {
	opts := []synth.Option{synth.WithMaxIterations(maxIterations)}
	if seed > 0 {
		opts = append(opts, synth.WithSeed(seed))
	}

	start := time.Now()
	result, err := synth.New(logger, opts...).Generate(ctx, uc, &params)
	if err != nil {
		logger.Fatal("generation failed", zap.Error(err))
	}

	logger.Info("generation finished",
		zap.Int("iterations", result.Iterations),
		zap.Float64("total_porosity", result.Porosities.Total),
		zap.Float64("foam_pore_porosity", result.Porosities.ByFoamPores),
		zap.Duration("elapsed", time.Since(start)))

	imagePath, configPath, err := artifact.NewWriter(uc.OutputDir, logger).Save(result, uc)
	if err != nil {
		logger.Fatal("failed to save artifacts", zap.Error(err))
	}
	logger.Info("artifacts written",
		zap.String("image", imagePath),
		zap.String("config", configPath))
}

// runDeviation repeats a run and reports mean and standard deviation of the
// achieved porosities. Nothing is saved.
func runDeviation(ctx context.Context, logger *zap.Logger, uc synth.UserConfig, params synth.Parameters, runs, maxIterations int) {
	if runs < 1 {
		logger.Fatal("runs must be positive", zap.Int("runs", runs))
	}

	totals := make([]float64, 0, runs)
	foams := make([]float64, 0, runs)
	for i := 0; i < runs; i++ {
		runParams := params
		result, err := synth.New(logger, synth.WithMaxIterations(maxIterations)).Generate(ctx, uc, &runParams)
		if err != nil {
			logger.Fatal("generation failed", zap.Int("run", i+1), zap.Error(err))
		}
		totals = append(totals, result.Porosities.Total)
		foams = append(foams, result.Porosities.ByFoamPores)
		logger.Info("run finished",
			zap.Int("run", i+1),
			zap.Int("iterations", result.Iterations),
			zap.Float64("total_porosity", result.Porosities.Total),
			zap.Float64("foam_pore_porosity", result.Porosities.ByFoamPores))
	}

	totalMean, totalStd := stats(totals)
	foamMean, foamStd := stats(foams)
	logger.Info("porosity deviation",
		zap.Int("runs", runs),
		zap.Float64("desired_total", uc.Desired.Total),
		zap.Float64("total_mean", totalMean),
		zap.Float64("total_stddev", totalStd),
		zap.Float64("desired_foam", uc.Desired.ByFoamPores),
		zap.Float64("foam_mean", foamMean),
		zap.Float64("foam_stddev", foamStd))
}

// stats returns the mean and the population standard deviation of values.
func stats(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// runServe starts the HTTP service and blocks until a termination signal.
func runServe(overrides *config.CLIOverrides) {
	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
