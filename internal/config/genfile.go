package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/amflab/foamgen/internal/porosity"
	"github.com/amflab/foamgen/internal/synth"
)

// ErrInvalidGenerationFile is returned when a generation config file cannot
// be used: unsupported format, missing section, or missing parameter.
var ErrInvalidGenerationFile = errors.New("invalid generation config file")

// generationFile mirrors the layout of the published config artifacts. All
// fields are pointers so that absent keys can be told apart from zero values.
type generationFile struct {
	UserConfig      *userConfigSection   `json:"user_config" yaml:"user_config"`
	Parameters      *parametersSection   `json:"parameters" yaml:"parameters"`
	PorosityResults *porosity.Porosities `json:"porosity_results,omitempty" yaml:"porosity_results,omitempty"`
}

type userConfigSection struct {
	LayerHeight       *int            `json:"layer_height" yaml:"layer_height"`
	LayerWidthRatio   *float64        `json:"layer_width_to_layer_height_ratio" yaml:"layer_width_to_layer_height_ratio"`
	OutputFolder      *string         `json:"output_folder" yaml:"output_folder"`
	DesiredPorosities *desiredSection `json:"desired_porosities" yaml:"desired_porosities"`
}

type desiredSection struct {
	Total       *float64 `json:"total" yaml:"total"`
	ByFoamPores *float64 `json:"by_foam_pores" yaml:"by_foam_pores"`
}

type parametersSection struct {
	PorosityFunction            *string  `json:"porosity_function" yaml:"porosity_function"`
	ImageWidth                  *int     `json:"image_width" yaml:"image_width"`
	ImageHeight                 *int     `json:"image_height" yaml:"image_height"`
	TotalPorosityMargin         *float64 `json:"total_porosity_margin" yaml:"total_porosity_margin"`
	FoamPoreMargin              *float64 `json:"porosity_foam_pore_margin" yaml:"porosity_foam_pore_margin"`
	PoreAmountAdaptionThreshold *float64 `json:"foam_pore_amount_adaption_threshold" yaml:"foam_pore_amount_adaption_threshold"`
	XOffset                     *int     `json:"x_offset" yaml:"x_offset"`
	YOffset                     *int     `json:"y_offset" yaml:"y_offset"`
	TrackMeanWidth              *float64 `json:"track_mean_width" yaml:"track_mean_width"`
	TrackWidthVariation         *float64 `json:"track_width_variation" yaml:"track_width_variation"`
	TrackMeanHeight             *float64 `json:"track_mean_height" yaml:"track_mean_height"`
	TrackHeightVariation        *float64 `json:"track_height_variation" yaml:"track_height_variation"`
	TrackXScatter               *float64 `json:"randomized_track_x_factor" yaml:"randomized_track_x_factor"`
	TrackYScatter               *float64 `json:"randomized_track_y_factor" yaml:"randomized_track_y_factor"`
	PoreCenterScatter           *float64 `json:"foam_pores_center_scaling_factor" yaml:"foam_pores_center_scaling_factor"`
	PoreMeanDiameter            *float64 `json:"mean_diameter_of_foam_pores" yaml:"mean_diameter_of_foam_pores"`
	PoresPerTrack               *int     `json:"mean_foam_pores_per_track" yaml:"mean_foam_pores_per_track"`
	PoresPerTrackVariation      *int     `json:"variation_of_foam_pores_per_track" yaml:"variation_of_foam_pores_per_track"`
	// Optional in older artifacts; defaults to 1.0 when absent.
	PoreDiameterVariation *float64 `json:"foam_pore_variation_of_diameter,omitempty" yaml:"foam_pore_variation_of_diameter,omitempty"`
}

// LoadGeneration reads a generation config file (JSON or YAML). A non-empty
// outputDir overrides the output folder named in the file.
func LoadGeneration(path, outputDir string) (synth.UserConfig, synth.Parameters, error) {
	var file generationFile

	data, err := os.ReadFile(path)
	if err != nil {
		return synth.UserConfig{}, synth.Parameters{}, fmt.Errorf("read generation config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return synth.UserConfig{}, synth.Parameters{}, fmt.Errorf("parse JSON generation config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return synth.UserConfig{}, synth.Parameters{}, fmt.Errorf("parse YAML generation config: %w", err)
		}
	default:
		return synth.UserConfig{}, synth.Parameters{}, fmt.Errorf(
			"%w: %s is not a json or yaml file", ErrInvalidGenerationFile, path)
	}

	uc, params, err := buildGeneration(&file)
	if err != nil {
		return synth.UserConfig{}, synth.Parameters{}, err
	}
	if outputDir != "" {
		uc.OutputDir = outputDir
	}
	return uc, params, nil
}

// DecodeGenerationJSON parses the generation config schema from a JSON
// payload, for callers that receive it over the wire instead of from a file.
func DecodeGenerationJSON(data []byte) (synth.UserConfig, synth.Parameters, error) {
	var file generationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return synth.UserConfig{}, synth.Parameters{}, fmt.Errorf("parse generation config: %w", err)
	}
	return buildGeneration(&file)
}

// EncodeGeneration renders a generation setup, optionally with achieved
// porosity results, into the published JSON schema.
func EncodeGeneration(uc synth.UserConfig, p synth.Parameters, results *porosity.Porosities) ([]byte, error) {
	meterName := porosity.MeterMean
	if p.Meter != nil {
		meterName = p.Meter.Name()
	}

	file := generationFile{
		UserConfig: &userConfigSection{
			LayerHeight:     &uc.LayerHeight,
			LayerWidthRatio: &uc.LayerWidthRatio,
			OutputFolder:    &uc.OutputDir,
			DesiredPorosities: &desiredSection{
				Total:       &uc.Desired.Total,
				ByFoamPores: &uc.Desired.ByFoamPores,
			},
		},
		Parameters: &parametersSection{
			PorosityFunction:            &meterName,
			ImageWidth:                  &p.ImageWidth,
			ImageHeight:                 &p.ImageHeight,
			TotalPorosityMargin:         &p.TotalPorosityMargin,
			FoamPoreMargin:              &p.FoamPoreMargin,
			PoreAmountAdaptionThreshold: &p.PoreAmountAdaptionThreshold,
			XOffset:                     &p.XOffset,
			YOffset:                     &p.YOffset,
			TrackMeanWidth:              &p.TrackMeanWidth,
			TrackWidthVariation:         &p.TrackWidthVariation,
			TrackMeanHeight:             &p.TrackMeanHeight,
			TrackHeightVariation:        &p.TrackHeightVariation,
			TrackXScatter:               &p.TrackXScatter,
			TrackYScatter:               &p.TrackYScatter,
			PoreCenterScatter:           &p.PoreCenterScatter,
			PoreMeanDiameter:            &p.PoreMeanDiameter,
			PoresPerTrack:               &p.PoresPerTrack,
			PoresPerTrackVariation:      &p.PoresPerTrackVariation,
			PoreDiameterVariation:       &p.PoreDiameterVariation,
		},
		PorosityResults: results,
	}

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode generation config: %w", err)
	}
	return data, nil
}

// buildGeneration validates the parsed file and converts it into domain
// types. Every key of the published schema must be present, except the pore
// diameter variation, which older artifacts omit.
func buildGeneration(file *generationFile) (synth.UserConfig, synth.Parameters, error) {
	var uc synth.UserConfig

	ucs := file.UserConfig
	if ucs == nil {
		return uc, synth.Parameters{}, fmt.Errorf("%w: no user_config section", ErrInvalidGenerationFile)
	}
	if err := firstMissing("user_config", map[string]bool{
		"layer_height":                      ucs.LayerHeight == nil,
		"layer_width_to_layer_height_ratio": ucs.LayerWidthRatio == nil,
		"output_folder":                     ucs.OutputFolder == nil,
		"desired_porosities":                ucs.DesiredPorosities == nil,
	}); err != nil {
		return uc, synth.Parameters{}, err
	}
	if err := firstMissing("desired_porosities", map[string]bool{
		"total":         ucs.DesiredPorosities.Total == nil,
		"by_foam_pores": ucs.DesiredPorosities.ByFoamPores == nil,
	}); err != nil {
		return uc, synth.Parameters{}, err
	}

	uc = synth.UserConfig{
		LayerHeight:     *ucs.LayerHeight,
		LayerWidthRatio: *ucs.LayerWidthRatio,
		OutputDir:       *ucs.OutputFolder,
		Desired: porosity.Porosities{
			Total:       *ucs.DesiredPorosities.Total,
			ByFoamPores: *ucs.DesiredPorosities.ByFoamPores,
		},
	}

	ps := file.Parameters
	if ps == nil {
		return uc, synth.Parameters{}, fmt.Errorf("%w: no parameters section", ErrInvalidGenerationFile)
	}
	if err := firstMissing("parameters", map[string]bool{
		"porosity_function":                   ps.PorosityFunction == nil,
		"image_width":                         ps.ImageWidth == nil,
		"image_height":                        ps.ImageHeight == nil,
		"total_porosity_margin":               ps.TotalPorosityMargin == nil,
		"porosity_foam_pore_margin":           ps.FoamPoreMargin == nil,
		"foam_pore_amount_adaption_threshold": ps.PoreAmountAdaptionThreshold == nil,
		"x_offset":                            ps.XOffset == nil,
		"y_offset":                            ps.YOffset == nil,
		"track_mean_width":                    ps.TrackMeanWidth == nil,
		"track_width_variation":               ps.TrackWidthVariation == nil,
		"track_mean_height":                   ps.TrackMeanHeight == nil,
		"track_height_variation":              ps.TrackHeightVariation == nil,
		"randomized_track_x_factor":           ps.TrackXScatter == nil,
		"randomized_track_y_factor":           ps.TrackYScatter == nil,
		"foam_pores_center_scaling_factor":    ps.PoreCenterScatter == nil,
		"mean_diameter_of_foam_pores":         ps.PoreMeanDiameter == nil,
		"mean_foam_pores_per_track":           ps.PoresPerTrack == nil,
		"variation_of_foam_pores_per_track":   ps.PoresPerTrackVariation == nil,
	}); err != nil {
		return uc, synth.Parameters{}, err
	}

	meter, err := porosity.NewMeter(*ps.PorosityFunction)
	if err != nil {
		return uc, synth.Parameters{}, fmt.Errorf("%w: %v", ErrInvalidGenerationFile, err)
	}

	params := synth.Parameters{
		ImageWidth:                  *ps.ImageWidth,
		ImageHeight:                 *ps.ImageHeight,
		TotalPorosityMargin:         *ps.TotalPorosityMargin,
		FoamPoreMargin:              *ps.FoamPoreMargin,
		PoreAmountAdaptionThreshold: *ps.PoreAmountAdaptionThreshold,
		Meter:                       meter,
		XOffset:                     *ps.XOffset,
		YOffset:                     *ps.YOffset,
		TrackMeanWidth:              *ps.TrackMeanWidth,
		TrackWidthVariation:         *ps.TrackWidthVariation,
		TrackMeanHeight:             *ps.TrackMeanHeight,
		TrackHeightVariation:        *ps.TrackHeightVariation,
		TrackXScatter:               *ps.TrackXScatter,
		TrackYScatter:               *ps.TrackYScatter,
		PoreCenterScatter:           *ps.PoreCenterScatter,
		PoreMeanDiameter:            *ps.PoreMeanDiameter,
		PoresPerTrack:               *ps.PoresPerTrack,
		PoresPerTrackVariation:      *ps.PoresPerTrackVariation,
		PoreDiameterVariation:       1.0,
	}
	if ps.PoreDiameterVariation != nil {
		params.PoreDiameterVariation = *ps.PoreDiameterVariation
	}

	if err := uc.Validate(); err != nil {
		return uc, synth.Parameters{}, err
	}
	if err := params.Validate(); err != nil {
		return uc, synth.Parameters{}, err
	}
	return uc, params, nil
}

func firstMissing(section string, missing map[string]bool) error {
	keys := make([]string, 0, len(missing))
	for key, absent := range missing {
		if absent {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	// Deterministic error messages.
	slices.Sort(keys)
	return fmt.Errorf("%w: parameter %q was not specified in the %s section",
		ErrInvalidGenerationFile, keys[0], section)
}
