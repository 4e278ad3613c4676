package porosity

import (
	"fmt"
	"image"
)

// Meter names accepted in config files. The values match the strings written
// into the published config artifacts, so those files load unchanged.
const (
	MeterMean   = "calculate_porosity_w_mean"
	MeterMedian = "calculate_porosity_w_median"
)

// NewMeter resolves a porosity meter by its config-file name.
func NewMeter(name string) (Meter, error) {
	switch name {
	case MeterMean:
		return MeanMeter{}, nil
	case MeterMedian:
		return MedianMeter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMeter, name)
	}
}

// MeanMeter counts the pixels darker than the image mean.
type MeanMeter struct{}

// Name returns the config-file identifier of the meter.
func (MeanMeter) Name() string { return MeterMean }

// Measure returns the percentage of pixels strictly below the mean pixel value.
func (MeanMeter) Measure(img *image.Gray) float64 {
	hist, total := histogram(img)
	if total == 0 {
		return 0
	}
	var sum uint64
	for v, n := range hist {
		sum += uint64(v) * n
	}
	mean := float64(sum) / float64(total)
	return fractionBelow(hist, total, mean)
}

// MedianMeter counts the pixels darker than the image median plus one.
type MedianMeter struct{}

// Name returns the config-file identifier of the meter.
func (MedianMeter) Name() string { return MeterMedian }

// Measure returns the percentage of pixels strictly below median+1.
func (MedianMeter) Measure(img *image.Gray) float64 {
	hist, total := histogram(img)
	if total == 0 {
		return 0
	}
	return fractionBelow(hist, total, histogramMedian(hist, total)+1)
}

// DefaultFixedThreshold separates pore area from material for FixedMeter.
const DefaultFixedThreshold uint8 = 200

// FixedMeter counts the pixels darker than a fixed threshold. White is high,
// black is low, so everything below the threshold is pore area.
type FixedMeter struct {
	Threshold uint8
}

// Name returns the config-file identifier of the meter.
func (FixedMeter) Name() string { return "calculate_porosity_w_threshold" }

// Measure returns the percentage of pixels strictly below the threshold.
func (m FixedMeter) Measure(img *image.Gray) float64 {
	hist, total := histogram(img)
	if total == 0 {
		return 0
	}
	return fractionBelow(hist, total, float64(m.Threshold))
}

// InMargin reports whether the actual porosity lies within ±margin of the
// desired porosity.
func InMargin(desired, actual, margin float64) bool {
	return actual >= desired-margin && actual <= desired+margin
}

func histogram(img *image.Gray) (hist [256]uint64, total uint64) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			hist[row[x]]++
		}
	}
	return hist, uint64(b.Dx()) * uint64(b.Dy())
}

func histogramMedian(hist [256]uint64, total uint64) float64 {
	// Median of the pixel population. For an even count the two middle
	// values are averaged.
	lowerIdx := (total - 1) / 2
	upperIdx := total / 2

	var seen uint64
	lower, upper := -1, -1
	for v, n := range hist {
		if n == 0 {
			continue
		}
		seen += n
		if lower < 0 && seen > lowerIdx {
			lower = v
		}
		if upper < 0 && seen > upperIdx {
			upper = v
			break
		}
	}
	return (float64(lower) + float64(upper)) / 2
}

func fractionBelow(hist [256]uint64, total uint64, threshold float64) float64 {
	var below uint64
	for v, n := range hist {
		if float64(v) < threshold {
			below += n
		}
	}
	return 100 / float64(total) * float64(below)
}
