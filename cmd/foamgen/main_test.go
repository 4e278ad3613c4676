package main

import (
	"math"
	"testing"
)

func TestStats(t *testing.T) {
	testCases := []struct {
		name       string
		values     []float64
		wantMean   float64
		wantStddev float64
	}{
		{"Empty", nil, 0, 0},
		{"Single", []float64{42}, 42, 0},
		{"Uniform", []float64{5, 5, 5, 5}, 5, 0},
		{"Spread", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 5, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mean, stddev := stats(tc.values)
			if math.Abs(mean-tc.wantMean) > 1e-9 {
				t.Fatalf("expected mean %v, got %v", tc.wantMean, mean)
			}
			if math.Abs(stddev-tc.wantStddev) > 1e-9 {
				t.Fatalf("expected stddev %v, got %v", tc.wantStddev, stddev)
			}
		})
	}
}
