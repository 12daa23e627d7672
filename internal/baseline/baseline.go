package baseline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"rfids/internal/model"
)

var (
	ErrInsufficientData = errors.New("insufficient baseline data")
	ErrCorruptBaseline  = errors.New("corrupt baseline")
	ErrNoBaseline       = errors.New("no baseline recorded")
)

// Build averages the samples bin by bin. Frequencies are taken from the first
// sample; the standard deviation is the population one.
func Build(samples []model.Spectrum) (*model.Baseline, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInsufficientData)
	}
	bins := len(samples[0].PSD)
	if bins == 0 {
		return nil, fmt.Errorf("%w: empty sample", ErrInsufficientData)
	}
	for i, s := range samples {
		if len(s.PSD) != bins || len(s.Frequencies) != bins {
			return nil, fmt.Errorf("%w: sample %d has %d/%d bins, want %d",
				ErrInsufficientData, i, len(s.Frequencies), len(s.PSD), bins)
		}
	}
	mean := make([]float64, bins)
	std := make([]float64, bins)
	column := make([]float64, len(samples))
	for b := 0; b < bins; b++ {
		for i, s := range samples {
			column[i] = s.PSD[b]
		}
		mean[b], std[b] = stat.PopMeanStdDev(column, nil)
	}
	return &model.Baseline{
		Frequencies: append([]float64(nil), samples[0].Frequencies...),
		Mean:        mean,
		Std:         std,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func Validate(b *model.Baseline) error {
	if b == nil {
		return fmt.Errorf("%w: missing entry", ErrCorruptBaseline)
	}
	n := len(b.Mean)
	if n == 0 {
		return fmt.Errorf("%w: no bins", ErrCorruptBaseline)
	}
	if len(b.Frequencies) != n || len(b.Std) != n {
		return fmt.Errorf("%w: length mismatch freq=%d mean=%d std=%d",
			ErrCorruptBaseline, len(b.Frequencies), n, len(b.Std))
	}
	for i := 0; i < n; i++ {
		if math.IsNaN(b.Mean[i]) || math.IsNaN(b.Std[i]) || math.IsNaN(b.Frequencies[i]) {
			return fmt.Errorf("%w: NaN at bin %d", ErrCorruptBaseline, i)
		}
	}
	return nil
}
