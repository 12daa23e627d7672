package sdr

import (
	"context"
	"log/slog"

	"rfids/internal/model"
)

var (
	ProbeFrequenciesMHz = []float64{1700, 1500, 1200, 1000, 900, 800, 700, 600, 500, 400, 300, 200, 100, 50}
	SafeFrequenciesMHz  = []float64{100, 200, 400, 500}
)

const FallbackMaxMHz = 500.0

type Capturer interface {
	Capture(ctx context.Context, centerMHz float64) (model.Spectrum, error)
}

// ProbeMaxFrequency tunes to descending candidates and returns the first that
// captures successfully, or FallbackMaxMHz when none does.
func ProbeMaxFrequency(ctx context.Context, s Capturer, candidates []float64, logger *slog.Logger) (float64, error) {
	if len(candidates) == 0 {
		candidates = ProbeFrequenciesMHz
	}
	for _, f := range candidates {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := s.Capture(ctx, f); err != nil {
			if logger != nil {
				logger.Debug("probe failed", "freq_mhz", f, "err", err)
			}
			continue
		}
		if logger != nil {
			logger.Info("device max frequency", "freq_mhz", f)
		}
		return f, nil
	}
	if logger != nil {
		logger.Warn("could not determine device max frequency", "fallback_mhz", FallbackMaxMHz)
	}
	return FallbackMaxMHz, nil
}

// FilterFrequencies drops frequencies above maxMHz. When nothing survives, the
// safe defaults that fit are returned instead.
func FilterFrequencies(freqs []float64, maxMHz float64) (kept, dropped []float64) {
	kept = make([]float64, 0, len(freqs))
	for _, f := range freqs {
		if f <= maxMHz {
			kept = append(kept, f)
		} else {
			dropped = append(dropped, f)
		}
	}
	if len(kept) == 0 {
		for _, f := range SafeFrequenciesMHz {
			if f <= maxMHz {
				kept = append(kept, f)
			}
		}
	}
	return kept, dropped
}
