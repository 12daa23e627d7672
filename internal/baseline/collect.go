package baseline

import (
	"context"
	"fmt"
	"time"

	"rfids/internal/model"
)

type Sampler interface {
	Capture(ctx context.Context, centerMHz float64) (model.Spectrum, error)
}

// Collect captures n spectra at centerMHz and builds a baseline from those
// that succeeded. Failed or empty captures are skipped; if none succeeds the
// last capture error is wrapped in ErrInsufficientData.
func Collect(ctx context.Context, sampler Sampler, centerMHz float64, n int, interval time.Duration) (*model.Baseline, error) {
	if n < 1 {
		n = 1
	}
	samples := make([]model.Spectrum, 0, n)
	var lastErr error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := sampler.Capture(ctx, centerMHz)
		switch {
		case err != nil:
			lastErr = err
		case s.Len() == 0:
			lastErr = fmt.Errorf("empty capture at %v MHz", centerMHz)
		case len(samples) > 0 && s.Len() != samples[0].Len():
			lastErr = fmt.Errorf("capture at %v MHz has %d bins, want %d", centerMHz, s.Len(), samples[0].Len())
		default:
			samples = append(samples, s)
		}
		if i < n-1 && interval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %d captures at %v MHz failed: %v", ErrInsufficientData, n, centerMHz, lastErr)
	}
	return Build(samples)
}
