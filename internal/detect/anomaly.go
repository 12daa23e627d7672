package detect

import (
	"errors"
	"fmt"
	"math"

	"rfids/internal/model"
)

var ErrMisaligned = errors.New("spectrum and baseline bins differ")

// Compare flags every bin whose power differs from the baseline mean by
// strictly more than thresholdDB. The result is ordered by bin and is empty,
// never nil, when nothing qualifies.
func Compare(b *model.Baseline, s model.Spectrum, thresholdDB float64) ([]model.Anomaly, error) {
	if b == nil {
		return nil, errors.New("nil baseline")
	}
	if len(s.PSD) != len(b.Mean) {
		return nil, fmt.Errorf("%w: sample=%d baseline=%d", ErrMisaligned, len(s.PSD), len(b.Mean))
	}
	if err := aligned(b.Frequencies, s.Frequencies); err != nil {
		return nil, err
	}
	out := make([]model.Anomaly, 0)
	for i, current := range s.PSD {
		base := b.Mean[i]
		diff := current - base
		if !(math.Abs(diff) > thresholdDB) {
			continue
		}
		freq := b.Frequencies[i]
		if len(s.Frequencies) == len(s.PSD) {
			freq = s.Frequencies[i]
		}
		a := model.Anomaly{
			Frequency:         freq,
			BaselinePower:     base,
			CurrentPower:      current,
			Difference:        diff,
			SignalIncreasePct: SignalIncrease(current, base),
		}
		if d, ok := EstimateDistance(current, base, freq); ok {
			a.DistanceFeet = &d
		}
		out = append(out, a)
	}
	return out, nil
}

// aligned reports ErrMisaligned when the sample grid differs from the
// baseline grid by more than half a bin anywhere.
func aligned(base, sample []float64) error {
	if len(sample) != len(base) || len(base) == 0 {
		return nil
	}
	tolerance := 1e-6
	if len(base) > 1 {
		tolerance = math.Abs(base[1]-base[0]) / 2
	}
	for i := range base {
		if math.Abs(sample[i]-base[i]) > tolerance {
			return fmt.Errorf("%w: bin %d at %.6f MHz, baseline %.6f MHz", ErrMisaligned, i, sample[i], base[i])
		}
	}
	return nil
}

// Strongest returns the anomaly with the largest absolute difference.
func Strongest(anomalies []model.Anomaly) (model.Anomaly, bool) {
	if len(anomalies) == 0 {
		return model.Anomaly{}, false
	}
	best := anomalies[0]
	for _, a := range anomalies[1:] {
		if math.Abs(a.Difference) > math.Abs(best.Difference) {
			best = a
		}
	}
	return best, true
}
