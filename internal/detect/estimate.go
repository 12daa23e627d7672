package detect

import "math"

const (
	referenceDistanceFeet = 50.0
	minDistanceFeet       = 1.0
	maxDistanceFeet       = 100.0
	maxIncreasePct        = 10000.0
)

// SignalIncrease converts both dB levels to linear power and returns the
// percentage increase, clipped to [0, 10000].
func SignalIncrease(currentDB, baselineDB float64) float64 {
	current := math.Pow(10, currentDB/10)
	base := math.Pow(10, baselineDB/10)
	if base <= 0 {
		return 0
	}
	inc := (current - base) / base * 100
	if inc < 0 {
		return 0
	}
	if inc > maxIncreasePct {
		return maxIncreasePct
	}
	return inc
}

// EstimateDistance assumes the baseline level corresponds to a source 50 ft
// away and 6 dB per halving of distance. Higher bands are scaled down. The
// result is clamped to [1, 100] ft and rounded to 0.1 ft; ok is false when
// the signal did not increase.
func EstimateDistance(currentDB, baselineDB, freqMHz float64) (float64, bool) {
	diff := currentDB - baselineDB
	if diff <= 0 {
		return 0, false
	}
	d := referenceDistanceFeet / math.Pow(10, diff/20)
	switch {
	case freqMHz >= 800:
		d *= 0.7
	case freqMHz >= 400:
		d *= 0.85
	}
	d = math.Max(minDistanceFeet, math.Min(maxDistanceFeet, d))
	return math.Round(d*10) / 10, true
}
