package detect

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"rfids/internal/model"
)

const (
	BluetoothCenterMHz = 2480.0
	BandToleranceMHz   = 10.0
	// EarlyMarginDB is the drop in received power for twice the distance.
	EarlyMarginDB = 6.0
)

var CellularBandsMHz = []float64{750, 850, 1900}

type Proximity struct {
	Enabled           bool
	BluetoothDistance float64
	CellularDistance  float64
	EarlyDetection    bool
}

// Classify maps a tuned center frequency to the device class it monitors.
func Classify(centerMHz float64) (model.DeviceClass, bool) {
	if math.Abs(centerMHz-BluetoothCenterMHz) <= BandToleranceMHz {
		return model.DeviceBluetooth, true
	}
	for _, band := range CellularBandsMHz {
		if math.Abs(centerMHz-band) <= BandToleranceMHz {
			return model.DeviceCellular, true
		}
	}
	return "", false
}

func (p Proximity) threshold(class model.DeviceClass, cal model.Calibration) (reference, distance float64) {
	if class == model.DeviceBluetooth {
		return cal.BluetoothReference, p.BluetoothDistance
	}
	return cal.CellularReference, p.CellularDistance
}

func (p Proximity) peak(centerMHz float64, s model.Spectrum, cal model.Calibration) (model.DeviceClass, float64, bool) {
	if !p.Enabled || !cal.Calibrated || len(s.PSD) == 0 {
		return "", 0, false
	}
	class, ok := Classify(centerMHz)
	if !ok {
		return "", 0, false
	}
	return class, floats.Max(s.PSD), true
}

// Evaluate reports a breach when the strongest bin exceeds the calibrated
// reference for the band's device class. It returns nil when proximity
// detection is disabled, uncalibrated or the frequency is not monitored.
func (p Proximity) Evaluate(centerMHz float64, s model.Spectrum, cal model.Calibration) *model.Breach {
	class, maxPower, ok := p.peak(centerMHz, s, cal)
	if !ok {
		return nil
	}
	reference, distance := p.threshold(class, cal)
	if !(maxPower > reference) {
		return nil
	}
	return &model.Breach{
		DeviceClass:       class,
		DistanceFeet:      distance,
		ObservedPower:     maxPower,
		ReferencePower:    reference,
		CenterFreq:        centerMHz,
		SignalIncreasePct: SignalIncrease(maxPower, reference-EarlyMarginDB),
		Level:             model.LevelAlert,
	}
}

// EvaluateEarly reports a device approaching at about twice the configured
// distance: within EarlyMarginDB below the reference but not above it.
func (p Proximity) EvaluateEarly(centerMHz float64, s model.Spectrum, cal model.Calibration) *model.Breach {
	if !p.EarlyDetection {
		return nil
	}
	class, maxPower, ok := p.peak(centerMHz, s, cal)
	if !ok {
		return nil
	}
	reference, distance := p.threshold(class, cal)
	extended := reference - EarlyMarginDB
	if !(maxPower > extended && maxPower <= reference) {
		return nil
	}
	return &model.Breach{
		DeviceClass:       class,
		DistanceFeet:      distance * 2,
		ObservedPower:     maxPower,
		ReferencePower:    extended,
		CenterFreq:        centerMHz,
		SignalIncreasePct: SignalIncrease(maxPower, extended),
		Level:             model.LevelEarly,
	}
}
