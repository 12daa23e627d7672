package calibrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"rfids/internal/detect"
	"rfids/internal/model"
)

const (
	MinBluetoothSamples = 5
	MinCellularSamples  = 3
	DefaultMarginDB     = 2.0
)

var ErrTooFewSamples = errors.New("too few calibration samples")

type Sampler interface {
	Capture(ctx context.Context, centerMHz float64) (model.Spectrum, error)
}

// Procedure derives proximity reference levels from a reference device held
// at the alert distance. Reference = average peak + MarginDB.
type Procedure struct {
	Sampler         Sampler
	Prompter        Prompter
	Samples         int
	CellularSamples int
	MarginDB        float64
	Interval        time.Duration
	Logger          *slog.Logger
}

// Run returns a calibrated copy. On any error the input calibration is
// returned unchanged together with the error.
func (p *Procedure) Run(ctx context.Context, current model.Calibration) (model.Calibration, error) {
	if p.Sampler == nil {
		return current, errors.New("calibration requires a sampler")
	}
	if p.Samples < MinBluetoothSamples {
		return current, fmt.Errorf("%w: bluetooth needs %d, got %d", ErrTooFewSamples, MinBluetoothSamples, p.Samples)
	}
	if p.CellularSamples < MinCellularSamples {
		return current, fmt.Errorf("%w: cellular needs %d, got %d", ErrTooFewSamples, MinCellularSamples, p.CellularSamples)
	}
	prompter := p.Prompter
	if prompter == nil {
		prompter = AutoPrompter{}
	}

	if err := prompter.Ready(ctx, StepBluetooth); err != nil {
		return current, fmt.Errorf("bluetooth calibration: %w", err)
	}
	bt, err := p.averagePeak(ctx, detect.BluetoothCenterMHz, p.Samples)
	if err != nil {
		return current, fmt.Errorf("bluetooth calibration: %w", err)
	}
	if p.Logger != nil {
		p.Logger.Info("bluetooth calibration measured", "avg_peak_db", bt)
	}

	if err := prompter.Ready(ctx, StepCellular); err != nil {
		return current, fmt.Errorf("cellular calibration: %w", err)
	}
	cell := math.Inf(-1)
	for _, band := range detect.CellularBandsMHz {
		avg, err := p.averagePeak(ctx, band, p.CellularSamples)
		if err != nil {
			return current, fmt.Errorf("cellular calibration at %v MHz: %w", band, err)
		}
		if p.Logger != nil {
			p.Logger.Info("cellular band measured", "band_mhz", band, "avg_peak_db", avg)
		}
		cell = math.Max(cell, avg)
	}

	return model.Calibration{
		BluetoothReference: bt + p.MarginDB,
		CellularReference:  cell + p.MarginDB,
		Calibrated:         true,
	}, nil
}

func (p *Procedure) averagePeak(ctx context.Context, centerMHz float64, n int) (float64, error) {
	var sum float64
	for i := 0; i < n; i++ {
		if i > 0 && p.Interval > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(p.Interval):
			}
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		s, err := p.Sampler.Capture(ctx, centerMHz)
		if err != nil {
			return 0, err
		}
		if len(s.PSD) == 0 {
			return 0, fmt.Errorf("empty capture at %v MHz", centerMHz)
		}
		sum += floats.Max(s.PSD)
	}
	return sum / float64(n), nil
}
