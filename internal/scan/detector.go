package scan

import (
	"errors"
	"sync/atomic"

	"rfids/internal/alerts"
	"rfids/internal/baseline"
	"rfids/internal/config"
	"rfids/internal/detect"
	"rfids/internal/model"
)

// Detector is the detection state for one sensor: baselines, calibration and
// the alert governor. The scan loop writes it; the API only reads.
type Detector struct {
	Baselines *baseline.Model
	Governor  *alerts.Governor

	calibration atomic.Value
}

func NewDetector(baselines *baseline.Model, governor *alerts.Governor, cal model.Calibration) *Detector {
	if baselines == nil {
		baselines = baseline.NewModel(nil)
	}
	if governor == nil {
		governor = alerts.NewGovernor(alerts.DefaultAnomalyCooldown, alerts.DefaultProximityCooldown)
	}
	d := &Detector{Baselines: baselines, Governor: governor}
	d.calibration.Store(cal)
	return d
}

func (d *Detector) Calibration() model.Calibration {
	if v := d.calibration.Load(); v != nil {
		return v.(model.Calibration)
	}
	return model.Calibration{}
}

func (d *Detector) SetCalibration(cal model.Calibration) {
	d.calibration.Store(cal)
}

// Apply refreshes the cooldowns and the proximity calibration from a
// reloaded config.
func (d *Detector) Apply(cfg *config.Config) {
	d.Governor.SetCooldowns(cfg.Alerts.AnomalyCooldown, cfg.Alerts.ProximityCooldown)
	d.SetCalibration(cfg.ProximityCalibration())
}

// Outcome is the result of evaluating one capture. At most one of Breach and
// Anomalies triggers an alert; Early is informational.
type Outcome struct {
	Breach    *model.Breach
	Early     *model.Breach
	Anomalies []model.Anomaly
	Baseline  *model.Baseline
}

func (o Outcome) Triggered() bool {
	return o.Breach != nil || len(o.Anomalies) > 0
}

func proximityFor(cfg *config.Config) detect.Proximity {
	return detect.Proximity{
		Enabled:           cfg.Proximity.Enabled,
		BluetoothDistance: cfg.Proximity.BluetoothDistanceThreshold,
		CellularDistance:  cfg.Proximity.CellularDistanceThreshold,
		EarlyDetection:    cfg.Proximity.EarlyDetection,
	}
}

// Evaluate checks proximity first and only compares against the baseline when
// no breach is found. baseline.ErrNoBaseline is returned when the frequency
// has no baseline yet.
func (d *Detector) Evaluate(cfg *config.Config, centerMHz float64, s model.Spectrum) (Outcome, error) {
	var out Outcome
	prox := proximityFor(cfg)
	cal := d.Calibration()
	if b := prox.Evaluate(centerMHz, s, cal); b != nil {
		out.Breach = b
		return out, nil
	}
	out.Early = prox.EvaluateEarly(centerMHz, s, cal)

	base, ok := d.Baselines.For(centerMHz)
	if !ok {
		return out, baseline.ErrNoBaseline
	}
	out.Baseline = base
	anomalies, err := detect.Compare(base, s, cfg.Threshold)
	if err != nil {
		if errors.Is(err, detect.ErrMisaligned) {
			return out, errors.Join(baseline.ErrCorruptBaseline, err)
		}
		return out, err
	}
	out.Anomalies = anomalies
	return out, nil
}
