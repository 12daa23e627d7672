package scan

import (
	"context"
	"errors"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rfids/internal/baseline"
	"rfids/internal/config"
	"rfids/internal/model"
	"rfids/internal/notify"
)

// process evaluates one capture and raises at most one alert. It reports
// whether the outcome was triggering.
func (o *Orchestrator) process(ctx context.Context, cfg *config.Config, centerMHz float64, s model.Spectrum) bool {
	now := o.now()
	out, err := o.detector.Evaluate(cfg, centerMHz, s)
	o.recordSweep(ctx, now, centerMHz, s, len(out.Anomalies))

	if out.Early != nil {
		o.early(now, *out.Early)
	}
	switch {
	case errors.Is(err, baseline.ErrNoBaseline):
		if o.logger != nil {
			o.logger.Info("no baseline for frequency, building one", "freq_mhz", centerMHz)
		}
		if err := o.buildMissing(ctx, []float64{centerMHz}); err != nil && o.logger != nil {
			o.logger.Warn("baseline build failed", "freq_mhz", centerMHz, "err", err)
		}
		return false
	case errors.Is(err, baseline.ErrCorruptBaseline):
		if o.logger != nil {
			o.logger.Warn("baseline does not match capture, rebuilding", "freq_mhz", centerMHz, "err", err)
		}
		o.rebuild(ctx, centerMHz)
		return false
	case err != nil:
		if o.logger != nil {
			o.logger.Warn("evaluation failed", "freq_mhz", centerMHz, "err", err)
		}
		return false
	}

	if out.Breach != nil {
		o.proximity(ctx, now, s, *out.Breach)
		return true
	}
	if len(out.Anomalies) > 0 {
		o.anomaly(ctx, now, cfg, centerMHz, out.Baseline, s, out.Anomalies)
		return true
	}
	return false
}

func (o *Orchestrator) rebuild(ctx context.Context, centerMHz float64) {
	b, err := baseline.Collect(ctx, o.steady, centerMHz, o.cfg.Get().BaselineSamples, baselineSampleInterval)
	if err != nil {
		if o.logger != nil {
			o.logger.Warn("baseline rebuild failed", "freq_mhz", centerMHz, "err", err)
		}
		return
	}
	set := o.detector.Baselines.Put(centerMHz, b)
	if o.store != nil {
		if err := o.store.Save(set); err != nil && o.logger != nil {
			o.logger.Warn("saving baseline failed", "err", err)
		}
	}
}

func (o *Orchestrator) recordSweep(ctx context.Context, now time.Time, centerMHz float64, s model.Spectrum, anomalies int) {
	peak := floats.MaxIdx(s.PSD)
	sweep := model.SweepSummary{
		Timestamp:  now,
		CenterFreq: centerMHz,
		PeakPower:  s.PSD[peak],
		MeanPower:  stat.Mean(s.PSD, nil),
		Anomalies:  anomalies,
	}
	if peak < len(s.Frequencies) {
		sweep.PeakFreq = s.Frequencies[peak]
	}
	o.update(func(st *Status) { st.LastCaptureAt = now })
	o.collectors.ObserveSweep(sweep)
	if o.sweeps != nil {
		o.sweeps.Update(sweep)
	}
	if o.sink != nil {
		if err := o.sink.SaveSweeps(ctx, []model.SweepSummary{sweep}); err != nil && o.logger != nil {
			o.logger.Warn("saving sweep failed", "err", err)
		}
	}
}

func (o *Orchestrator) early(now time.Time, b model.Breach) {
	o.collectors.Breach(b)
	o.update(func(s *Status) {
		s.EarlyDetection = &b
		s.EarlyDetectionAt = now
	})
	if o.logger != nil {
		o.logger.Info("early detection", "device", b.DeviceClass.Label(), "distance_feet", b.DistanceFeet, "power_db", b.ObservedPower)
	}
	if o.detlog != nil {
		if err := o.detlog.Proximity(now, b); err != nil && o.logger != nil {
			o.logger.Warn("writing proximity log failed", "err", err)
		}
	}
}

func (o *Orchestrator) proximity(ctx context.Context, now time.Time, s model.Spectrum, b model.Breach) {
	o.collectors.Breach(b)
	if o.logger != nil {
		o.logger.Warn("proximity breach",
			"device", b.DeviceClass.Label(),
			"distance_feet", b.DistanceFeet,
			"power_db", b.ObservedPower,
			"reference_db", b.ReferencePower,
			"freq_mhz", b.CenterFreq,
		)
	}
	if o.detlog != nil {
		if err := o.detlog.Proximity(now, b); err != nil && o.logger != nil {
			o.logger.Warn("writing proximity log failed", "err", err)
		}
	}
	if !o.admit(model.KindProximity, now) {
		return
	}
	alert := notify.ProximityAlert(now, o.detector.Governor.State().AlertCount, b)
	if o.renderer != nil {
		path, err := o.renderer.Proximity(s, &b, now)
		if err != nil && o.logger != nil {
			o.logger.Warn("rendering proximity plot failed", "err", err)
		}
		alert.Artifact = path
	}
	o.raise(ctx, alert)
}

func (o *Orchestrator) anomaly(ctx context.Context, now time.Time, cfg *config.Config, centerMHz float64, b *model.Baseline, s model.Spectrum, anomalies []model.Anomaly) {
	if o.logger != nil {
		o.logger.Warn("spectrum anomalies", "freq_mhz", centerMHz, "count", len(anomalies))
	}
	if o.detlog != nil {
		if err := o.detlog.Anomalies(now, centerMHz, anomalies); err != nil && o.logger != nil {
			o.logger.Warn("writing anomaly log failed", "err", err)
		}
	}
	if !o.admit(model.KindAnomaly, now) {
		return
	}
	alert := notify.AnomalyAlert(now, o.detector.Governor.State().AlertCount, centerMHz, anomalies)
	if o.renderer != nil {
		path, err := o.renderer.Anomaly(centerMHz, b, s, anomalies, cfg.Threshold, now)
		if err != nil && o.logger != nil {
			o.logger.Warn("rendering anomaly plot failed", "err", err)
		}
		alert.Artifact = path
	}
	o.raise(ctx, alert)
}

func (o *Orchestrator) admit(kind model.AlertKind, now time.Time) bool {
	admitted := o.detector.Governor.Admit(kind, now)
	o.collectors.AlertDecision(kind, admitted)
	if !admitted && o.logger != nil {
		o.logger.Debug("alert suppressed by cooldown", "kind", kind, "cooldown", o.detector.Governor.Cooldown(kind))
	}
	return admitted
}

// raise records the alert in the store and delivers it on its own goroutine.
func (o *Orchestrator) raise(ctx context.Context, alert model.Alert) {
	if o.logger != nil {
		o.logger.Warn("alert raised", "alert_id", alert.ID, "kind", alert.Kind, "sequence", alert.Sequence, "subject", alert.Subject)
	}
	if o.alerts != nil {
		o.alerts.Add(alert)
	}
	o.deliveries.Add(1)
	go func() {
		defer o.deliveries.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		defer cancel()
		o.deliver(dctx, alert)
	}()
}

func (o *Orchestrator) deliver(ctx context.Context, alert model.Alert) {
	if o.archive != nil && alert.Artifact != "" {
		url, err := o.archive.Upload(ctx, alert.Artifact, alert.Timestamp)
		if err != nil {
			if o.logger != nil {
				o.logger.Warn("archiving artifact failed", "path", alert.Artifact, "err", err)
			}
		} else {
			alert.ArtifactURL = url
		}
	}
	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, alert); err != nil {
			o.collectors.DeliveryFailed()
			if o.logger != nil {
				o.logger.Warn("alert delivery incomplete", "alert_id", alert.ID, "err", err)
			}
		}
	}
	if o.sink != nil {
		if err := o.sink.SaveAlert(ctx, alert); err != nil && o.logger != nil {
			o.logger.Warn("saving alert failed", "alert_id", alert.ID, "err", err)
		}
	}
}
