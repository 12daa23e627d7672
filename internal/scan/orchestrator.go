package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"rfids/internal/alerts"
	"rfids/internal/baseline"
	"rfids/internal/config"
	"rfids/internal/detlog"
	"rfids/internal/metrics"
	"rfids/internal/model"
	"rfids/internal/notify"
	"rfids/internal/sdr"
	"rfids/internal/storage"
)

const (
	DefaultCaptureTimeout  = 30 * time.Second
	baselineSampleInterval = 200 * time.Millisecond
	deliveryTimeout        = time.Minute
)

var ErrTooManyFailures = errors.New("too many consecutive failed scan cycles")

type Sampler interface {
	Capture(ctx context.Context, centerMHz float64) (model.Spectrum, error)
	Close() error
}

type Capturer interface {
	Capture(ctx context.Context, centerMHz float64) (model.Spectrum, error)
}

type detached struct {
	Capturer
}

// Detach wraps c so that each capture runs to completion even when the
// caller's context is cancelled, bounded by DefaultCaptureTimeout.
func Detach(c Capturer) Capturer {
	if d, ok := c.(detached); ok {
		return d
	}
	return detached{c}
}

func (d detached) Capture(ctx context.Context, centerMHz float64) (model.Spectrum, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultCaptureTimeout)
	defer cancel()
	return d.Capturer.Capture(cctx, centerMHz)
}

type Calibrator interface {
	Run(ctx context.Context, current model.Calibration) (model.Calibration, error)
}

type Renderer interface {
	Anomaly(centerMHz float64, b *model.Baseline, s model.Spectrum, anomalies []model.Anomaly, thresholdDB float64, ts time.Time) (string, error)
	Proximity(s model.Spectrum, breach *model.Breach, ts time.Time) (string, error)
}

type Archiver interface {
	Upload(ctx context.Context, localPath string, ts time.Time) (string, error)
}

// Orchestrator owns the sampler and drives the round-robin scan loop.
type Orchestrator struct {
	cfg      *config.Manager
	sampler  Sampler
	steady   Capturer
	detector *Detector

	store      *baseline.FileStore
	calibrator Calibrator
	renderer   Renderer
	archive    Archiver
	notifier   notify.Notifier
	sink       storage.Store
	detlog     *detlog.Writer
	alerts     *alerts.Store
	collectors *metrics.Collectors
	sweeps     *metrics.Store
	logger     *slog.Logger
	now        func() time.Time

	resets     chan chan error
	deliveries sync.WaitGroup

	mu     sync.RWMutex
	status Status
}

type Option func(*Orchestrator)

func WithBaselineStore(s *baseline.FileStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithCalibrator(c Calibrator) Option {
	return func(o *Orchestrator) { o.calibrator = c }
}

func WithRenderer(r Renderer) Option {
	return func(o *Orchestrator) { o.renderer = r }
}

func WithArchive(a Archiver) Option {
	return func(o *Orchestrator) { o.archive = a }
}

func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithStorage(s storage.Store) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithDetectionLog(w *detlog.Writer) Option {
	return func(o *Orchestrator) { o.detlog = w }
}

func WithAlertStore(s *alerts.Store) Option {
	return func(o *Orchestrator) { o.alerts = s }
}

func WithMetrics(c *metrics.Collectors, sweeps *metrics.Store) Option {
	return func(o *Orchestrator) {
		o.collectors = c
		o.sweeps = sweeps
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(cfg *config.Manager, sampler Sampler, detector *Detector, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || sampler == nil {
		return nil, errors.New("scan requires a config manager and a sampler")
	}
	if detector == nil {
		detector = NewDetector(nil, nil, cfg.Get().ProximityCalibration())
	}
	o := &Orchestrator{
		cfg:      cfg,
		sampler:  sampler,
		steady:   Detach(sampler),
		detector: detector,
		now:      func() time.Time { return time.Now().UTC() },
		resets:   make(chan chan error),
		status:   Status{State: StateStarting},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) Detector() *Detector {
	return o.detector
}

// Run prepares baselines and calibration, then scans until ctx is cancelled
// or too many consecutive cycles fail. The sampler is closed on every path.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	o.update(func(s *Status) { s.StartedAt = o.now() })
	defer func() {
		o.deliveries.Wait()
		if cerr := o.sampler.Close(); cerr != nil && o.logger != nil {
			o.logger.Warn("closing sampler failed", "err", cerr)
		}
		o.update(func(s *Status) {
			s.State = StateStopped
			if err != nil {
				s.LastError = err.Error()
			}
		})
		if o.logger != nil {
			o.logger.Info("scan loop stopped", "err", err)
		}
	}()

	freqs, err := o.frequencies(ctx)
	if err != nil {
		return err
	}
	o.update(func(s *Status) { s.Frequencies = slices.Clone(freqs) })
	if err := o.prepareBaselines(ctx, freqs, o.cfg.Get().ForceNewBaseline); err != nil {
		return err
	}
	o.calibrate(ctx)
	return o.loop(ctx, freqs)
}

func (o *Orchestrator) frequencies(ctx context.Context) ([]float64, error) {
	cfg := o.cfg.Get()
	freqs := slices.Clone(cfg.Frequencies)
	if !cfg.Device.ProbeMaxFreq {
		if len(freqs) == 0 {
			freqs = slices.Clone(sdr.SafeFrequenciesMHz)
		}
		return freqs, nil
	}
	o.setState(StateProbing)
	maxMHz := cfg.Device.MaxFreqMHz
	if maxMHz <= 0 {
		probed, err := sdr.ProbeMaxFrequency(ctx, o.steady, nil, o.logger)
		if err != nil {
			return nil, err
		}
		maxMHz = probed
	}
	kept, dropped := sdr.FilterFrequencies(freqs, maxMHz)
	if len(dropped) > 0 && o.logger != nil {
		o.logger.Warn("frequencies above device range removed", "dropped_mhz", dropped, "max_mhz", maxMHz)
	}
	if len(dropped) > 0 || maxMHz != cfg.Device.MaxFreqMHz {
		o.persist(func(c *config.Config) {
			c.Frequencies = slices.Clone(kept)
			c.Device.MaxFreqMHz = maxMHz
		})
	}
	return kept, nil
}

func (o *Orchestrator) prepareBaselines(ctx context.Context, freqs []float64, force bool) error {
	o.setState(StateBaselining)
	switch {
	case force:
		if o.logger != nil {
			o.logger.Info("discarding baseline", "reason", "force_new_baseline")
		}
		o.discardBaselines()
	case o.store != nil:
		set, err := o.store.Load()
		switch {
		case err == nil:
			o.detector.Baselines.Replace(set)
			o.collectors.BaselineCreated(set.CreatedAt)
			if o.logger != nil {
				o.logger.Info("baseline loaded", "path", o.store.Path(), "created_at", set.CreatedAt, "frequencies", len(set.Entries))
			}
		case errors.Is(err, baseline.ErrNoBaseline):
			if o.logger != nil {
				o.logger.Info("no baseline found", "path", o.store.Path())
			}
		case errors.Is(err, baseline.ErrCorruptBaseline):
			if o.logger != nil {
				o.logger.Warn("discarding corrupt baseline", "path", o.store.Path(), "err", err)
			}
			o.discardBaselines()
		default:
			return fmt.Errorf("loading baseline: %w", err)
		}
	}
	if err := o.buildMissing(ctx, freqs); err != nil {
		return err
	}
	if len(o.detector.Baselines.Frequencies()) == 0 {
		return fmt.Errorf("%w: no frequency produced a baseline", baseline.ErrInsufficientData)
	}
	return nil
}

func (o *Orchestrator) discardBaselines() {
	if o.store != nil {
		if err := o.store.Remove(); err != nil && o.logger != nil {
			o.logger.Warn("removing baseline failed", "err", err)
		}
	}
	o.detector.Baselines.Replace(model.NewBaselineSet())
}

// buildMissing builds a baseline for every frequency that lacks one and
// persists the result. A frequency that cannot be captured is skipped.
func (o *Orchestrator) buildMissing(ctx context.Context, freqs []float64) error {
	missing := o.detector.Baselines.Missing(freqs)
	if len(missing) == 0 {
		return nil
	}
	cfg := o.cfg.Get()
	built := 0
	for _, f := range missing {
		if o.logger != nil {
			o.logger.Info("building baseline", "freq_mhz", f, "samples", cfg.BaselineSamples)
		}
		b, err := baseline.Collect(ctx, o.steady, f, cfg.BaselineSamples, baselineSampleInterval)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if o.logger != nil {
				o.logger.Warn("baseline build failed", "freq_mhz", f, "err", err)
			}
			continue
		}
		o.detector.Baselines.Put(f, b)
		built++
	}
	if built == 0 {
		return nil
	}
	set := o.detector.Baselines.Current()
	o.collectors.BaselineCreated(set.CreatedAt)
	if o.store != nil {
		if err := o.store.Save(set); err != nil {
			return fmt.Errorf("saving baseline: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) calibrate(ctx context.Context) {
	cfg := o.cfg.Get()
	if !cfg.Proximity.Enabled || !cfg.Proximity.CalibrationNeeded || o.calibrator == nil {
		return
	}
	o.setState(StateCalibrating)
	cal, err := o.calibrator.Run(ctx, o.detector.Calibration())
	if err != nil {
		if o.logger != nil {
			o.logger.Error("calibration aborted, proximity detection stays off", "err", err)
		}
		o.update(func(s *Status) { s.LastError = err.Error() })
		return
	}
	o.detector.SetCalibration(cal)
	if err := o.cfg.Update(o.cfg.Get().WithCalibration(cal)); err != nil && o.logger != nil {
		o.logger.Warn("persisting calibration failed", "err", err)
	}
	if o.logger != nil {
		o.logger.Info("calibration complete",
			"bluetooth_reference_db", cal.BluetoothReference,
			"cellular_reference_db", cal.CellularReference)
	}
}

func (o *Orchestrator) loop(ctx context.Context, freqs []float64) error {
	o.setState(StateScanning)
	failedCycles := 0
	for {
		if len(freqs) == 0 {
			freqs = slices.Clone(sdr.SafeFrequenciesMHz)
			if o.logger != nil {
				o.logger.Warn("no frequencies left, using safe defaults", "frequencies_mhz", freqs)
			}
			o.persist(func(c *config.Config) { c.Frequencies = slices.Clone(freqs) })
			if err := o.buildMissing(ctx, freqs); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		succeeded := false
		for _, f := range slices.Clone(freqs) {
			if ctx.Err() != nil {
				return nil
			}
			o.pollReset(ctx, freqs)
			cfg := o.cfg.Get()
			o.update(func(s *Status) { s.CurrentFreq = f })

			spectrum, err := o.capture(ctx, cfg, f)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if o.logger != nil {
					o.logger.Warn("capture failed, skipping frequency", "freq_mhz", f, "err", err)
				}
				o.update(func(s *Status) { s.LastError = err.Error() })
				if cfg.Scan.DropFailedFrequencies {
					freqs = o.drop(freqs, f)
				}
				continue
			}
			succeeded = true

			wait := cfg.ScanIntervalDuration()
			if o.process(ctx, cfg, f, spectrum) {
				wait = cfg.Scan.TriggerInterval
			}
			if err := o.wait(ctx, wait, freqs); err != nil {
				return nil
			}
		}

		if succeeded {
			failedCycles = 0
		} else {
			failedCycles++
			if o.logger != nil {
				o.logger.Error("scan cycle failed", "consecutive_failures", failedCycles, "max", o.cfg.Get().Scan.MaxConsecutiveFailures)
			}
		}
		o.update(func(s *Status) {
			s.Cycles++
			s.ConsecutiveFailures = failedCycles
			s.Frequencies = slices.Clone(freqs)
		})
		if failedCycles >= o.cfg.Get().Scan.MaxConsecutiveFailures {
			return fmt.Errorf("%w: %d", ErrTooManyFailures, failedCycles)
		}
		if failedCycles > 0 {
			if err := o.wait(ctx, o.cfg.Get().Scan.FailureBackoff, freqs); err != nil {
				return nil
			}
		}
	}
}

// capture retries up to scan.capture_retries times. Cancellation is observed
// between attempts, never during one.
func (o *Orchestrator) capture(ctx context.Context, cfg *config.Config, centerMHz float64) (model.Spectrum, error) {
	attempts := max(cfg.Scan.CaptureRetries, 1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, cfg.Scan.RetryBackoff); err != nil {
				return model.Spectrum{}, err
			}
		}
		s, err := o.steady.Capture(ctx, centerMHz)
		if err == nil && s.Len() == 0 {
			err = errors.New("empty spectrum")
		}
		if err == nil {
			return s, nil
		}
		lastErr = err
		o.collectors.CaptureFailed(centerMHz)
		if o.logger != nil {
			o.logger.Debug("capture attempt failed", "freq_mhz", centerMHz, "attempt", i+1, "err", err)
		}
	}
	return model.Spectrum{}, fmt.Errorf("%d attempts at %v MHz: %w", attempts, centerMHz, lastErr)
}

func (o *Orchestrator) drop(freqs []float64, f float64) []float64 {
	out := slices.DeleteFunc(slices.Clone(freqs), func(v float64) bool { return v == f })
	o.collectors.FrequencyDropped()
	if o.logger != nil {
		o.logger.Warn("frequency removed from scan list", "freq_mhz", f, "remaining", out)
	}
	o.persist(func(c *config.Config) { c.Frequencies = slices.Clone(out) })
	return out
}

func (o *Orchestrator) persist(fn func(*config.Config)) {
	if _, err := o.cfg.Modify(fn); err != nil && o.logger != nil {
		o.logger.Warn("persisting config failed", "err", err)
	}
}

// wait sleeps for d unless ctx is cancelled. A baseline reset requested
// meanwhile is served and ends the wait early.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration, freqs []float64) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case req := <-o.resets:
		req <- o.resetBaselines(ctx, freqs)
		return nil
	}
}

func (o *Orchestrator) pollReset(ctx context.Context, freqs []float64) {
	select {
	case req := <-o.resets:
		req <- o.resetBaselines(ctx, freqs)
	default:
	}
}

func (o *Orchestrator) resetBaselines(ctx context.Context, freqs []float64) error {
	if o.logger != nil {
		o.logger.Info("baseline reset requested")
	}
	o.setState(StateBaselining)
	defer o.setState(StateScanning)
	o.discardBaselines()
	return o.buildMissing(ctx, freqs)
}

// RequestBaselineReset asks the scan loop to discard and rebuild every
// baseline between cycles, and waits for the rebuild to finish.
func (o *Orchestrator) RequestBaselineReset(ctx context.Context) error {
	req := make(chan error, 1)
	select {
	case o.resets <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
