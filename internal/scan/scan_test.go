package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfids/internal/alerts"
	"rfids/internal/baseline"
	"rfids/internal/config"
	"rfids/internal/detlog"
	"rfids/internal/metrics"
	"rfids/internal/model"
)

type fakeSampler struct {
	mu     sync.Mutex
	calls  map[float64]int
	closed int
	fn     func(center float64, call int) (model.Spectrum, error)
}

func newFakeSampler(fn func(center float64, call int) (model.Spectrum, error)) *fakeSampler {
	return &fakeSampler{calls: make(map[float64]int), fn: fn}
}

func (f *fakeSampler) Capture(_ context.Context, center float64) (model.Spectrum, error) {
	f.mu.Lock()
	f.calls[center]++
	call := f.calls[center]
	f.mu.Unlock()
	return f.fn(center, call)
}

func (f *fakeSampler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSampler) Calls(center float64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[center]
}

func (f *fakeSampler) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func spectrum(center float64, psd ...float64) model.Spectrum {
	freqs := make([]float64, len(psd))
	for i := range psd {
		freqs[i] = center + float64(i)*0.1
	}
	return model.Spectrum{Frequencies: freqs, PSD: psd}
}

type recordingNotifier struct {
	ch chan model.Alert
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, alert model.Alert) error {
	r.ch <- alert
	return nil
}

func testConfig(freqs ...float64) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Frequencies = freqs
	cfg.ScanInterval = 0.001
	cfg.BaselineSamples = 2
	cfg.Threshold = 10
	cfg.API.Enabled = false
	cfg.Scan.CaptureRetries = 1
	cfg.Scan.RetryBackoff = 0
	cfg.Scan.FailureBackoff = 0
	cfg.Scan.TriggerInterval = time.Millisecond
	cfg.Scan.DropFailedFrequencies = false
	return cfg
}

func TestRunBuildsBaselineThenAlertsOnAnomaly(t *testing.T) {
	dir := t.TempDir()
	sampler := newFakeSampler(func(center float64, call int) (model.Spectrum, error) {
		if call <= 2 {
			return spectrum(center, -60, -60, -60, -60), nil
		}
		return spectrum(center, -60, -60, -35, -60), nil
	})
	notifier := &recordingNotifier{ch: make(chan model.Alert, 4)}
	store := alerts.NewStore(10)
	logs, err := detlog.New(dir, nil)
	require.NoError(t, err)

	mgr := config.NewManagerWith("", testConfig(433))
	o, err := New(mgr, sampler, nil,
		WithBaselineStore(baseline.NewFileStore(dir)),
		WithNotifier(notifier),
		WithAlertStore(store),
		WithDetectionLog(logs),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	var alert model.Alert
	select {
	case alert = <-notifier.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no alert delivered")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, model.KindAnomaly, alert.Kind)
	assert.Equal(t, 1, alert.Sequence)
	require.Len(t, alert.Anomalies, 1)
	assert.InDelta(t, 433.2, alert.Anomalies[0].Frequency, 1e-9)
	assert.InDelta(t, 25.0, alert.Anomalies[0].Difference, 1e-9)

	assert.Equal(t, 1, sampler.Closed())
	assert.Equal(t, StateStopped, o.Status().State)
	assert.GreaterOrEqual(t, store.Len(), 1)
	_, err = os.Stat(filepath.Join(dir, baseline.FileName))
	assert.NoError(t, err)

	// Later anomalies fall inside the cooldown and are logged but not alerted.
	assert.Equal(t, 1, o.Detector().Governor.State().AlertCount)
	data, err := os.ReadFile(filepath.Join(dir, detlog.AnomalyLog))
	require.NoError(t, err)
	assert.Contains(t, string(data), ",433.200,25.00\n")
}

func TestProximityTakesPriority(t *testing.T) {
	cfg := testConfig(2480)
	cfg.Proximity.Enabled = true
	cfg.Proximity.BluetoothDistanceThreshold = 3
	cfg.Proximity.CellularDistanceThreshold = 10
	cfg.Proximity.CalibrationNeeded = false
	cfg.Proximity.BluetoothReferencePower = -40

	sampler := newFakeSampler(func(center float64, call int) (model.Spectrum, error) {
		if call <= 2 {
			return spectrum(center, -70, -70, -70), nil
		}
		return spectrum(center, -70, -35, -70), nil
	})
	notifier := &recordingNotifier{ch: make(chan model.Alert, 4)}
	o, err := New(config.NewManagerWith("", cfg), sampler, nil, WithNotifier(notifier))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	var alert model.Alert
	select {
	case alert = <-notifier.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no alert delivered")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, model.KindProximity, alert.Kind)
	require.NotNil(t, alert.Breach)
	assert.Equal(t, model.DeviceBluetooth, alert.Breach.DeviceClass)
	assert.Equal(t, 3.0, alert.Breach.DistanceFeet)
	assert.Empty(t, alert.Anomalies)
}

func TestRunFailsWithoutAnyBaseline(t *testing.T) {
	sampler := newFakeSampler(func(float64, int) (model.Spectrum, error) {
		return model.Spectrum{}, errors.New("usb_claim_interface error -6")
	})
	o, err := New(config.NewManagerWith("", testConfig(100)), sampler, nil)
	require.NoError(t, err)

	err = o.Run(context.Background())
	assert.ErrorIs(t, err, baseline.ErrInsufficientData)
	assert.Equal(t, 1, sampler.Closed())
}

func TestRunStopsAfterConsecutiveFailedCycles(t *testing.T) {
	sampler := newFakeSampler(func(center float64, call int) (model.Spectrum, error) {
		if call <= 2 {
			return spectrum(center, -60, -60), nil
		}
		return model.Spectrum{}, errors.New("PLL not locked")
	})
	cfg := testConfig(100, 200)
	cfg.Scan.MaxConsecutiveFailures = 2
	o, err := New(config.NewManagerWith("", cfg), sampler, nil)
	require.NoError(t, err)

	err = o.Run(context.Background())
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.Equal(t, 1, sampler.Closed())
	assert.Equal(t, 2, o.Status().ConsecutiveFailures)
}

func TestFailedFrequencyIsDropped(t *testing.T) {
	sampler := newFakeSampler(func(center float64, call int) (model.Spectrum, error) {
		if center == 1700 && call > 2 {
			return model.Spectrum{}, errors.New("tuning failed")
		}
		return spectrum(center, -60, -60), nil
	})
	cfg := testConfig(100, 1700)
	cfg.Scan.DropFailedFrequencies = true
	mgr := config.NewManagerWith("", cfg)
	o, err := New(mgr, sampler, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	require.Eventually(t, func() bool {
		return len(mgr.Get().Frequencies) == 1
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []float64{100}, mgr.Get().Frequencies)
}

type fakeCalibrator struct {
	cal model.Calibration
	err error
}

func (f fakeCalibrator) Run(_ context.Context, current model.Calibration) (model.Calibration, error) {
	if f.err != nil {
		return current, f.err
	}
	return f.cal, nil
}

func proximityConfig() *config.Config {
	cfg := testConfig(100)
	cfg.Proximity.Enabled = true
	cfg.Proximity.BluetoothDistanceThreshold = 3
	cfg.Proximity.CellularDistanceThreshold = 10
	cfg.Proximity.CalibrationNeeded = true
	cfg.Calibration.Samples = 5
	cfg.Calibration.CellularSamples = 3
	return cfg
}

func TestCalibrationRunsOnceAndPersists(t *testing.T) {
	mgr := config.NewManagerWith("", proximityConfig())
	sampler := newFakeSampler(func(center float64, _ int) (model.Spectrum, error) {
		return spectrum(center, -60, -60), nil
	})
	cal := model.Calibration{BluetoothReference: -38, CellularReference: -40, Calibrated: true}
	o, err := New(mgr, sampler, nil, WithCalibrator(fakeCalibrator{cal: cal}))
	require.NoError(t, err)

	require.NoError(t, o.prepareBaselines(context.Background(), []float64{100}, false))
	o.calibrate(context.Background())

	assert.Equal(t, cal, o.Detector().Calibration())
	assert.False(t, mgr.Get().Proximity.CalibrationNeeded)
	assert.Equal(t, -38.0, mgr.Get().Proximity.BluetoothReferencePower)
}

func TestCalibrationAbortKeepsState(t *testing.T) {
	mgr := config.NewManagerWith("", proximityConfig())
	sampler := newFakeSampler(func(center float64, _ int) (model.Spectrum, error) {
		return spectrum(center, -60, -60), nil
	})
	o, err := New(mgr, sampler, nil, WithCalibrator(fakeCalibrator{err: errors.New("device unplugged")}))
	require.NoError(t, err)

	o.calibrate(context.Background())
	assert.False(t, o.Detector().Calibration().Calibrated)
	assert.True(t, mgr.Get().Proximity.CalibrationNeeded)
	assert.Contains(t, o.Status().LastError, "device unplugged")
}

func TestCorruptBaselineIsRebuilt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, baseline.FileName), []byte("garbage"), 0o644))
	sampler := newFakeSampler(func(center float64, _ int) (model.Spectrum, error) {
		return spectrum(center, -50, -52), nil
	})
	store := baseline.NewFileStore(dir)
	o, err := New(config.NewManagerWith("", testConfig(433)), sampler, nil, WithBaselineStore(store))
	require.NoError(t, err)

	require.NoError(t, o.prepareBaselines(context.Background(), []float64{433}, false))
	b, ok := o.Detector().Baselines.For(433)
	require.True(t, ok)
	assert.Equal(t, []float64{-50, -52}, b.Mean)

	set, err := store.Load()
	require.NoError(t, err)
	assert.Contains(t, set.Entries, 433.0)
}

func TestRequestBaselineReset(t *testing.T) {
	level := -60.0
	var mu sync.Mutex
	sampler := newFakeSampler(func(center float64, _ int) (model.Spectrum, error) {
		mu.Lock()
		defer mu.Unlock()
		return spectrum(center, level, level), nil
	})
	cfg := testConfig(433)
	cfg.ScanInterval = 0.05
	o, err := New(config.NewManagerWith("", cfg), sampler, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	require.Eventually(t, func() bool { return o.Status().State == StateScanning }, 5*time.Second, time.Millisecond)

	mu.Lock()
	level = -40
	mu.Unlock()
	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	require.NoError(t, o.RequestBaselineReset(reqCtx))

	b, ok := o.Detector().Baselines.For(433)
	require.True(t, ok)
	assert.Equal(t, []float64{-40, -40}, b.Mean)

	cancel()
	require.NoError(t, <-done)
}

func TestDetectorEvaluate(t *testing.T) {
	cfg := testConfig(433)
	d := NewDetector(nil, nil, model.Calibration{})
	_, err := d.Evaluate(cfg, 433, spectrum(433, -60))
	assert.ErrorIs(t, err, baseline.ErrNoBaseline)

	d.Baselines.Put(433, &model.Baseline{Frequencies: []float64{433, 433.1}, Mean: []float64{-60, -60}, Std: []float64{0, 0}})
	_, err = d.Evaluate(cfg, 433, spectrum(433, -60))
	assert.ErrorIs(t, err, baseline.ErrCorruptBaseline)

	out, err := d.Evaluate(cfg, 433, spectrum(433, -60, -50))
	require.NoError(t, err)
	assert.False(t, out.Triggered())
	assert.NotNil(t, out.Anomalies)

	out, err = d.Evaluate(cfg, 433, spectrum(433, -60, -49.9))
	require.NoError(t, err)
	assert.True(t, out.Triggered())
}

func TestDetectorEarlyDetection(t *testing.T) {
	cfg := testConfig(850)
	cfg.Proximity.Enabled = true
	cfg.Proximity.CellularDistanceThreshold = 10
	cfg.Proximity.EarlyDetection = true
	d := NewDetector(nil, nil, model.Calibration{CellularReference: -40, Calibrated: true})
	d.Baselines.Put(850, &model.Baseline{Frequencies: []float64{850}, Mean: []float64{-43}, Std: []float64{0}})

	out, err := d.Evaluate(cfg, 850, spectrum(850, -43))
	require.NoError(t, err)
	assert.Nil(t, out.Breach)
	require.NotNil(t, out.Early)
	assert.Equal(t, 20.0, out.Early.DistanceFeet)
	assert.False(t, out.Triggered())
}

type failingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (f *failingNotifier) Name() string { return "failing" }

func (f *failingNotifier) Notify(context.Context, model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("smtp: 421 service not available")
}

func (f *failingNotifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func runInBackground(t *testing.T, o *Orchestrator) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestShiftedBaselineGridIsRebuilt(t *testing.T) {
	dir := t.TempDir()
	store := baseline.NewFileStore(dir)
	stale := model.NewBaselineSet()
	stale.Entries[433] = &model.Baseline{
		Frequencies: []float64{430, 431, 432},
		Mean:        []float64{-60, -60, -60},
		Std:         []float64{0, 0, 0},
	}
	require.NoError(t, store.Save(stale))

	sampler := newFakeSampler(func(center float64, _ int) (model.Spectrum, error) {
		return spectrum(center, -30, -30, -30), nil
	})
	notifier := &recordingNotifier{ch: make(chan model.Alert, 4)}
	o, err := New(config.NewManagerWith("", testConfig(433)), sampler, nil,
		WithBaselineStore(store), WithNotifier(notifier))
	require.NoError(t, err)

	stop := runInBackground(t, o)
	require.Eventually(t, func() bool {
		b, ok := o.Detector().Baselines.For(433)
		return ok && b.Frequencies[0] == 433
	}, 5*time.Second, 5*time.Millisecond)
	stop()

	assert.Empty(t, notifier.ch, "a baseline on another grid must not be compared")
	set, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []float64{-30, -30, -30}, set.Entries[433].Mean)
}

func TestCaptureRetrySucceedsWithoutSkipping(t *testing.T) {
	sampler := newFakeSampler(func(center float64, call int) (model.Spectrum, error) {
		if call == 3 {
			return model.Spectrum{}, errors.New("usb transfer timed out")
		}
		return spectrum(center, -60, -60), nil
	})
	cfg := testConfig(100)
	cfg.Scan.CaptureRetries = 2
	cfg.Scan.DropFailedFrequencies = true
	cfg.ScanInterval = 3600
	mgr := config.NewManagerWith("", cfg)
	sweeps := metrics.NewStore(0)
	o, err := New(mgr, sampler, nil, WithMetrics(nil, sweeps))
	require.NoError(t, err)

	stop := runInBackground(t, o)
	require.Eventually(t, func() bool {
		_, ok := sweeps.Get(100)
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 4, sampler.Calls(100))
	assert.Equal(t, []float64{100}, mgr.Get().Frequencies)
	st := o.Status()
	assert.Empty(t, st.LastError)
	assert.Zero(t, st.ConsecutiveFailures)
}

func TestWaitFollowsOutcome(t *testing.T) {
	anomalous := func(center float64, call int) (model.Spectrum, error) {
		if call <= 2 {
			return spectrum(center, -60, -60), nil
		}
		return spectrum(center, -60, -30), nil
	}
	quiet := func(center float64, _ int) (model.Spectrum, error) {
		return spectrum(center, -60, -60), nil
	}

	t.Run("triggered cycles use the trigger interval", func(t *testing.T) {
		sampler := newFakeSampler(anomalous)
		cfg := testConfig(100)
		cfg.ScanInterval = 3600
		cfg.Scan.TriggerInterval = time.Millisecond
		o, err := New(config.NewManagerWith("", cfg), sampler, nil)
		require.NoError(t, err)
		stop := runInBackground(t, o)
		require.Eventually(t, func() bool { return sampler.Calls(100) >= 8 }, 5*time.Second, 5*time.Millisecond)
		stop()
	})

	t.Run("idle cycles use the scan interval", func(t *testing.T) {
		sampler := newFakeSampler(quiet)
		cfg := testConfig(100)
		cfg.ScanInterval = 0.001
		cfg.Scan.TriggerInterval = time.Hour
		o, err := New(config.NewManagerWith("", cfg), sampler, nil)
		require.NoError(t, err)
		stop := runInBackground(t, o)
		require.Eventually(t, func() bool { return sampler.Calls(100) >= 8 }, 5*time.Second, 5*time.Millisecond)
		stop()
	})

	t.Run("idle cycle does not use the trigger interval", func(t *testing.T) {
		sampler := newFakeSampler(quiet)
		cfg := testConfig(100)
		cfg.ScanInterval = 3600
		cfg.Scan.TriggerInterval = time.Millisecond
		o, err := New(config.NewManagerWith("", cfg), sampler, nil)
		require.NoError(t, err)
		stop := runInBackground(t, o)
		require.Eventually(t, func() bool { return sampler.Calls(100) >= 3 }, 5*time.Second, 5*time.Millisecond)
		time.Sleep(200 * time.Millisecond)
		stop()
		assert.Equal(t, 3, sampler.Calls(100))
	})
}

func TestNotifierFailureKeepsScanning(t *testing.T) {
	sampler := newFakeSampler(func(center float64, call int) (model.Spectrum, error) {
		if call <= 2 {
			return spectrum(center, -60, -60), nil
		}
		return spectrum(center, -60, -30), nil
	})
	notifier := &failingNotifier{}
	store := alerts.NewStore(10)
	detector := NewDetector(nil, alerts.NewGovernor(time.Nanosecond, time.Nanosecond), model.Calibration{})
	o, err := New(config.NewManagerWith("", testConfig(100)), sampler, detector,
		WithNotifier(notifier), WithAlertStore(store))
	require.NoError(t, err)

	stop := runInBackground(t, o)
	require.Eventually(t, func() bool { return notifier.Calls() >= 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateScanning, o.Status().State)
	stop()

	assert.GreaterOrEqual(t, detector.Governor.State().AlertCount, 3)
	assert.GreaterOrEqual(t, store.Len(), 3)
}

func TestDetectorApplyReloadedConfig(t *testing.T) {
	d := NewDetector(nil, nil, model.Calibration{})
	cfg := testConfig(100)
	cfg.Alerts.AnomalyCooldown = 30 * time.Second
	cfg.Alerts.ProximityCooldown = 5 * time.Second
	cfg.Proximity.CalibrationNeeded = false
	cfg.Proximity.BluetoothReferencePower = -42
	cfg.Proximity.CellularReferencePower = -47

	d.Apply(cfg)
	assert.Equal(t, 30*time.Second, d.Governor.Cooldown(model.KindAnomaly))
	assert.Equal(t, 5*time.Second, d.Governor.Cooldown(model.KindProximity))
	assert.Equal(t, model.Calibration{BluetoothReference: -42, CellularReference: -47, Calibrated: true}, d.Calibration())
}
