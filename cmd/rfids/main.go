package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rfids/internal/alerts"
	"rfids/internal/api"
	"rfids/internal/archive"
	"rfids/internal/baseline"
	"rfids/internal/calibrate"
	"rfids/internal/config"
	"rfids/internal/detect"
	"rfids/internal/detlog"
	"rfids/internal/logging"
	"rfids/internal/metrics"
	"rfids/internal/notify"
	"rfids/internal/render"
	"rfids/internal/scan"
	"rfids/internal/sdr"
	"rfids/internal/storage"
)

var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "config.json", "Path to the configuration file")
	flag.Parse()

	bootLogger := logging.NewLogger("info")
	created, err := config.EnsureFile(configPath)
	if err != nil {
		bootLogger.Error("failed to prepare configuration file", "path", configPath, "err", err)
		os.Exit(1)
	}
	if created {
		bootLogger.Info("default configuration written", "path", configPath)
	}
	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		bootLogger.Error("failed to load configuration file", "path", configPath, "err", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfgManager.Get().LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgManager, logger); err != nil {
		logger.Error("rfids stopped", "err", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgManager *config.Manager, logger *slog.Logger) error {
	cfg := cfgManager.Get()
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	rtl, err := sdr.NewRTL(sdr.RTLConfig{
		Runtime:     cfg.Device.Runtime,
		DeviceIndex: cfg.Device.Index,
		SampleRate:  cfg.SampleRate,
		Gain:        float64(cfg.Gain),
		PPM:         cfg.Device.PPM,
		NumSamples:  cfg.NumSamples,
		FFTSize:     cfg.FFTSize,
	}, sdr.WithLogger(logging.Component(logger, "sdr")))
	if err != nil {
		return fmt.Errorf("initialising SDR: %w", err)
	}
	defer rtl.Close()
	logger.Info("sdr ready",
		"runtime", cfg.Device.Runtime,
		"device_index", cfg.Device.Index,
		"sample_rate", cfg.SampleRate,
		"gain", cfg.Gain.String(),
	)

	governor := alerts.NewGovernor(cfg.Alerts.AnomalyCooldown, cfg.Alerts.ProximityCooldown)
	detector := scan.NewDetector(nil, governor, cfg.ProximityCalibration())
	alertStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	sweeps := metrics.NewStore(0)
	collectors := metrics.NewCollectors()
	tracker := detect.NewTracker(0)

	renderer, err := render.New(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("initialising renderer: %w", err)
	}
	logs, err := detlog.New(cfg.OutputDir, tracker)
	if err != nil {
		return fmt.Errorf("opening detection logs: %w", err)
	}

	notifier := notify.FromConfig(cfg, logging.Component(logger, "notify"))
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("closing notifiers failed", "err", err)
		}
	}()
	logger.Info("notifiers configured", "count", notifier.Len())

	var prompter calibrate.Prompter = calibrate.AutoPrompter{}
	if cfg.Calibration.Interactive {
		prompter = calibrate.ConsolePrompter{In: os.Stdin, Out: os.Stdout}
	}
	calibrator := &calibrate.Procedure{
		Sampler:         scan.Detach(rtl),
		Prompter:        prompter,
		Samples:         cfg.Calibration.Samples,
		CellularSamples: cfg.Calibration.CellularSamples,
		MarginDB:        cfg.Calibration.MarginDB,
		Interval:        cfg.Calibration.Interval,
		Logger:          logging.Component(logger, "calibrate"),
	}

	opts := []scan.Option{
		scan.WithBaselineStore(baseline.NewFileStore(cfg.OutputDir)),
		scan.WithCalibrator(calibrator),
		scan.WithRenderer(renderer),
		scan.WithNotifier(notifier),
		scan.WithDetectionLog(logs),
		scan.WithAlertStore(alertStore),
		scan.WithMetrics(collectors, sweeps),
		scan.WithLogger(logging.Component(logger, "scan")),
	}

	history, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	if history != nil {
		if err := history.Init(ctx); err != nil {
			_ = history.Close()
			return fmt.Errorf("initialising storage: %w", err)
		}
		defer history.Close()
		opts = append(opts, scan.WithStorage(history))
		logger.Info("alert history enabled", "driver", cfg.Storage.Driver)
	}

	if cfg.Archive.Enabled {
		store, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			logger.Warn("artifact archive disabled", "err", err)
		} else {
			opts = append(opts, scan.WithArchive(store))
			logger.Info("artifact archive enabled", "bucket", cfg.Archive.Bucket, "endpoint", cfg.Archive.Endpoint)
		}
	}

	orchestrator, err := scan.New(cfgManager, rtl, detector, opts...)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go cfgManager.Watch(3*time.Second, func(next *config.Config) {
		detector.Apply(next)
		logger.Info("config reloaded",
			"path", cfgManager.Path(),
			"calibrated", !next.Proximity.CalibrationNeeded)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stop)

	api.Start(ctx, cfgManager, api.Deps{
		Scanner:  orchestrator,
		Alerts:   alertStore,
		Sweeps:   sweeps,
		History:  history,
		Tracker:  tracker,
		Registry: collectors.Registry,
	}, logging.Component(logger, "api"), version)

	logger.Info("rfids started", "version", version, "frequencies_mhz", cfg.Frequencies, "threshold_db", cfg.Threshold)
	return orchestrator.Run(ctx)
}
