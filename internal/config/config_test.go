package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfids/internal/model"
)

func TestParseYAMLKeys(t *testing.T) {
	src := `
sample_rate: 2400000
center_freq: 433000000
gain: 38.6
fft_size: 512
num_samples: 4096
threshold: 12.5
scan_interval: 2
output_dir: /tmp/rfids
baseline_samples: 4
force_new_baseline: true
frequencies: [100, 2480, 850]
email_alerts: false
proximity_detection:
  enabled: true
  bluetooth_distance_threshold: 8
  cellular_distance_threshold: 20
  calibration_needed: false
  bluetooth_reference_power: -40
  cellular_reference_power: -35.5
alerts:
  anomaly_cooldown: 120s
`
	cfg, err := Parse([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, 2400000.0, cfg.SampleRate)
	assert.Equal(t, 433000000.0, cfg.CenterFreq)
	assert.Equal(t, Gain(38.6), cfg.Gain)
	assert.Equal(t, 512, cfg.FFTSize)
	assert.Equal(t, 4096, cfg.NumSamples)
	assert.Equal(t, 12.5, cfg.Threshold)
	assert.Equal(t, 2*time.Second, cfg.ScanIntervalDuration())
	assert.True(t, cfg.ForceNewBaseline)
	assert.Equal(t, 4, cfg.BaselineSamples)
	assert.Len(t, cfg.Frequencies, 3)

	assert.Equal(t, model.Calibration{BluetoothReference: -40, CellularReference: -35.5, Calibrated: true}, cfg.ProximityCalibration())
	assert.True(t, cfg.Proximity.EarlyDetection, "early detection should default on")
	assert.Equal(t, 120*time.Second, cfg.Alerts.AnomalyCooldown)
	assert.Equal(t, 60*time.Second, cfg.Alerts.ProximityCooldown)
}

func TestParseJSONAutoGain(t *testing.T) {
	cfg, err := Parse([]byte(`{"gain": "auto", "frequencies": [915]}`))
	require.NoError(t, err)
	assert.True(t, cfg.Gain.Auto(), "expected auto gain, got %v", cfg.Gain)

	cfg, err = Parse([]byte(`{"gain": 20}`))
	require.NoError(t, err)
	assert.Equal(t, Gain(20), cfg.Gain)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold":       func(c *Config) { c.Threshold = 0 },
		"fft larger":      func(c *Config) { c.FFTSize = c.NumSamples * 2 },
		"bad frequency":   func(c *Config) { c.Frequencies = []float64{-1} },
		"few cal samples": func(c *Config) { c.Proximity.Enabled = true; c.Calibration.Samples = 4 },
		"few cell":        func(c *Config) { c.Proximity.Enabled = true; c.Calibration.CellularSamples = 2 },
		"email":           func(c *Config) { c.EmailAlerts = true },
		"kafka":           func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		assert.Error(t, Validate(cfg), name)
	}
	assert.NoError(t, Validate(DefaultConfig()), "default config invalid")
}

func TestEmptyConfig(t *testing.T) {
	_, err := Parse([]byte("   \n"))
	assert.Error(t, err)
}

func TestManagerPersistsCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, DefaultConfig()))
	m, err := NewManager(path)
	require.NoError(t, err)

	before := m.Get()
	next := before.WithCalibration(model.Calibration{BluetoothReference: -38, CellularReference: -40, Calibrated: true})
	require.NoError(t, m.Update(next))
	assert.True(t, before.Proximity.CalibrationNeeded, "update mutated previous snapshot")

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.False(t, reloaded.Proximity.CalibrationNeeded)
	assert.Equal(t, -38.0, reloaded.Proximity.BluetoothReferencePower)
	assert.True(t, reloaded.Gain.Auto(), "auto gain not round-tripped")
}

func TestManagerModifyJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"frequencies": [100, 200]}`), 0o644))
	m, err := NewManager(path)
	require.NoError(t, err)
	_, err = m.Modify(func(c *Config) { c.Frequencies = c.Frequencies[:1] })
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{100}, reloaded.Frequencies)
}

func TestEnsureFileWritesDefaultsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	created, err := EnsureFile(path)
	require.NoError(t, err)
	assert.True(t, created)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.Threshold)
	assert.Len(t, cfg.Frequencies, 3)

	created, err = EnsureFile(path)
	require.NoError(t, err)
	assert.False(t, created)
}
