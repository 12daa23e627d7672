package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rfids/internal/model"
)

type Config struct {
	LogLevel         string            `json:"log_level" yaml:"log_level"`
	SampleRate       float64           `json:"sample_rate" yaml:"sample_rate"`
	CenterFreq       float64           `json:"center_freq" yaml:"center_freq"`
	Gain             Gain              `json:"gain" yaml:"gain"`
	FFTSize          int               `json:"fft_size" yaml:"fft_size"`
	NumSamples       int               `json:"num_samples" yaml:"num_samples"`
	Threshold        float64           `json:"threshold" yaml:"threshold"`
	ScanInterval     float64           `json:"scan_interval" yaml:"scan_interval"`
	OutputDir        string            `json:"output_dir" yaml:"output_dir"`
	BaselineSamples  int               `json:"baseline_samples" yaml:"baseline_samples"`
	ForceNewBaseline bool              `json:"force_new_baseline" yaml:"force_new_baseline"`
	Frequencies      []float64         `json:"frequencies" yaml:"frequencies"`
	EmailAlerts      bool              `json:"email_alerts" yaml:"email_alerts"`
	SMSAlerts        bool              `json:"sms_alerts" yaml:"sms_alerts"`
	Proximity        ProximityConfig   `json:"proximity_detection" yaml:"proximity_detection"`
	Calibration      CalibrationConfig `json:"calibration" yaml:"calibration"`
	Device           DeviceConfig      `json:"device" yaml:"device"`
	Scan             ScanConfig        `json:"scan" yaml:"scan"`
	Alerts           AlertsConfig      `json:"alerts" yaml:"alerts"`
	Email            EmailConfig       `json:"email" yaml:"email"`
	SMS              SMSConfig         `json:"sms" yaml:"sms"`
	MQTT             MQTTConfig        `json:"mqtt" yaml:"mqtt"`
	Kafka            KafkaConfig       `json:"kafka" yaml:"kafka"`
	Storage          StorageConfig     `json:"storage" yaml:"storage"`
	Archive          ArchiveConfig     `json:"archive" yaml:"archive"`
	API              APIConfig         `json:"api" yaml:"api"`
}

type ProximityConfig struct {
	Enabled                    bool    `json:"enabled" yaml:"enabled"`
	BluetoothDistanceThreshold float64 `json:"bluetooth_distance_threshold" yaml:"bluetooth_distance_threshold"`
	CellularDistanceThreshold  float64 `json:"cellular_distance_threshold" yaml:"cellular_distance_threshold"`
	CalibrationNeeded          bool    `json:"calibration_needed" yaml:"calibration_needed"`
	BluetoothReferencePower    float64 `json:"bluetooth_reference_power" yaml:"bluetooth_reference_power"`
	CellularReferencePower     float64 `json:"cellular_reference_power" yaml:"cellular_reference_power"`
	EarlyDetection             bool    `json:"early_detection" yaml:"early_detection"`
}

type CalibrationConfig struct {
	Samples         int           `json:"samples" yaml:"samples"`
	CellularSamples int           `json:"cellular_samples" yaml:"cellular_samples"`
	MarginDB        float64       `json:"margin_db" yaml:"margin_db"`
	Interval        time.Duration `json:"interval" yaml:"interval"`
	Interactive     bool          `json:"interactive" yaml:"interactive"`
}

type DeviceConfig struct {
	Index        int     `json:"index" yaml:"index"`
	Runtime      string  `json:"runtime" yaml:"runtime"`
	PPM          int     `json:"ppm" yaml:"ppm"`
	MaxFreqMHz   float64 `json:"max_freq_mhz" yaml:"max_freq_mhz"`
	ProbeMaxFreq bool    `json:"probe_max_freq" yaml:"probe_max_freq"`
}

type ScanConfig struct {
	CaptureRetries         int           `json:"capture_retries" yaml:"capture_retries"`
	RetryBackoff           time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	MaxConsecutiveFailures int           `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	FailureBackoff         time.Duration `json:"failure_backoff" yaml:"failure_backoff"`
	TriggerInterval        time.Duration `json:"trigger_interval" yaml:"trigger_interval"`
	DropFailedFrequencies  bool          `json:"drop_failed_frequencies" yaml:"drop_failed_frequencies"`
}

type AlertsConfig struct {
	StoreLimit        int           `json:"store_limit" yaml:"store_limit"`
	AnomalyCooldown   time.Duration `json:"anomaly_cooldown" yaml:"anomaly_cooldown"`
	ProximityCooldown time.Duration `json:"proximity_cooldown" yaml:"proximity_cooldown"`
}

type EmailConfig struct {
	Server    string `json:"server" yaml:"server"`
	Port      int    `json:"port" yaml:"port"`
	Sender    string `json:"sender" yaml:"sender"`
	Recipient string `json:"recipient" yaml:"recipient"`
	Password  string `json:"password" yaml:"password"`
}

type SMSConfig struct {
	AccountSID string `json:"account_sid" yaml:"account_sid"`
	AuthToken  string `json:"auth_token" yaml:"auth_token"`
	FromNumber string `json:"from_number" yaml:"from_number"`
	ToNumber   string `json:"to_number" yaml:"to_number"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type ArchiveConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Region    string `json:"region" yaml:"region"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Prefix    string `json:"prefix" yaml:"prefix"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		SampleRate:      2.048e6,
		CenterFreq:      100e6,
		FFTSize:         1024,
		NumSamples:      256 * 1024,
		Threshold:       10,
		ScanInterval:    5,
		OutputDir:       "rf_ids_output",
		BaselineSamples: 10,
		Frequencies:     []float64{100, 433, 915},
		Proximity: ProximityConfig{
			BluetoothDistanceThreshold: 10,
			CellularDistanceThreshold:  15,
			CalibrationNeeded:          true,
			EarlyDetection:             true,
		},
		Calibration: CalibrationConfig{
			Samples:         5,
			CellularSamples: 3,
			MarginDB:        2,
			Interval:        time.Second,
			Interactive:     true,
		},
		Device: DeviceConfig{Runtime: "rtl_sdr"},
		Scan: ScanConfig{
			CaptureRetries:         3,
			RetryBackoff:           2 * time.Second,
			MaxConsecutiveFailures: 5,
			FailureBackoff:         5 * time.Second,
			TriggerInterval:        time.Second,
			DropFailedFrequencies:  true,
		},
		Alerts: AlertsConfig{
			StoreLimit:        1000,
			AnomalyCooldown:   300 * time.Second,
			ProximityCooldown: 60 * time.Second,
		},
		Email:   EmailConfig{Port: 587},
		SMS:     SMSConfig{BaseURL: "https://api.twilio.com"},
		MQTT:    MQTTConfig{Topic: "rfids/alerts"},
		Kafka:   KafkaConfig{Topic: "rfids.alerts"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:rfids.db?_pragma=busy_timeout(5000)"},
		Archive: ArchiveConfig{Region: "us-east-1", Prefix: "artifacts/"},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// EnsureFile writes the default config to path when no file exists there.
func EnsureFile(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := Save(path, DefaultConfig()); err != nil {
		return false, fmt.Errorf("writing default config: %w", err)
	}
	return true, nil
}

func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Alerts.AnomalyCooldown <= 0 {
		cfg.Alerts.AnomalyCooldown = 300 * time.Second
	}
	if cfg.Alerts.ProximityCooldown <= 0 {
		cfg.Alerts.ProximityCooldown = 60 * time.Second
	}
	if cfg.Scan.CaptureRetries <= 0 {
		cfg.Scan.CaptureRetries = 3
	}
	if cfg.Scan.MaxConsecutiveFailures <= 0 {
		cfg.Scan.MaxConsecutiveFailures = 5
	}
	if cfg.Scan.TriggerInterval <= 0 {
		cfg.Scan.TriggerInterval = time.Second
	}
	if cfg.Calibration.MarginDB == 0 {
		cfg.Calibration.MarginDB = 2
	}
	if cfg.Device.Runtime == "" {
		cfg.Device.Runtime = "rtl_sdr"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "rf_ids_output"
	}
	if cfg.SMS.BaseURL == "" {
		cfg.SMS.BaseURL = "https://api.twilio.com"
	}
}

func Validate(cfg *Config) error {
	if cfg.SampleRate <= 0 {
		return errors.New("sample_rate must be > 0")
	}
	if cfg.FFTSize <= 0 {
		return errors.New("fft_size must be > 0")
	}
	if cfg.NumSamples < cfg.FFTSize {
		return fmt.Errorf("num_samples (%d) must be >= fft_size (%d)", cfg.NumSamples, cfg.FFTSize)
	}
	if cfg.Threshold <= 0 {
		return errors.New("threshold must be > 0")
	}
	if cfg.ScanInterval < 0 {
		return errors.New("scan_interval must be >= 0")
	}
	if cfg.BaselineSamples < 1 {
		return errors.New("baseline_samples must be >= 1")
	}
	for _, f := range cfg.Frequencies {
		if f <= 0 || math.IsNaN(f) {
			return fmt.Errorf("frequencies contains invalid value: %v", f)
		}
	}
	if cfg.Proximity.Enabled {
		if cfg.Proximity.BluetoothDistanceThreshold <= 0 || cfg.Proximity.CellularDistanceThreshold <= 0 {
			return errors.New("proximity_detection distance thresholds must be > 0")
		}
		if cfg.Calibration.Samples < 5 {
			return errors.New("calibration.samples must be >= 5")
		}
		if cfg.Calibration.CellularSamples < 3 {
			return errors.New("calibration.cellular_samples must be >= 3")
		}
	}
	if cfg.EmailAlerts {
		if cfg.Email.Server == "" || cfg.Email.Sender == "" || cfg.Email.Recipient == "" {
			return errors.New("email requires server, sender, recipient when email_alerts is true")
		}
	}
	if cfg.SMSAlerts {
		if cfg.SMS.AccountSID == "" || cfg.SMS.AuthToken == "" || cfg.SMS.FromNumber == "" || cfg.SMS.ToNumber == "" {
			return errors.New("sms requires account_sid, auth_token, from_number, to_number when sms_alerts is true")
		}
	}
	if cfg.MQTT.Enabled && (cfg.MQTT.Broker == "" || cfg.MQTT.Topic == "") {
		return errors.New("mqtt requires broker, topic")
	}
	if cfg.Kafka.Enabled && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "") {
		return errors.New("kafka requires brokers, topic")
	}
	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		return errors.New("archive.bucket required when archive.enabled is true")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	return nil
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Frequencies = append([]float64(nil), c.Frequencies...)
	out.Kafka.Brokers = append([]string(nil), c.Kafka.Brokers...)
	return &out
}

func (c *Config) ProximityCalibration() model.Calibration {
	return model.Calibration{
		BluetoothReference: c.Proximity.BluetoothReferencePower,
		CellularReference:  c.Proximity.CellularReferencePower,
		Calibrated:         !c.Proximity.CalibrationNeeded,
	}
}

func (c *Config) WithCalibration(cal model.Calibration) *Config {
	out := c.Clone()
	out.Proximity.BluetoothReferencePower = cal.BluetoothReference
	out.Proximity.CellularReferencePower = cal.CellularReference
	out.Proximity.CalibrationNeeded = !cal.Calibrated
	return out
}

func (c *Config) ScanIntervalDuration() time.Duration {
	return time.Duration(c.ScanInterval * float64(time.Second))
}

func (c *Config) Path(name string) string {
	return filepath.Join(c.OutputDir, name)
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
