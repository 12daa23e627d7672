package model

import "time"

type Spectrum struct {
	Frequencies []float64 `json:"frequencies"`
	PSD         []float64 `json:"psd"`
}

func (s Spectrum) Len() int {
	return len(s.PSD)
}

type Baseline struct {
	Frequencies []float64 `json:"frequencies"`
	Mean        []float64 `json:"psd_mean"`
	Std         []float64 `json:"psd_std"`
	CreatedAt   time.Time `json:"created_at"`
}

func (b *Baseline) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Mean)
}

// BaselineSet is the persisted detection state: one baseline per monitored
// center frequency in MHz.
type BaselineSet struct {
	CreatedAt time.Time
	Entries   map[float64]*Baseline
}

func NewBaselineSet() *BaselineSet {
	return &BaselineSet{CreatedAt: time.Now().UTC(), Entries: make(map[float64]*Baseline)}
}

type Anomaly struct {
	Frequency         float64  `json:"frequency_mhz"`
	BaselinePower     float64  `json:"baseline_power_db"`
	CurrentPower      float64  `json:"current_power_db"`
	Difference        float64  `json:"difference_db"`
	SignalIncreasePct float64  `json:"signal_increase_pct"`
	DistanceFeet      *float64 `json:"estimated_distance_feet,omitempty"`
}

type DeviceClass string

const (
	DeviceBluetooth DeviceClass = "bluetooth"
	DeviceCellular  DeviceClass = "cellular"
)

func (d DeviceClass) Label() string {
	switch d {
	case DeviceBluetooth:
		return "wireless device"
	case DeviceCellular:
		return "cell phone"
	}
	return string(d)
}

type BreachLevel string

const (
	LevelAlert BreachLevel = "alert"
	LevelEarly BreachLevel = "early"
)

type Breach struct {
	DeviceClass       DeviceClass `json:"device_class"`
	DistanceFeet      float64     `json:"distance_threshold_feet"`
	ObservedPower     float64     `json:"observed_power_db"`
	ReferencePower    float64     `json:"reference_power_db"`
	CenterFreq        float64     `json:"center_freq_mhz"`
	SignalIncreasePct float64     `json:"signal_increase_pct"`
	Level             BreachLevel `json:"level"`
}

type Calibration struct {
	BluetoothReference float64 `json:"bluetooth_reference_power"`
	CellularReference  float64 `json:"cellular_reference_power"`
	Calibrated         bool    `json:"calibrated"`
}

type AlertKind string

const (
	KindAnomaly   AlertKind = "anomaly"
	KindProximity AlertKind = "proximity"
)

type AlertState struct {
	LastAlertAt time.Time `json:"last_alert_at"`
	AlertCount  int       `json:"alert_count"`
}

// Alert is an admitted notification. Sequence is the governor's alert count
// at admission; Short is the single-line text used for SMS.
type Alert struct {
	ID          string    `json:"id"`
	Sequence    int       `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        AlertKind `json:"kind"`
	CenterFreq  float64   `json:"center_freq_mhz"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Short       string    `json:"short"`
	Anomalies   []Anomaly `json:"anomalies,omitempty"`
	Breach      *Breach   `json:"breach,omitempty"`
	Artifact    string    `json:"artifact,omitempty"`
	ArtifactURL string    `json:"artifact_url,omitempty"`
}

// SweepSummary condenses one successful capture for the alert history sink.
type SweepSummary struct {
	Timestamp  time.Time `json:"timestamp"`
	CenterFreq float64   `json:"center_freq_mhz"`
	PeakFreq   float64   `json:"peak_freq_mhz"`
	PeakPower  float64   `json:"peak_power_db"`
	MeanPower  float64   `json:"mean_power_db"`
	Anomalies  int       `json:"anomalies"`
}
