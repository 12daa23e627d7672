package scan

import (
	"slices"
	"time"

	"rfids/internal/model"
)

type State string

const (
	StateStarting    State = "starting"
	StateProbing     State = "probing"
	StateBaselining  State = "baselining"
	StateCalibrating State = "calibrating"
	StateScanning    State = "scanning"
	StateStopped     State = "stopped"
)

// Status is a snapshot of the scan loop for the API.
type Status struct {
	State               State         `json:"state"`
	StartedAt           time.Time     `json:"started_at"`
	CurrentFreq         float64       `json:"current_freq_mhz"`
	Frequencies         []float64     `json:"frequencies_mhz"`
	Cycles              int           `json:"cycles"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastCaptureAt       time.Time     `json:"last_capture_at"`
	LastError           string        `json:"last_error,omitempty"`
	EarlyDetection      *model.Breach `json:"early_detection,omitempty"`
	EarlyDetectionAt    time.Time     `json:"early_detection_at"`
}

func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.status
	s.Frequencies = slices.Clone(s.Frequencies)
	if s.EarlyDetection != nil {
		early := *s.EarlyDetection
		s.EarlyDetection = &early
	}
	return s
}

func (o *Orchestrator) update(fn func(*Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.status)
}

func (o *Orchestrator) setState(state State) {
	o.update(func(s *Status) { s.State = state })
}
