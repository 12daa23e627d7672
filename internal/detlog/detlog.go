package detlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"rfids/internal/detect"
	"rfids/internal/model"
)

const (
	AnomalyLog      = "anomalies.log"
	ProximityLog    = "proximity_alerts.log"
	AnomalyCSV      = "enhanced_anomalies.csv"
	ProximityCSV    = "proximity_log.csv"
	rowTimeLayout   = "20060102_150405"
	csvTimeLayout   = "2006-01-02 15:04:05"
	statusAlert     = "alert"
	statusEarly     = "early_detection"
	anomalyCategory = "rf_anomaly"
)

var (
	anomalyHeader   = []string{"timestamp", "first_seen", "last_seen", "center_freq", "anomaly_freq", "difference_db", "signal_increase_pct", "estimated_distance", "type"}
	proximityHeader = []string{"timestamp", "first_seen", "last_seen", "device_type", "frequency", "power_db", "distance", "status"}
)

// Writer appends detection records to the per-class log files in dir. Every
// detection is written, whether or not the governor admits an alert for it.
type Writer struct {
	dir     string
	tracker *detect.Tracker
	mu      sync.Mutex
}

func New(dir string, tracker *detect.Tracker) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = detect.NewTracker(0)
	}
	w := &Writer{dir: dir, tracker: tracker}
	for name, header := range map[string][]string{AnomalyCSV: anomalyHeader, ProximityCSV: proximityHeader} {
		if err := w.appendCSV(name, header, nil); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Writer) Tracker() *detect.Tracker {
	return w.tracker
}

// Anomalies writes one row per anomaly to the plain and the enhanced log.
func (w *Writer) Anomalies(ts time.Time, centerMHz float64, anomalies []model.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	var plain strings.Builder
	rows := make([][]string, 0, len(anomalies))
	for _, a := range anomalies {
		fmt.Fprintf(&plain, "%s,%.3f,%.2f\n", ts.Format(rowTimeLayout), a.Frequency, a.Difference)
		seen := w.tracker.Observe(detect.AnomalyKey(centerMHz, a.Frequency), statusAlert, ts)
		dist := "N/A"
		if a.DistanceFeet != nil {
			dist = strconv.FormatFloat(*a.DistanceFeet, 'f', -1, 64)
		}
		rows = append(rows, []string{
			ts.Format(csvTimeLayout),
			seen.FirstSeen.Format(csvTimeLayout),
			seen.LastSeen.Format(csvTimeLayout),
			strconv.FormatFloat(centerMHz, 'f', -1, 64),
			fmt.Sprintf("%.3f", a.Frequency),
			fmt.Sprintf("%.2f", a.Difference),
			fmt.Sprintf("%.1f", a.SignalIncreasePct),
			dist,
			anomalyCategory,
		})
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.appendText(AnomalyLog, plain.String()); err != nil {
		return err
	}
	return w.appendCSV(AnomalyCSV, anomalyHeader, rows)
}

// Proximity records a breach. Alert-level breaches go to both logs; early
// detections only reach the enhanced CSV.
func (w *Writer) Proximity(ts time.Time, b model.Breach) error {
	status := statusAlert
	if b.Level == model.LevelEarly {
		status = statusEarly
	}
	seen := w.tracker.Observe(detect.DeviceKey(b.DeviceClass, b.CenterFreq), status, ts)
	row := []string{
		ts.Format(csvTimeLayout),
		seen.FirstSeen.Format(csvTimeLayout),
		seen.LastSeen.Format(csvTimeLayout),
		string(b.DeviceClass),
		strconv.FormatFloat(b.CenterFreq, 'f', -1, 64),
		fmt.Sprintf("%.2f", b.ObservedPower),
		strconv.FormatFloat(b.DistanceFeet, 'f', -1, 64),
		status,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if b.Level != model.LevelEarly {
		line := fmt.Sprintf("%s,%s,%s,%.2f\n", ts.Format(rowTimeLayout), b.DeviceClass,
			strconv.FormatFloat(b.DistanceFeet, 'f', -1, 64), b.ObservedPower)
		if err := w.appendText(ProximityLog, line); err != nil {
			return err
		}
	}
	return w.appendCSV(ProximityCSV, proximityHeader, [][]string{row})
}

func (w *Writer) open(name string) (*os.File, error) {
	return os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (w *Writer) appendText(name, text string) error {
	f, err := w.open(name)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// appendCSV writes header first when the file is empty.
func (w *Writer) appendCSV(name string, header []string, rows [][]string) error {
	f, err := w.open(name)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		_ = cw.Write(header)
	}
	_ = cw.WriteAll(rows)
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
