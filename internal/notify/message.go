package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rfids/internal/detect"
	"rfids/internal/model"
)

const timeFormat = "2006-01-02 15:04:05"

// AnomalyAlert composes the alert for anomalies found at one center frequency.
func AnomalyAlert(ts time.Time, seq int, centerMHz float64, anomalies []model.Anomaly) model.Alert {
	var b strings.Builder
	b.WriteString("RF Intrusion Detection System Alert\n\n")
	fmt.Fprintf(&b, "Time: %s\n", ts.Format(timeFormat))
	fmt.Fprintf(&b, "Frequency Band: %g MHz\n", centerMHz)
	fmt.Fprintf(&b, "Detected %d anomalies:\n\n", len(anomalies))
	for i, a := range anomalies {
		fmt.Fprintf(&b, "%d. Frequency: %.3f MHz, Difference: %.2f dB, Signal Increase: +%.1f%%",
			i+1, a.Frequency, a.Difference, a.SignalIncreasePct)
		if a.DistanceFeet != nil {
			fmt.Fprintf(&b, ", Est. Distance: ~%g feet", *a.DistanceFeet)
		}
		b.WriteString("\n")
	}

	var increase float64
	dist := "unknown"
	if top, ok := detect.Strongest(anomalies); ok {
		increase = top.SignalIncreasePct
		if top.DistanceFeet != nil {
			dist = fmt.Sprintf("%g", *top.DistanceFeet)
		}
	}

	return model.Alert{
		ID:         uuid.NewString(),
		Sequence:   seq,
		Timestamp:  ts,
		Kind:       model.KindAnomaly,
		CenterFreq: centerMHz,
		Subject:    fmt.Sprintf("RF-IDS Alert: %d anomalies at %g MHz", len(anomalies), centerMHz),
		Body:       b.String(),
		Short: fmt.Sprintf("RF-IDS Alert #%d: %d anomalies at %g MHz band. Signal: +%.1f%%, Dist: %s ft",
			seq, len(anomalies), centerMHz, increase, dist),
		Anomalies: anomalies,
	}
}

// ProximityAlert composes the alert for a proximity breach.
func ProximityAlert(ts time.Time, seq int, breach model.Breach) model.Alert {
	device := breach.DeviceClass.Label()
	var b strings.Builder
	b.WriteString("RF Intrusion Detection System - PROXIMITY ALERT\n\n")
	fmt.Fprintf(&b, "Time: %s\n", ts.Format(timeFormat))
	fmt.Fprintf(&b, "A %s is within %g feet of the sensor!\n\n", device, breach.DistanceFeet)
	fmt.Fprintf(&b, "Detection frequency: %g MHz\n", breach.CenterFreq)
	fmt.Fprintf(&b, "Signal strength: %.2f dB\n", breach.ObservedPower)
	fmt.Fprintf(&b, "Threshold: %.2f dB\n", breach.ReferencePower)
	fmt.Fprintf(&b, "Signal increase: +%.1f%%\n\n", breach.SignalIncreasePct)
	b.WriteString("This could indicate unauthorized device presence in your secure area.\n")

	return model.Alert{
		ID:         uuid.NewString(),
		Sequence:   seq,
		Timestamp:  ts,
		Kind:       model.KindProximity,
		CenterFreq: breach.CenterFreq,
		Subject:    fmt.Sprintf("RF-IDS PROXIMITY ALERT: %s detected", device),
		Body:       b.String(),
		Short: fmt.Sprintf("RF-IDS PROXIMITY ALERT: %s detected within %g feet! Signal: +%.1f%%",
			device, breach.DistanceFeet, breach.SignalIncreasePct),
		Breach: &breach,
	}
}
