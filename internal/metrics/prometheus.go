package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rfids/internal/model"
)

// Collectors holds the scanner's Prometheus metrics on a private registry.
type Collectors struct {
	Registry *prometheus.Registry

	captures       *prometheus.CounterVec
	captureErrors  *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	breaches       *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	suppressed     *prometheus.CounterVec
	deliveryErrors prometheus.Counter
	peakPower      *prometheus.GaugeVec
	meanPower      *prometheus.GaugeVec
	baselineAge    prometheus.Gauge
	droppedFreqs   prometheus.Counter
}

func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Collectors{
		Registry: reg,
		captures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rfids_captures_total",
			Help: "Successful spectrum captures by center frequency",
		}, []string{"freq_mhz"}),
		captureErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rfids_capture_errors_total",
			Help: "Failed capture attempts by center frequency",
		}, []string{"freq_mhz"}),
		anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rfids_anomalies_total",
			Help: "Anomalous bins detected by center frequency",
		}, []string{"freq_mhz"}),
		breaches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rfids_proximity_breaches_total",
			Help: "Proximity breaches by device class and level",
		}, []string{"device_class", "level"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rfids_alerts_total",
			Help: "Alerts admitted by the governor",
		}, []string{"kind"}),
		suppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rfids_alerts_suppressed_total",
			Help: "Alerts suppressed by the cooldown",
		}, []string{"kind"}),
		deliveryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfids_alert_delivery_errors_total",
			Help: "Alert deliveries that failed on at least one transport",
		}),
		peakPower: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rfids_peak_power_db",
			Help: "Strongest bin of the last capture in dB",
		}, []string{"freq_mhz"}),
		meanPower: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rfids_mean_power_db",
			Help: "Mean power of the last capture in dB",
		}, []string{"freq_mhz"}),
		baselineAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rfids_baseline_created_timestamp_seconds",
			Help: "Creation time of the active baseline",
		}),
		droppedFreqs: factory.NewCounter(prometheus.CounterOpts{
			Name: "rfids_frequencies_dropped_total",
			Help: "Frequencies removed after exhausting capture retries",
		}),
	}
}

func freqLabel(mhz float64) string {
	return strconv.FormatFloat(mhz, 'f', -1, 64)
}

func (c *Collectors) ObserveSweep(s model.SweepSummary) {
	if c == nil {
		return
	}
	label := freqLabel(s.CenterFreq)
	c.captures.WithLabelValues(label).Inc()
	c.peakPower.WithLabelValues(label).Set(s.PeakPower)
	c.meanPower.WithLabelValues(label).Set(s.MeanPower)
	if s.Anomalies > 0 {
		c.anomalies.WithLabelValues(label).Add(float64(s.Anomalies))
	}
}

func (c *Collectors) CaptureFailed(centerMHz float64) {
	if c == nil {
		return
	}
	c.captureErrors.WithLabelValues(freqLabel(centerMHz)).Inc()
}

func (c *Collectors) Breach(b model.Breach) {
	if c == nil {
		return
	}
	c.breaches.WithLabelValues(string(b.DeviceClass), string(b.Level)).Inc()
}

func (c *Collectors) AlertDecision(kind model.AlertKind, admitted bool) {
	if c == nil {
		return
	}
	if admitted {
		c.alerts.WithLabelValues(string(kind)).Inc()
		return
	}
	c.suppressed.WithLabelValues(string(kind)).Inc()
}

func (c *Collectors) DeliveryFailed() {
	if c == nil {
		return
	}
	c.deliveryErrors.Inc()
}

func (c *Collectors) BaselineCreated(ts time.Time) {
	if c == nil {
		return
	}
	c.baselineAge.Set(float64(ts.Unix()))
}

func (c *Collectors) FrequencyDropped() {
	if c == nil {
		return
	}
	c.droppedFreqs.Inc()
}
