package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfids/internal/alerts"
	"rfids/internal/config"
	"rfids/internal/detect"
	"rfids/internal/metrics"
	"rfids/internal/model"
	"rfids/internal/scan"
)

type fakeScanner struct {
	detector *scan.Detector
	resets   int
	err      error
}

func (f *fakeScanner) Status() scan.Status {
	return scan.Status{State: scan.StateScanning, Frequencies: []float64{100, 433}, Cycles: 7}
}

func (f *fakeScanner) Detector() *scan.Detector { return f.detector }

func (f *fakeScanner) RequestBaselineReset(context.Context) error {
	f.resets++
	return f.err
}

func newTestServer(t *testing.T) (*httptest.Server, Deps, *fakeScanner) {
	t.Helper()
	detector := scan.NewDetector(nil, nil, model.Calibration{BluetoothReference: -38, Calibrated: true})
	detector.Baselines.Put(433, &model.Baseline{Frequencies: []float64{433, 433.1}, Mean: []float64{-60, -61}, Std: []float64{1, 1}})
	scanner := &fakeScanner{detector: detector}
	deps := Deps{
		Scanner:  scanner,
		Alerts:   alerts.NewStore(10),
		Sweeps:   metrics.NewStore(10),
		Tracker:  detect.NewTracker(10),
		Registry: metrics.NewCollectors().Registry,
	}
	srv := httptest.NewServer(NewServer(config.NewManagerWith("", config.DefaultConfig()), deps, nil, "test").Routes())
	t.Cleanup(srv.Close)
	return srv, deps, scanner
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", nil))

	var status statusResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/status", &status))
	assert.Equal(t, "test", status.Version)
	require.NotNil(t, status.Scan)
	assert.Equal(t, scan.StateScanning, status.Scan.State)
	assert.Equal(t, 7, status.Scan.Cycles)
	assert.Equal(t, "5m0s", status.Cooldowns.Anomaly)
	assert.Equal(t, "1m0s", status.Cooldowns.Proximity)
	assert.True(t, status.Proximity.Calibrated)
}

func TestAlertsEndpoint(t *testing.T) {
	srv, deps, _ := newTestServer(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		deps.Alerts.Add(model.Alert{ID: string(rune('a' + i)), Sequence: i, Timestamp: t0.Add(time.Duration(i) * time.Minute), Kind: model.KindAnomaly})
	}

	var body struct {
		Alerts []model.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/alerts?limit=2", &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, 2, body.Alerts[0].Sequence)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/alerts?since="+t0.Add(3*time.Minute).Format(time.RFC3339), &body))
	assert.Equal(t, 1, body.Count)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/alerts?limit=x", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/alerts?source=history", nil))
}

func TestSweepsAndBaseline(t *testing.T) {
	srv, deps, _ := newTestServer(t)
	deps.Sweeps.Update(model.SweepSummary{CenterFreq: 433, PeakPower: -41})

	var sweep model.SweepSummary
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/sweeps/433", &sweep))
	assert.Equal(t, -41.0, sweep.PeakPower)
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/sweeps/915", nil))

	var base struct {
		Count       int             `json:"count"`
		Frequencies []baselineEntry `json:"frequencies"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/baseline", &base))
	require.Equal(t, 1, base.Count)
	assert.Equal(t, 433.0, base.Frequencies[0].CenterFreq)
	assert.Equal(t, 2, base.Frequencies[0].Bins)

	var cal model.Calibration
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/calibration", &cal))
	assert.Equal(t, -38.0, cal.BluetoothReference)
}

func TestAdminEndpoints(t *testing.T) {
	srv, deps, scanner := newTestServer(t)
	deps.Alerts.Add(model.Alert{ID: "x"})
	deps.Tracker.Observe("k", "alert", time.Now())

	resp, err := http.Post(srv.URL+"/admin/clear", "application/json", strings.NewReader(`{"target":"alerts"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, deps.Alerts.Len())
	assert.Equal(t, 1, deps.Tracker.Len())

	resp, err = http.Post(srv.URL+"/admin/clear", "application/json", strings.NewReader(`{"target":"bogus"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/admin/reset-baseline", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, scanner.resets)

	scanner.err = errors.New("capture failed")
	resp, err = http.Post(srv.URL+"/admin/reset-baseline", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/admin/clear")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAlertStream(t *testing.T) {
	srv, deps, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Subscription happens after the upgrade; retry until it is in place.
	got := make(chan model.Alert, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var a model.Alert
		if json.Unmarshal(data, &a) == nil {
			got <- a
		}
	}()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case a := <-got:
			assert.Equal(t, "ws-1", a.ID)
			return
		case <-tick.C:
			deps.Alerts.Add(model.Alert{ID: "ws-1", Kind: model.KindProximity})
		case <-deadline:
			t.Fatal("no alert received over websocket")
		}
	}
}
