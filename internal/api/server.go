package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rfids/internal/alerts"
	"rfids/internal/config"
	"rfids/internal/detect"
	"rfids/internal/metrics"
	"rfids/internal/model"
	"rfids/internal/scan"
	"rfids/internal/storage"
)

const (
	resetTimeout = 5 * time.Minute
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Scanner is the part of the scan orchestrator the API reads and controls.
type Scanner interface {
	Status() scan.Status
	Detector() *scan.Detector
	RequestBaselineReset(ctx context.Context) error
}

// Deps are the stores the API serves. Any of them may be nil.
type Deps struct {
	Scanner  Scanner
	Alerts   *alerts.Store
	Sweeps   *metrics.Store
	History  storage.Store
	Tracker  *detect.Tracker
	Registry *prometheus.Registry
}

type Server struct {
	cfg     *config.Manager
	deps    Deps
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string           `json:"status"`
	Time       string           `json:"time"`
	Version    string           `json:"version"`
	ConfigPath string           `json:"config_path"`
	Scan       *scan.Status     `json:"scan,omitempty"`
	Governor   model.AlertState `json:"governor"`
	Cooldowns  cooldowns        `json:"cooldowns"`
	Proximity  proximityStatus  `json:"proximity"`
	Sinks      sinkStatus       `json:"sinks"`
}

type cooldowns struct {
	Anomaly   string `json:"anomaly"`
	Proximity string `json:"proximity"`
}

type proximityStatus struct {
	Enabled        bool `json:"enabled"`
	Calibrated     bool `json:"calibrated"`
	EarlyDetection bool `json:"early_detection"`
}

type sinkStatus struct {
	Email   bool `json:"email"`
	SMS     bool `json:"sms"`
	MQTT    bool `json:"mqtt"`
	Kafka   bool `json:"kafka"`
	Storage bool `json:"storage"`
	Archive bool `json:"archive"`
}

func Start(ctx context.Context, cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{cfg: cfg, deps: deps, logger: logger, version: version}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func NewServer(cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, deps: deps, logger: logger, version: version}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/sweeps", s.handleSweeps)
	r.Get("/sweeps/{freq}", s.handleSweep)
	r.Get("/baseline", s.handleBaseline)
	r.Get("/calibration", s.handleCalibration)
	r.Get("/ws/alerts", s.handleAlertStream)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/reset-baseline", s.handleResetBaseline)
		r.Post("/clear", s.handleClear)
	})
	if s.deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Proximity: proximityStatus{
			Enabled:        cfg.Proximity.Enabled,
			Calibrated:     !cfg.Proximity.CalibrationNeeded,
			EarlyDetection: cfg.Proximity.EarlyDetection,
		},
		Sinks: sinkStatus{
			Email:   cfg.EmailAlerts,
			SMS:     cfg.SMSAlerts,
			MQTT:    cfg.MQTT.Enabled,
			Kafka:   cfg.Kafka.Enabled,
			Storage: cfg.Storage.Enabled,
			Archive: cfg.Archive.Enabled,
		},
	}
	if s.deps.Scanner != nil {
		st := s.deps.Scanner.Status()
		resp.Scan = &st
		if d := s.deps.Scanner.Detector(); d != nil {
			resp.Governor = d.Governor.State()
			resp.Cooldowns = cooldowns{
				Anomaly:   d.Governor.Cooldown(model.KindAnomaly).String(),
				Proximity: d.Governor.Cooldown(model.KindProximity).String(),
			}
			resp.Proximity.Calibrated = d.Calibration().Calibrated
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAlerts serves the in-memory ring by default. source=history reads
// the persistent alert sink instead.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	var list []model.Alert
	switch {
	case r.URL.Query().Get("source") == "history":
		if s.deps.History == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "storage disabled"})
			return
		}
		var err error
		list, err = s.deps.History.ListAlerts(r.Context(), limit)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("listing alert history failed", "err", err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	case r.URL.Query().Get("since") != "":
		ts, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.deps.Alerts != nil {
			list = s.deps.Alerts.Since(ts)
		}
	default:
		if s.deps.Alerts != nil {
			list = s.deps.Alerts.List(limit)
		}
	}
	if list == nil {
		list = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleSweeps(w http.ResponseWriter, _ *http.Request) {
	all := []model.SweepSummary{}
	if s.deps.Sweeps != nil {
		all = s.deps.Sweeps.GetAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sweeps": all,
		"count":  len(all),
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	freq, err := strconv.ParseFloat(chi.URLParam(r, "freq"), 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.deps.Sweeps == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sweep, ok := s.deps.Sweeps.Get(freq)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sweep)
}

type baselineEntry struct {
	CenterFreq float64   `json:"center_freq_mhz"`
	Bins       int       `json:"bins"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleBaseline(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scanner == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	baselines := s.deps.Scanner.Detector().Baselines
	set := baselines.Current()
	entries := make([]baselineEntry, 0)
	var created time.Time
	if set != nil {
		created = set.CreatedAt
		for _, f := range baselines.Frequencies() {
			b := set.Entries[f]
			entries = append(entries, baselineEntry{CenterFreq: f, Bins: b.Len(), CreatedAt: b.CreatedAt})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"created_at":  created,
		"frequencies": entries,
		"count":       len(entries),
	})
}

func (s *Server) handleCalibration(w http.ResponseWriter, _ *http.Request) {
	cal := s.cfg.Get().ProximityCalibration()
	if s.deps.Scanner != nil {
		cal = s.deps.Scanner.Detector().Calibration()
	}
	writeJSON(w, http.StatusOK, cal)
}

func (s *Server) handleResetBaseline(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scanner == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), resetTimeout)
	defer cancel()
	if err := s.deps.Scanner.RequestBaselineReset(ctx); err != nil {
		if s.logger != nil {
			s.logger.Warn("baseline reset failed", "err", err)
		}
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.clearAlerts()
		s.clearSweeps()
		s.clearTracker()
	case "alerts":
		s.clearAlerts()
	case "sweeps":
		s.clearSweeps()
	case "tracker":
		s.clearTracker()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) clearAlerts() {
	if s.deps.Alerts != nil {
		s.deps.Alerts.Clear()
	}
}

func (s *Server) clearSweeps() {
	if s.deps.Sweeps != nil {
		s.deps.Sweeps.Clear()
	}
}

func (s *Server) clearTracker() {
	if s.deps.Tracker != nil {
		s.deps.Tracker.Clear()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleAlertStream pushes every alert added to the store as a JSON text
// frame until the client goes away.
func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", "err", err)
		}
		return
	}
	defer conn.Close()

	ch, cancel := s.deps.Alerts.Subscribe(32)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && s.logger != nil {
					s.logger.Debug("websocket read error", "err", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case alert, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(alert)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
