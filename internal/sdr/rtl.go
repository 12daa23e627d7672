package sdr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"rfids/internal/model"
)

type RTLConfig struct {
	Runtime     string
	DeviceIndex int
	SampleRate  float64
	// Gain in dB; zero selects automatic gain.
	Gain       float64
	PPM        int
	NumSamples int
	FFTSize    int
}

func (c RTLConfig) Validate() error {
	if c.SampleRate <= 0 {
		return NewConfigError("sample rate must be > 0, got %v", c.SampleRate)
	}
	if c.FFTSize <= 0 {
		return NewConfigError("fft size must be > 0, got %d", c.FFTSize)
	}
	if c.NumSamples < c.FFTSize {
		return NewConfigError("num samples %d must be >= fft size %d", c.NumSamples, c.FFTSize)
	}
	if c.DeviceIndex < 0 {
		return NewConfigError("device index must be >= 0")
	}
	return nil
}

// Args returns the rtl_sdr arguments for a single capture written to stdout.
func (c RTLConfig) Args(centerHz float64) []string {
	return []string{
		"-d", strconv.Itoa(c.DeviceIndex),
		"-f", strconv.FormatFloat(centerHz, 'f', 0, 64),
		"-s", strconv.FormatFloat(c.SampleRate, 'f', 0, 64),
		"-g", strconv.FormatFloat(c.Gain, 'f', -1, 64),
		"-p", strconv.Itoa(c.PPM),
		"-n", strconv.Itoa(c.NumSamples),
		"-",
	}
}

type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// RTL captures IQ samples by running rtl_sdr once per capture.
type RTL struct {
	binPath string
	cfg     RTLConfig
	logger  *slog.Logger
	command CommandFunc

	mu      sync.Mutex
	closed  bool
	running *exec.Cmd
}

type Option func(*RTL)

func WithLogger(logger *slog.Logger) Option {
	return func(r *RTL) {
		r.logger = logger
	}
}

func WithCommand(fn CommandFunc) Option {
	return func(r *RTL) {
		r.command = fn
	}
}

func WithBinary(path string) Option {
	return func(r *RTL) {
		r.binPath = path
	}
}

func NewRTL(cfg RTLConfig, opts ...Option) (*RTL, error) {
	if cfg.Runtime == "" {
		cfg.Runtime = "rtl_sdr"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &RTL{cfg: cfg, command: exec.CommandContext}
	for _, opt := range opts {
		opt(r)
	}
	if r.binPath == "" {
		bin, err := FindRuntime(cfg.Runtime)
		if err != nil {
			return nil, err
		}
		r.binPath = bin
	}
	return r, nil
}

func (r *RTL) Capture(ctx context.Context, centerMHz float64) (model.Spectrum, error) {
	centerHz := centerMHz * 1e6
	cmd := r.command(ctx, r.binPath, r.cfg.Args(centerHz)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return model.Spectrum{}, ErrClosed
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return model.Spectrum{}, NewRuntimeError("starting "+r.cfg.Runtime, err)
	}
	r.running = cmd
	r.mu.Unlock()

	err := cmd.Wait()

	r.mu.Lock()
	r.running = nil
	r.mu.Unlock()

	if err != nil {
		return model.Spectrum{}, NewRuntimeError(
			fmt.Sprintf("%s at %s", r.cfg.Runtime, formatHz(centerHz)),
			fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	if r.logger != nil {
		r.logger.Debug("capture complete",
			"center", formatHz(centerHz),
			"bytes", humanize.Bytes(uint64(stdout.Len())),
		)
	}
	return Welch(DecodeIQ(stdout.Bytes()), r.cfg.SampleRate, centerHz, r.cfg.FFTSize)
}

// Close stops any capture in flight and rejects further captures.
func (r *RTL) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.running != nil && r.running.Process != nil {
		_ = r.running.Process.Kill()
	}
	return nil
}

func formatHz(hz float64) string {
	v, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.3f %sHz", v, suffix)
}
