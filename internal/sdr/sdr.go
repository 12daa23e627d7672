package sdr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"rfids/internal/model"
)

var ErrClosed = errors.New("sampler closed")

// Sampler captures a power spectral density curve around a center frequency.
// Close releases the hardware and is safe to call more than once.
type Sampler interface {
	Capture(ctx context.Context, centerMHz float64) (model.Spectrum, error)
	Close() error
}

// ConfigError reports invalid sampler settings.
type ConfigError struct {
	msg string
}

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return e.msg
}

// RuntimeError reports a missing or failing capture program.
type RuntimeError struct {
	msg string
	err error
}

func NewRuntimeError(msg string, err error) *RuntimeError {
	return &RuntimeError{msg: msg, err: err}
}

func (e *RuntimeError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *RuntimeError) Unwrap() error {
	return e.err
}

func FindRuntime(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", NewRuntimeError(fmt.Sprintf("%s not found in PATH", name), err)
	}
	return path, nil
}
