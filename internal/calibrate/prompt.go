package calibrate

import (
	"context"
	"fmt"
	"io"
)

type Step string

const (
	StepBluetooth Step = "bluetooth"
	StepCellular  Step = "cellular"
)

func (s Step) Instructions() string {
	switch s {
	case StepBluetooth:
		return "Hold an active Bluetooth device at the alert distance from the antenna."
	case StepCellular:
		return "Hold a cell phone in an active call at the alert distance from the antenna."
	}
	return string(s)
}

// Prompter blocks until the operator has positioned the reference device.
type Prompter interface {
	Ready(ctx context.Context, step Step) error
}

type PrompterFunc func(ctx context.Context, step Step) error

func (f PrompterFunc) Ready(ctx context.Context, step Step) error {
	return f(ctx, step)
}

// AutoPrompter proceeds immediately, for unattended runs.
type AutoPrompter struct{}

func (AutoPrompter) Ready(ctx context.Context, _ Step) error {
	return ctx.Err()
}

type ConsolePrompter struct {
	In  io.Reader
	Out io.Writer
}

func (c ConsolePrompter) Ready(ctx context.Context, step Step) error {
	fmt.Fprintf(c.Out, "\n[%s calibration] %s\nPress Enter when ready...", step, step.Instructions())
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := c.In.Read(buf)
			if n > 0 && buf[0] == '\n' {
				done <- nil
				return
			}
			if err != nil {
				done <- err
				return
			}
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err == io.EOF {
			return fmt.Errorf("input closed before %s calibration", step)
		}
		return err
	}
}
