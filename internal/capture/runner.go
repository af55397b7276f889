//go:build linux

// Package capture runs a complete capture: it opens a session on the
// device, feeds every frame to a sink and reports progress to the event
// bus and the service manager.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/smazurov/framegrab/internal/events"
	"github.com/smazurov/framegrab/internal/logging"
	"github.com/smazurov/framegrab/internal/sink"
	"github.com/smazurov/framegrab/pkg/linuxav/hotplug"
	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
)

// SimulatedFrameInterval paces the simulated camera at roughly 30 fps.
const SimulatedFrameInterval = 33 * time.Millisecond

// statusEvery is how many frames pass between service status updates.
const statusEvery = 30

// Options configure a capture run.
type Options struct {
	Device      string
	Width       uint32
	Height      uint32
	PixelFormat v4l2.PixelFormat
	Buffers     uint32
	// Frames is the number of frames to capture. Zero runs until the
	// context is cancelled.
	Frames int
	// Timeout bounds each readiness wait.
	Timeout time.Duration
	// MaxTimeouts fails the run after that many consecutive timeouts.
	// Zero retries forever.
	MaxTimeouts int
	// StrictSink makes any sink error fatal. By default failed frames are
	// logged, counted and skipped.
	StrictSink bool
	// WaitDevice waits for the device node to appear instead of failing.
	WaitDevice bool
	// Simulate captures from an in-process simulated driver.
	Simulate bool
}

// Notifier reports service state. *systemd.Notifier implements it.
type Notifier interface {
	Ready(status string) bool
	Status(status string) bool
	Stopping() bool
}

type nopNotifier struct{}

func (nopNotifier) Ready(string) bool  { return false }
func (nopNotifier) Status(string) bool { return false }
func (nopNotifier) Stopping() bool     { return false }

// Stats counts the outcome of a run.
type Stats struct {
	Captured int
	Dropped  int
	Timeouts int
}

// Runner performs one capture run.
type Runner struct {
	opts     Options
	sink     sink.Sink
	bus      *events.Bus
	notifier Notifier
	kernel   v4l2.Kernel
	source   hotplug.Source
	logger   *slog.Logger
	stats    Stats
}

// Option customises a Runner.
type Option func(*Runner)

// WithBus publishes capture events to bus.
func WithBus(bus *events.Bus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithNotifier reports readiness and progress through n.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithKernel replaces the system calls used to drive the device.
func WithKernel(k v4l2.Kernel) Option {
	return func(r *Runner) { r.kernel = k }
}

// WithDeviceSource replaces the netlink monitor used by WaitDevice.
func WithDeviceSource(src hotplug.Source) Option {
	return func(r *Runner) { r.source = src }
}

// NewRunner creates a runner delivering frames to s.
func NewRunner(opts Options, s sink.Sink, options ...Option) *Runner {
	r := &Runner{
		opts:     opts,
		sink:     s,
		notifier: nopNotifier{},
		logger:   logging.GetLogger("capture"),
	}
	for _, opt := range options {
		opt(r)
	}
	if r.sink == nil {
		r.sink = sink.Discard
	}
	if r.kernel == nil && opts.Simulate {
		r.kernel = v4l2.NewSimulator(v4l2.SimulatorConfig{FrameInterval: SimulatedFrameInterval})
	}
	return r
}

// Stats returns the counters of the last run.
func (r *Runner) Stats() Stats {
	return r.stats
}

func now() string {
	return time.Now().Format(time.RFC3339Nano)
}

// Run captures until the frame count is reached, ctx is cancelled or a
// fatal error occurs. The session is always torn down before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.stats = Stats{}

	path, err := r.resolve(ctx)
	if err != nil {
		return err
	}
	logger := r.logger.With("device", path)

	r.publishState(path, events.StateStarting, "", 0, nil)
	session, err := v4l2.OpenSession(path, v4l2.Config{
		Format: v4l2.FormatSpec{
			Width:       r.opts.Width,
			Height:      r.opts.Height,
			PixelFormat: r.opts.PixelFormat,
		},
		Buffers: r.opts.Buffers,
		Timeout: r.opts.Timeout,
		Kernel:  r.kernel,
		Logger:  logging.GetLogger("v4l2").With("device", path),
	})
	if err != nil {
		r.publishState(path, events.StateFailed, "", 0, err)
		return err
	}

	format := session.Format()
	capability := session.Capability()
	logger.Info("Capture session opened",
		"driver", capability.Driver,
		"card", capability.Card,
		"format", format.String(),
		"buffers", session.Buffers(),
		"frames", r.opts.Frames)

	r.notifier.Ready(fmt.Sprintf("capturing %s from %s", format, path))
	r.publishState(path, events.StateStreaming, format.String(), session.Buffers(), nil)

	runErr := session.Capture(ctx, r.opts.Frames, func(f v4l2.Frame) error {
		return r.deliver(path, f, logger)
	}, v4l2.RunOptions{
		MaxTimeouts: r.opts.MaxTimeouts,
		OnTimeout: func(consecutive int) {
			r.stats.Timeouts++
			logger.Warn("No frame before timeout", "consecutive", consecutive)
			r.bus.Publish(events.CaptureTimeoutEvent{DevicePath: path, Consecutive: consecutive, Timestamp: now()})
		},
	})

	r.notifier.Stopping()
	closeErr := session.Close()
	err = errors.Join(runErr, closeErr)

	if err != nil && !errors.Is(err, context.Canceled) {
		r.publishState(path, events.StateFailed, format.String(), 0, err)
	} else {
		r.publishState(path, events.StateStopped, format.String(), 0, nil)
	}
	logger.Info("Capture finished",
		"captured", r.stats.Captured,
		"dropped", r.stats.Dropped,
		"timeouts", r.stats.Timeouts)
	return err
}

// deliver hands one frame to the sink and applies the sink failure policy.
func (r *Runner) deliver(path string, f v4l2.Frame, logger *slog.Logger) error {
	data, err := f.Data()
	if err != nil {
		return err
	}

	err = r.sink.Consume(sink.Frame{
		Width:       f.Format.Width,
		Height:      f.Format.Height,
		PixelFormat: uint32(f.Format.PixelFormat),
		Stride:      f.Format.BytesPerLine,
		Sequence:    f.Sequence,
		Data:        data,
	})
	if err != nil {
		r.stats.Dropped++
		r.bus.Publish(events.FrameDroppedEvent{DevicePath: path, Sequence: f.Sequence, Error: err.Error(), Timestamp: now()})
		if r.opts.StrictSink {
			return fmt.Errorf("sink rejected frame %d: %w", f.Sequence, err)
		}
		logger.Warn("Sink failed, frame skipped", "sequence", f.Sequence, "error", err)
		return nil
	}

	r.stats.Captured++
	r.bus.Publish(events.FrameCapturedEvent{DevicePath: path, Sequence: f.Sequence, Bytes: f.BytesUsed, Timestamp: now()})
	if r.stats.Captured%statusEvery == 0 {
		r.notifier.Status(fmt.Sprintf("%d frames captured from %s", r.stats.Captured, path))
	}
	logger.Debug("Frame captured", "sequence", f.Sequence, "index", f.Index, "bytes", f.BytesUsed, "timestamp", f.Timestamp)
	return nil
}

// resolve maps a stable device ID to its node and, if asked, waits for the
// node to appear.
func (r *Runner) resolve(ctx context.Context) (string, error) {
	if r.opts.Simulate {
		return r.opts.Device, nil
	}

	// Stable IDs only resolve once the device is present, so only node
	// paths can be waited for.
	if r.opts.WaitDevice && filepath.IsAbs(r.opts.Device) {
		if err := r.waitForDevice(ctx); err != nil {
			return "", err
		}
	}
	return v4l2.ResolveDevice(r.opts.Device)
}

func (r *Runner) waitForDevice(ctx context.Context) error {
	src := r.source
	if src == nil {
		m, err := hotplug.NewMonitor()
		if err != nil {
			return fmt.Errorf("start hotplug monitor: %w", err)
		}
		defer m.Close()
		m.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)
		src = m
	}

	r.logger.Info("Waiting for device", "device", r.opts.Device)
	err := hotplug.WaitForDevice(ctx, r.opts.Device, src, func(e hotplug.Event) {
		r.logger.Debug("Video device added", "node", e.Node())
		r.bus.Publish(events.DeviceAddedEvent{DevicePath: e.Node(), Timestamp: now()})
	})
	if err != nil {
		return fmt.Errorf("wait for %s: %w", r.opts.Device, err)
	}
	return nil
}

func (r *Runner) publishState(path, state, format string, buffers int, err error) {
	ev := events.SessionStateEvent{
		DevicePath: path,
		State:      state,
		Format:     format,
		Buffers:    buffers,
		Timestamp:  now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.bus.Publish(ev)
}
