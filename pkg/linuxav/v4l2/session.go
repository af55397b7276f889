//go:build linux

package v4l2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Session defaults.
const (
	DefaultBuffers = 2
	DefaultWidth   = 640
	DefaultHeight  = 480
)

// Config describes a capture session.
type Config struct {
	// Format is the requested format. Zero fields select 640x480 RGB24.
	Format FormatSpec
	// Buffers is the number of buffers to request.
	Buffers uint32
	// Timeout bounds each readiness wait.
	Timeout time.Duration
	// Kernel defaults to System().
	Kernel Kernel
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Format.Width == 0 {
		c.Format.Width = DefaultWidth
	}
	if c.Format.Height == 0 {
		c.Format.Height = DefaultHeight
	}
	if c.Format.PixelFormat == 0 {
		c.Format.PixelFormat = PixelFormatRGB24
	}
	if c.Buffers == 0 {
		c.Buffers = DefaultBuffers
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Kernel == nil {
		c.Kernel = System()
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "v4l2")
	}
}

// Session owns a device, its negotiated format, its mapped buffers and the
// stream over them. Close tears all of it down.
type Session struct {
	dev        *Device
	capability Capability
	negotiated Negotiated
	pool       *BufferPool
	stream     *Stream
	logger     *slog.Logger
	closed     bool
}

// OpenSession opens the device, checks it can stream video capture,
// negotiates the format and maps the buffers. On failure everything
// acquired so far is released.
func OpenSession(path string, cfg Config) (*Session, error) {
	cfg.setDefaults()
	logger := cfg.Logger.With("device", path)

	dev, err := OpenWith(path, cfg.Kernel)
	if err != nil {
		return nil, err
	}

	s, err := setup(dev, cfg, logger)
	if err != nil {
		if closeErr := dev.Close(); closeErr != nil {
			return nil, errors.Join(err, closeErr)
		}
		return nil, err
	}
	return s, nil
}

func setup(dev *Device, cfg Config, logger *slog.Logger) (*Session, error) {
	capability, err := dev.QueryCapability()
	if err != nil {
		return nil, err
	}
	if !capability.CanCapture() {
		return nil, fmt.Errorf("%s (%s): %w", dev.Path(), capability.Card, ErrNotCapture)
	}
	logger.Debug("Device capabilities",
		"driver", capability.Driver,
		"card", capability.Card,
		"bus", capability.BusInfo,
		"caps", fmt.Sprintf("0x%08x", capability.Caps))

	negotiated, err := Negotiate(dev, cfg.Format)
	if err != nil {
		return nil, err
	}
	if negotiated.Resized() {
		logger.Warn("Driver is sending a different resolution",
			"requested", negotiated.Requested.String(),
			"actual", negotiated.Actual.String())
	}

	pool, err := NewBufferPool(dev, cfg.Buffers)
	if err != nil {
		return nil, err
	}
	if uint32(pool.Len()) < cfg.Buffers {
		logger.Info("Driver allocated fewer buffers", "requested", cfg.Buffers, "actual", pool.Len())
	}
	logger.Debug("Buffers mapped", "count", pool.Len(), "format", negotiated.Actual.String(),
		"bytesperline", negotiated.Actual.BytesPerLine, "sizeimage", negotiated.Actual.SizeImage)

	return &Session{
		dev:        dev,
		capability: capability,
		negotiated: negotiated,
		pool:       pool,
		stream:     NewStream(dev, pool, negotiated.Actual, cfg.Timeout),
		logger:     logger,
	}, nil
}

// Device returns the underlying device.
func (s *Session) Device() *Device {
	return s.dev
}

// Capability returns what the driver reported at open.
func (s *Session) Capability() Capability {
	return s.capability
}

// Negotiated returns the requested and actual formats.
func (s *Session) Negotiated() Negotiated {
	return s.negotiated
}

// Format returns the format the driver actually set.
func (s *Session) Format() FormatSpec {
	return s.negotiated.Actual
}

// Buffers returns the number of mapped buffers.
func (s *Session) Buffers() int {
	return s.pool.Len()
}

// State returns the stream state.
func (s *Session) State() State {
	return s.stream.State()
}

// Capture queues every buffer, starts streaming and runs the capture loop.
// Streaming is left on; Close stops it.
func (s *Session) Capture(ctx context.Context, frames int, handler func(Frame) error, opts RunOptions) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.stream.QueueAll(); err != nil {
		return err
	}
	if err := s.stream.On(); err != nil {
		return err
	}
	s.logger.Debug("Streaming started", "buffers", s.pool.Len())
	return s.stream.Run(ctx, frames, handler, opts)
}

// Close stops streaming if needed, unmaps every buffer and closes the
// device, in that order. All three steps run even if one fails.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	var errs []error
	if st := s.stream.State(); st != StateIdle && st != StateStopped {
		if err := s.stream.Off(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.pool.Unmap(); err != nil {
		errs = append(errs, err)
	}
	if err := s.dev.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		s.logger.Debug("Session closed")
	}
	return errors.Join(errs...)
}
