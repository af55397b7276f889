//go:build linux

package v4l2

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultTimeout bounds a single readiness wait.
const DefaultTimeout = 2 * time.Second

// State is the position of a Stream in the capture cycle.
type State int

// Stream states, in lifecycle order.
const (
	StateIdle State = iota
	StateQueued
	StateStreaming
	StateReady
	StateDrained
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateStreaming:
		return "streaming"
	case StateReady:
		return "ready"
	case StateDrained:
		return "drained"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Frame is a filled buffer handed to user code between Dequeue and Requeue.
type Frame struct {
	Format    FormatSpec
	Index     uint32
	BytesUsed uint32
	Sequence  uint32
	Timestamp time.Duration

	buffer *MappedBuffer
}

// Data returns the valid bytes of the frame. It fails once the buffer has
// been requeued.
func (f Frame) Data() ([]byte, error) {
	if f.buffer == nil {
		return nil, ErrUnmapped
	}
	return f.buffer.Bytes(f.BytesUsed)
}

// Stream drives the buffers of a pool through the driver queue.
type Stream struct {
	dev     *Device
	pool    *BufferPool
	format  FormatSpec
	timeout time.Duration
	state   State
}

// NewStream creates an idle stream. A zero timeout selects DefaultTimeout.
func NewStream(dev *Device, pool *BufferPool, format FormatSpec, timeout time.Duration) *Stream {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Stream{dev: dev, pool: pool, format: format, timeout: timeout}
}

// State returns the current state.
func (s *Stream) State() State {
	return s.state
}

// Streaming reports whether the stream is between STREAMON and STREAMOFF.
func (s *Stream) Streaming() bool {
	switch s.state {
	case StateStreaming, StateReady, StateDrained:
		return true
	default:
		return false
	}
}

// QueueAll hands every buffer to the driver.
func (s *Stream) QueueAll() error {
	if s.state != StateIdle && s.state != StateStopped {
		return fmt.Errorf("queue all in state %s: %w", s.state, ErrState)
	}
	for _, b := range s.pool.Buffers() {
		if err := s.queue(b); err != nil {
			return err
		}
	}
	s.state = StateQueued
	return nil
}

func (s *Stream) queue(b *MappedBuffer) error {
	if !b.mapped {
		return fmt.Errorf("queue buffer %d: %w", b.index, ErrUnmapped)
	}
	if b.owner != OwnerUser {
		return fmt.Errorf("queue buffer %d: %w", b.index, ErrNotUserOwned)
	}

	buf := v4l2Buffer{
		index:  b.index,
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := s.dev.Ioctl(reqQBuf, unsafe.Pointer(&buf)); err != nil {
		return err
	}
	b.owner = OwnerDevice
	return nil
}

// On starts streaming.
func (s *Stream) On() error {
	if s.state != StateQueued {
		return fmt.Errorf("stream on in state %s: %w", s.state, ErrState)
	}
	typ := int32(bufTypeVideoCapture)
	if err := s.dev.Ioctl(reqStreamOn, unsafe.Pointer(&typ)); err != nil {
		return err
	}
	s.state = StateStreaming
	return nil
}

// Wait blocks until a filled buffer is available. An interrupted wait is
// restarted with the full timeout. ErrTimeout is returned when nothing
// arrives in time; the stream stays usable.
func (s *Stream) Wait(ctx context.Context) error {
	switch s.state {
	case StateReady:
		return nil
	case StateStreaming:
	default:
		if !s.Streaming() {
			return ErrNotStreaming
		}
		return fmt.Errorf("wait in state %s: %w", s.state, ErrState)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var ready bool
	err := Retry(func() error {
		var err error
		ready, err = s.dev.kernel.Poll(s.dev.fd, s.timeout)
		return err
	}, unix.EINTR)
	if err != nil {
		return &OpError{Op: "poll", Path: s.dev.path, Err: err}
	}
	if !ready {
		return ErrTimeout
	}

	s.state = StateReady
	return nil
}

// Dequeue takes a filled buffer from the driver. The returned frame is
// user-owned until Requeue.
func (s *Stream) Dequeue() (Frame, error) {
	if s.state != StateReady {
		if !s.Streaming() {
			return Frame{}, ErrNotStreaming
		}
		return Frame{}, fmt.Errorf("dequeue in state %s: %w", s.state, ErrState)
	}

	buf := v4l2Buffer{
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := s.dev.Ioctl(reqDQBuf, unsafe.Pointer(&buf)); err != nil {
		return Frame{}, err
	}

	b := s.pool.Buffer(buf.index)
	if b == nil {
		return Frame{}, fmt.Errorf("v4l2: driver returned buffer %d, pool has %d", buf.index, s.pool.Len())
	}
	if b.owner != OwnerDevice {
		return Frame{}, fmt.Errorf("v4l2: driver returned buffer %d which it does not own", buf.index)
	}
	if int(buf.bytesused) > b.Len() {
		return Frame{}, fmt.Errorf("v4l2: buffer %d reports %d bytes used, mapped %d", buf.index, buf.bytesused, b.Len())
	}

	b.owner = OwnerUser
	s.state = StateDrained

	return Frame{
		Format:    s.format,
		Index:     buf.index,
		BytesUsed: buf.bytesused,
		Sequence:  buf.sequence,
		Timestamp: buf.timestamp(),
		buffer:    b,
	}, nil
}

// Requeue returns a dequeued frame's buffer to the driver. It must be
// called exactly once per dequeued frame.
func (s *Stream) Requeue(f Frame) error {
	if !s.Streaming() {
		return ErrNotStreaming
	}
	b := s.pool.Buffer(f.Index)
	if b == nil || b != f.buffer {
		return fmt.Errorf("requeue buffer %d: not from this stream", f.Index)
	}
	if err := s.queue(b); err != nil {
		return err
	}
	s.state = StateStreaming
	return nil
}

// Off stops streaming. The driver drops its queue, so every buffer returns
// to user ownership.
func (s *Stream) Off() error {
	if s.state == StateIdle || s.state == StateStopped {
		return ErrNotStreaming
	}
	typ := int32(bufTypeVideoCapture)
	if err := s.dev.Ioctl(reqStreamOff, unsafe.Pointer(&typ)); err != nil {
		return err
	}
	for _, b := range s.pool.Buffers() {
		b.owner = OwnerUser
	}
	s.state = StateStopped
	return nil
}

// RunOptions tunes Run.
type RunOptions struct {
	// MaxTimeouts is the number of consecutive wait timeouts tolerated
	// before Run fails. Zero means unlimited.
	MaxTimeouts int
	// OnTimeout, if set, is called after every timeout with the current
	// consecutive count.
	OnTimeout func(consecutive int)
}

// Run waits, dequeues, calls handler and requeues until frames frames have
// been handled, or until ctx is done when frames is zero. The handler runs
// synchronously; the buffer is requeued only after it returns, and a
// handler error stops the loop.
func (s *Stream) Run(ctx context.Context, frames int, handler func(Frame) error, opts RunOptions) error {
	timeouts := 0
	for n := 0; frames <= 0 || n < frames; {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.Wait(ctx)
		if errors.Is(err, ErrTimeout) {
			timeouts++
			if opts.OnTimeout != nil {
				opts.OnTimeout(timeouts)
			}
			if opts.MaxTimeouts > 0 && timeouts >= opts.MaxTimeouts {
				return fmt.Errorf("%d consecutive waits: %w", timeouts, ErrTimeout)
			}
			continue
		}
		if err != nil {
			return err
		}
		timeouts = 0

		f, err := s.Dequeue()
		if err != nil {
			return err
		}

		handlerErr := handler(f)
		if err := s.Requeue(f); err != nil {
			return errors.Join(handlerErr, err)
		}
		if handlerErr != nil {
			return handlerErr
		}
		n++
	}
	return nil
}
