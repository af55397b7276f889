//go:build linux

package v4l2

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sentinel errors.
var (
	// ErrTimeout is returned by Stream.Wait when no buffer became ready
	// within the timeout. It is retryable.
	ErrTimeout = errors.New("v4l2: timed out waiting for a frame")
	// ErrClosed is returned when a closed Device is used or closed again.
	ErrClosed = errors.New("v4l2: device already closed")
	// ErrNotStreaming is returned for queue operations outside streaming.
	ErrNotStreaming = errors.New("v4l2: stream is not on")
	// ErrDeviceOwned is returned when user code touches a queued buffer.
	ErrDeviceOwned = errors.New("v4l2: buffer is owned by the device")
	// ErrNotUserOwned is returned when a buffer that is not held by user
	// code is queued again.
	ErrNotUserOwned = errors.New("v4l2: buffer is not owned by user space")
	// ErrUnmapped is returned when a buffer is used after unmap.
	ErrUnmapped = errors.New("v4l2: buffer is not mapped")
	// ErrNoBuffers is returned when the driver grants zero buffers.
	ErrNoBuffers = errors.New("v4l2: driver allocated no buffers")
	// ErrNotCapture is returned for devices without streaming capture.
	ErrNotCapture = errors.New("v4l2: device does not support streaming video capture")
	// ErrState is returned when a stream operation is issued in the wrong state.
	ErrState = errors.New("v4l2: invalid stream state")
)

// OpError records a failed system operation together with the OS error.
type OpError struct {
	Op   string // "open", "mmap", "poll" or a request name such as "VIDIOC_S_FMT"
	Path string
	Err  error
}

func (e *OpError) Error() string {
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return fmt.Sprintf("%s %s: errno %d: %s", e.Op, e.Path, int(errno), errno.Error())
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Errno returns the underlying OS error number, or 0.
func (e *OpError) Errno() unix.Errno {
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return errno
	}
	return 0
}

// FormatError is returned when the driver substitutes a different pixel
// layout than the one requested.
type FormatError struct {
	Requested PixelFormat
	Actual    PixelFormat
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("v4l2: driver did not accept %s format, offered %s", e.Requested, e.Actual)
}
