//go:build linux

package v4l2

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kernel is the set of system operations a Device is built on. System
// returns the real implementation; Simulator is an in-process driver.
//
// Implementations return raw errno values (unix.Errno) so that callers can
// classify them; they do not retry.
type Kernel interface {
	Open(path string, flags int) (int, error)
	Close(fd int) error
	Ioctl(fd int, code uintptr, arg unsafe.Pointer) error
	Mmap(fd int, offset int64, length int) ([]byte, error)
	Munmap(b []byte) error
	// Poll waits up to timeout for fd to become readable. It reports
	// false with a nil error on timeout.
	Poll(fd int, timeout time.Duration) (bool, error)
}

type system struct{}

// System returns the Kernel backed by Linux system calls.
func System() Kernel {
	return system{}
}

func (system) Open(path string, flags int) (int, error) {
	return unix.Open(path, flags, 0)
}

func (system) Close(fd int) error {
	return unix.Close(fd)
}

func (system) Ioctl(fd int, code uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), code, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (system) Mmap(fd int, offset int64, length int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (system) Munmap(b []byte) error {
	return unix.Munmap(b)
}

func (system) Poll(fd int, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, unix.EIO
	}
	return true, nil
}
