//go:build linux

package v4l2

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Transient is the errno set Device.Ioctl retries: an interrupted call and
// a non-blocking "try again".
var Transient = []unix.Errno{unix.EINTR, unix.EAGAIN}

// Retry calls op until it returns nil or an error that is not one of the
// tolerated errno values.
func Retry(op func() error, tolerated ...unix.Errno) error {
	for {
		err := op()
		if err == nil || !isAny(err, tolerated) {
			return err
		}
	}
}

func isAny(err error, set []unix.Errno) bool {
	for _, errno := range set {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
