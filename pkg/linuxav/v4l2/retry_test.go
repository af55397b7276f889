//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

// failN returns op failing with the given errors in order, then succeeding.
func failN(errs ...error) (func() error, *int) {
	calls := 0
	return func() error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		tolerated []unix.Errno
		wantErr   error
		wantCalls int
	}{
		{
			name:      "success first time",
			tolerated: Transient,
			wantCalls: 1,
		},
		{
			name:      "interrupted then success",
			errs:      []error{unix.EINTR, unix.EINTR},
			tolerated: Transient,
			wantCalls: 3,
		},
		{
			name:      "try again then success",
			errs:      []error{unix.EAGAIN, unix.EINTR, unix.EAGAIN},
			tolerated: Transient,
			wantCalls: 4,
		},
		{
			name:      "wrapped errno is tolerated",
			errs:      []error{fmt.Errorf("poll: %w", unix.EINTR)},
			tolerated: Transient,
			wantCalls: 2,
		},
		{
			name:      "fatal errno returned at once",
			errs:      []error{unix.EIO, unix.EINTR},
			tolerated: Transient,
			wantErr:   unix.EIO,
			wantCalls: 1,
		},
		{
			name:      "fatal after transient",
			errs:      []error{unix.EINTR, unix.EINVAL},
			tolerated: Transient,
			wantErr:   unix.EINVAL,
			wantCalls: 2,
		},
		{
			name:      "only EINTR tolerated",
			errs:      []error{unix.EINTR, unix.EAGAIN},
			tolerated: []unix.Errno{unix.EINTR},
			wantErr:   unix.EAGAIN,
			wantCalls: 2,
		},
		{
			name:      "nothing tolerated",
			errs:      []error{unix.EINTR},
			wantErr:   unix.EINTR,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, calls := failN(tt.errs...)
			err := Retry(op, tt.tolerated...)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("Retry() error = %v, want %v", err, tt.wantErr)
			}
			if *calls != tt.wantCalls {
				t.Errorf("op called %d times, want %d", *calls, tt.wantCalls)
			}
		})
	}
}
