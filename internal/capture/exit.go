//go:build linux

package capture

import (
	"context"
	"errors"

	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// ExitCode maps the result of Run to a process exit code: success is 0, a
// cancelled run 130 and any other failure 1.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// ErrorAttrs returns log attributes describing err, including the failed
// operation and OS error number when the failure came from the device.
func ErrorAttrs(err error) []any {
	attrs := []any{"error", err}
	var opErr *v4l2.OpError
	if errors.As(err, &opErr) {
		attrs = append(attrs, "op", opErr.Op, "path", opErr.Path)
		if errno := opErr.Errno(); errno != 0 {
			attrs = append(attrs, "errno", int(errno), "errno_text", errno.Error())
		}
	}
	var fmtErr *v4l2.FormatError
	if errors.As(err, &fmtErr) {
		attrs = append(attrs, "requested", fmtErr.Requested.String(), "actual", fmtErr.Actual.String())
	}
	return attrs
}
