//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format negotiation and mmap streaming capture.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Capture
//
// A Session walks the whole lifecycle: open, negotiate, request and map
// buffers, stream, and tear down in reverse order:
//
//	s, err := v4l2.OpenSession("/dev/video0", v4l2.Config{
//	    Format: v4l2.FormatSpec{Width: 640, Height: 480, PixelFormat: v4l2.PixelFormatRGB24},
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.Capture(ctx, 20, func(f v4l2.Frame) error {
//	    data, err := f.Data()
//	    ...
//	}, v4l2.RunOptions{})
//
// The lower-level pieces (Negotiate, NewBufferPool, Stream) can be used on
// their own. Every operation goes through a Kernel; Simulator is an
// in-process driver for running the capture path without hardware.
package v4l2
