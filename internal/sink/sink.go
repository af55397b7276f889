// Package sink consumes captured frames: writing them to disk as PPM files,
// decoding packet framing carried inside them, or discarding them.
package sink

import "errors"

// Pixel layouts a sink understands, as V4L2 fourcc codes.
const (
	PixelFormatRGB24 uint32 = 0x33424752 // 'RGB3'
	PixelFormatBGR24 uint32 = 0x33524742 // 'BGR3'
)

var (
	// ErrShortFrame is returned when a frame holds fewer bytes than its
	// geometry requires.
	ErrShortFrame = errors.New("frame shorter than its geometry")
	// ErrUnsupportedFormat is returned for pixel layouts a sink cannot write.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// Frame is one captured image. Data aliases driver memory and is only valid
// for the duration of Consume.
type Frame struct {
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Stride      uint32 // bytes per row including padding; 0 means packed
	Sequence    uint32
	Data        []byte
}

// rowBytes returns the packed and padded row sizes for a 3-byte layout.
func (f Frame) rowBytes() (packed, stride int) {
	packed = int(f.Width) * 3
	stride = int(f.Stride)
	if stride < packed {
		stride = packed
	}
	return packed, stride
}

// Sink receives frames synchronously from the capture loop.
type Sink interface {
	Consume(f Frame) error
}

// Func adapts a function to a Sink.
type Func func(Frame) error

// Consume calls fn(f).
func (fn Func) Consume(f Frame) error {
	return fn(f)
}

// Discard drops every frame.
var Discard Sink = Func(func(Frame) error { return nil })
