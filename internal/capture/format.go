//go:build linux

package capture

import (
	"fmt"
	"strings"

	"github.com/smazurov/framegrab/internal/sink"
	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
)

var pixelFormatNames = map[string]v4l2.PixelFormat{
	"RGB24": v4l2.PixelFormatRGB24,
	"BGR24": v4l2.PixelFormatBGR24,
	"YUYV":  v4l2.PixelFormatYUYV,
	"MJPEG": v4l2.PixelFormatMJPEG,
	"NV12":  v4l2.PixelFormatNV12,
}

// ParsePixelFormat accepts a common name ("rgb24", "yuyv") or a raw
// four-character code ("RGB3").
func ParsePixelFormat(s string) (v4l2.PixelFormat, error) {
	if pf, ok := pixelFormatNames[strings.ToUpper(s)]; ok {
		return pf, nil
	}
	if len(s) == 4 {
		return v4l2.PixelFormat(uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24), nil
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

// Sink kinds accepted by NewSink.
const (
	SinkPPM     = "ppm"
	SinkPacket  = "packet"
	SinkDiscard = "discard"
)

// NewSink builds the sink named by kind. Packet logging forwards to a PPM
// writer when dir is set and discards otherwise.
func NewSink(kind, dir, pattern string) (sink.Sink, error) {
	switch strings.ToLower(kind) {
	case SinkPPM, "":
		return sink.NewPPM(dir, pattern)
	case SinkPacket:
		if dir == "" {
			return sink.NewPacketLogger(nil), nil
		}
		ppm, err := sink.NewPPM(dir, pattern)
		if err != nil {
			return nil, err
		}
		return sink.NewPacketLogger(ppm), nil
	case SinkDiscard:
		return sink.Discard, nil
	default:
		return nil, fmt.Errorf("unknown sink %q (want %s, %s or %s)", kind, SinkPPM, SinkPacket, SinkDiscard)
	}
}
