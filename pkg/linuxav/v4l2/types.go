//go:build linux

package v4l2

import "fmt"

// PixelFormat is a V4L2 fourcc pixel layout.
type PixelFormat uint32

// Common pixel formats.
const (
	PixelFormatRGB24 PixelFormat = 0x33424752 // 'RGB3'
	PixelFormatBGR24 PixelFormat = 0x33524742 // 'BGR3'
	PixelFormatYUYV  PixelFormat = 0x56595559 // 'YUYV'
	PixelFormatMJPEG PixelFormat = 0x47504A4D // 'MJPG'
	PixelFormatH264  PixelFormat = 0x34363248 // 'H264'
	PixelFormatHEVC  PixelFormat = 0x43564548 // 'HEVC'
	PixelFormatNV12  PixelFormat = 0x3231564E // 'NV12'
)

// String returns the fourcc as four characters.
func (p PixelFormat) String() string {
	return FormatFourCC(uint32(p))
}

// BytesPerPixel returns the packed size of one pixel, or 0 for planar and
// compressed layouts.
func (p PixelFormat) BytesPerPixel() uint32 {
	switch p {
	case PixelFormatRGB24, PixelFormatBGR24:
		return 3
	case PixelFormatYUYV:
		return 2
	default:
		return 0
	}
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}

// FormatSpec describes a capture format. Width, Height and PixelFormat are
// proposed to the driver; BytesPerLine and SizeImage come back from it.
type FormatSpec struct {
	Width        uint32
	Height       uint32
	PixelFormat  PixelFormat
	BytesPerLine uint32
	SizeImage    uint32
}

func (f FormatSpec) String() string {
	return fmt.Sprintf("%dx%d %s", f.Width, f.Height, f.PixelFormat)
}

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// Capability is the decoded answer to VIDIOC_QUERYCAP.
type Capability struct {
	Driver  string
	Card    string
	BusInfo string
	Caps    uint32 // effective capabilities (device caps when reported)
}

// CanCapture reports whether the device supports streaming video capture.
func (c Capability) CanCapture() bool {
	return c.Caps&capVideoCapture != 0 && c.Caps&capStreaming != 0
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat PixelFormat
	FormatName  string
	Emulated    bool
	Compressed  bool
}

// Resolution represents a video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// StepwiseRange is a continuous or stepwise frame size range. Width and
// height vary independently.
type StepwiseRange struct {
	MinWidth, MaxWidth, StepWidth    uint32
	MinHeight, MaxHeight, StepHeight uint32
}

// Contains reports whether r lies inside the range and on its step grid.
func (s StepwiseRange) Contains(r Resolution) bool {
	if r.Width < s.MinWidth || r.Width > s.MaxWidth || r.Height < s.MinHeight || r.Height > s.MaxHeight {
		return false
	}
	if s.StepWidth > 1 && (r.Width-s.MinWidth)%s.StepWidth != 0 {
		return false
	}
	if s.StepHeight > 1 && (r.Height-s.MinHeight)%s.StepHeight != 0 {
		return false
	}
	return true
}

// Common returns the well-known resolutions that fall inside the range.
func (s StepwiseRange) Common() []Resolution {
	commonResolutions := []Resolution{
		{320, 240},   // QVGA
		{640, 480},   // VGA
		{800, 600},   // SVGA
		{1024, 768},  // XGA
		{1280, 720},  // HD
		{1280, 960},
		{1280, 1024}, // SXGA
		{1920, 1080}, // Full HD
		{1920, 1200}, // WUXGA
		{2560, 1440}, // QHD
		{3840, 2160}, // 4K UHD
		{4096, 2160}, // 4K DCI
	}

	var resolutions []Resolution
	for _, res := range commonResolutions {
		if s.Contains(res) {
			resolutions = append(resolutions, res)
		}
	}
	return resolutions
}

func (s StepwiseRange) String() string {
	return fmt.Sprintf("%d-%d/%d x %d-%d/%d",
		s.MinWidth, s.MaxWidth, s.StepWidth, s.MinHeight, s.MaxHeight, s.StepHeight)
}

// FrameSize is one entry of a frame size enumeration: either a discrete
// resolution or, as the single entry, a stepwise range.
type FrameSize struct {
	Discrete *Resolution
	Stepwise *StepwiseRange
}

func (f FrameSize) String() string {
	if f.Stepwise != nil {
		return f.Stepwise.String()
	}
	if f.Discrete != nil {
		return f.Discrete.String()
	}
	return "unknown"
}
