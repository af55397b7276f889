//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"iter"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Negotiated is the outcome of a format negotiation.
type Negotiated struct {
	Requested FormatSpec
	Actual    FormatSpec
}

// Resized reports whether the driver substituted a different resolution.
// It is advisory: callers must size everything from Actual.
func (n Negotiated) Resized() bool {
	return n.Requested.Width != n.Actual.Width || n.Requested.Height != n.Actual.Height
}

// Negotiate proposes the requested format to the driver and returns what
// the driver actually set. A different pixel layout is a *FormatError.
func Negotiate(dev *Device, requested FormatSpec) (Negotiated, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	pix := f.pix()
	pix.width = requested.Width
	pix.height = requested.Height
	pix.pixelformat = uint32(requested.PixelFormat)
	pix.field = fieldInterlaced

	if err := dev.Ioctl(reqSetFmt, unsafe.Pointer(&f)); err != nil {
		return Negotiated{}, err
	}

	actual := FormatSpec{
		Width:        pix.width,
		Height:       pix.height,
		PixelFormat:  PixelFormat(pix.pixelformat),
		BytesPerLine: pix.bytesperline,
		SizeImage:    pix.sizeimage,
	}
	if actual.PixelFormat != requested.PixelFormat {
		return Negotiated{}, &FormatError{Requested: requested.PixelFormat, Actual: actual.PixelFormat}
	}

	// Some drivers leave the derived sizes at zero for packed formats.
	if actual.BytesPerLine == 0 {
		actual.BytesPerLine = actual.Width * actual.PixelFormat.BytesPerPixel()
	}
	if actual.SizeImage == 0 {
		actual.SizeImage = actual.BytesPerLine * actual.Height
	}

	return Negotiated{Requested: requested, Actual: actual}, nil
}

// EnumFrameSizes lazily enumerates the frame sizes the driver supports for
// a pixel format. Discrete sizes are yielded one by one until the driver
// reports the end of the list. A stepwise or continuous range is yielded as
// a single entry. Drivers without frame size enumeration yield nothing.
func EnumFrameSizes(dev *Device, pf PixelFormat) iter.Seq2[FrameSize, error] {
	return func(yield func(FrameSize, error) bool) {
		for i := uint32(0); ; i++ {
			frmsize := v4l2Frmsizeenum{
				index:       i,
				pixelFormat: uint32(pf),
			}

			if err := dev.Ioctl(reqEnumFrameSizes, unsafe.Pointer(&frmsize)); err != nil {
				// EINVAL ends the list; ENOTTY means no enumeration support
				if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY) {
					return
				}
				yield(FrameSize{}, fmt.Errorf("failed to enumerate frame size %d: %w", i, err))
				return
			}

			switch frmsize.typ {
			case frmsizeTypeDiscrete:
				res := Resolution{Width: frmsize.discrete.width, Height: frmsize.discrete.height}
				if !yield(FrameSize{Discrete: &res}, nil) {
					return
				}
			case frmsizeTypeContinuous, frmsizeTypeStepwise:
				sw := frmsize.stepwise()
				r := StepwiseRange{
					MinWidth:   sw.minWidth,
					MaxWidth:   sw.maxWidth,
					StepWidth:  sw.stepWidth,
					MinHeight:  sw.minHeight,
					MaxHeight:  sw.maxHeight,
					StepHeight: sw.stepHeight,
				}
				yield(FrameSize{Stepwise: &r}, nil)
				return // Only one stepwise entry
			default:
				yield(FrameSize{}, fmt.Errorf("unknown frame size type %d at index %d", frmsize.typ, i))
				return
			}
		}
	}
}

// Formats returns all supported capture pixel formats of a device.
func Formats(dev *Device) ([]FormatInfo, error) {
	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		fmtdesc := v4l2Fmtdesc{
			index: i,
			typ:   bufTypeVideoCapture,
		}

		if err := dev.Ioctl(reqEnumFmt, unsafe.Pointer(&fmtdesc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, err)
		}

		formats = append(formats, FormatInfo{
			PixelFormat: PixelFormat(fmtdesc.pixelformat),
			FormatName:  cstr(fmtdesc.description[:]),
			Emulated:    fmtdesc.flags&fmtFlagEmulated != 0,
			Compressed:  fmtdesc.flags&fmtFlagCompressed != 0,
		})
	}

	return formats, nil
}
