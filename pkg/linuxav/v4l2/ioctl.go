//go:build linux

package v4l2

import (
	"fmt"
	"unsafe"
)

// Direction is the data-transfer direction encoded in a request code,
// seen from user space.
type Direction uint8

// Request directions (_IOC_NONE, _IOC_WRITE, _IOC_READ).
const (
	DirNone      Direction = 0
	DirWrite     Direction = 1
	DirRead      Direction = 2
	DirReadWrite Direction = DirRead | DirWrite
)

// Bit layout of a Linux ioctl request number (asm-generic).
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// Request identifies one control request: a name for diagnostics plus the
// (direction, type, number, payload size) tuple the code is built from.
type Request struct {
	Name string
	Dir  Direction
	Type byte
	Nr   uint8
	Size uintptr
}

// Code returns the numeric ioctl request.
func (r Request) Code() uintptr {
	return uintptr(r.Dir)<<iocDirShift |
		r.Size<<iocSizeShift |
		uintptr(r.Type)<<iocTypeShift |
		uintptr(r.Nr)<<iocNRShift
}

func (r Request) String() string {
	return fmt.Sprintf("%s(0x%08x)", r.Name, r.Code())
}

// request builds a table entry whose size is taken from the payload type P.
func request[P any](name string, dir Direction, nr uint8) Request {
	var payload P
	size := unsafe.Sizeof(payload)
	if size >= 1<<iocSizeBits {
		panic(fmt.Sprintf("v4l2: payload of %s is %d bytes, too large for an ioctl code", name, size))
	}
	return Request{Name: name, Dir: dir, Type: 'V', Nr: nr, Size: size}
}

// The control requests used by this package.
var (
	reqQueryCap       = request[v4l2Capability]("VIDIOC_QUERYCAP", DirRead, 0)
	reqEnumFmt        = request[v4l2Fmtdesc]("VIDIOC_ENUM_FMT", DirReadWrite, 2)
	reqSetFmt         = request[v4l2Format]("VIDIOC_S_FMT", DirReadWrite, 5)
	reqReqBufs        = request[v4l2RequestBuffers]("VIDIOC_REQBUFS", DirReadWrite, 8)
	reqQueryBuf       = request[v4l2Buffer]("VIDIOC_QUERYBUF", DirReadWrite, 9)
	reqQBuf           = request[v4l2Buffer]("VIDIOC_QBUF", DirReadWrite, 15)
	reqDQBuf          = request[v4l2Buffer]("VIDIOC_DQBUF", DirReadWrite, 17)
	reqStreamOn       = request[int32]("VIDIOC_STREAMON", DirWrite, 18)
	reqStreamOff      = request[int32]("VIDIOC_STREAMOFF", DirWrite, 19)
	reqEnumFrameSizes = request[v4l2Frmsizeenum]("VIDIOC_ENUM_FRAMESIZES", DirReadWrite, 74)
)

// Requests returns the request table, in request-number order.
func Requests() []Request {
	return []Request{
		reqQueryCap,
		reqEnumFmt,
		reqSetFmt,
		reqReqBufs,
		reqQueryBuf,
		reqQBuf,
		reqDQBuf,
		reqStreamOn,
		reqStreamOff,
		reqEnumFrameSizes,
	}
}

// requestByCode maps a numeric code back to its table entry.
func requestByCode(code uintptr) (Request, bool) {
	for _, r := range Requests() {
		if r.Code() == code {
			return r, true
		}
	}
	return Request{}, false
}
