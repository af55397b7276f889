//go:build linux && arm && !arm64

package v4l2

import (
	"time"
	"unsafe"
)

// Compile-time struct size assertions for 32-bit ARM.
var (
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// v4l2Format - size 204 bytes on 32-bit (no union padding)
type v4l2Format struct {
	typ uint32
	fmt [200]byte
}

// v4l2Buffer - size 68 bytes on 32-bit.
// struct timeval is 8 bytes and union m is 4 bytes here.
type v4l2Buffer struct {
	index         uint32
	typ           uint32
	bytesused     uint32
	flags         uint32
	field         uint32
	timestampSec  int32
	timestampUsec int32
	timecode      v4l2Timecode
	sequence      uint32
	memory        uint32
	offset        uint32
	length        uint32
	reserved2     uint32
	requestFD     int32
}

func (b *v4l2Buffer) timestamp() time.Duration {
	return time.Duration(b.timestampSec)*time.Second + time.Duration(b.timestampUsec)*time.Microsecond
}

func (b *v4l2Buffer) setTimestamp(d time.Duration) {
	b.timestampSec = int32(d / time.Second)
	b.timestampUsec = int32((d % time.Second) / time.Microsecond)
}
