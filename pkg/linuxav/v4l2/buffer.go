//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"
)

// Owner records which side may touch a mapped buffer.
type Owner int

// Buffer owners.
const (
	// OwnerUser means the buffer is dequeued (or not yet queued) and user
	// code may read it.
	OwnerUser Owner = iota
	// OwnerDevice means the buffer sits in the driver queue and may be
	// written by DMA at any time.
	OwnerDevice
)

func (o Owner) String() string {
	switch o {
	case OwnerUser:
		return "user"
	case OwnerDevice:
		return "device"
	default:
		return fmt.Sprintf("Owner(%d)", int(o))
	}
}

// MappedBuffer is one driver buffer slot mapped into the process.
type MappedBuffer struct {
	index  uint32
	data   []byte
	owner  Owner
	mapped bool
}

// Index returns the driver-assigned slot number.
func (b *MappedBuffer) Index() uint32 {
	return b.index
}

// Len returns the mapped length, or 0 once unmapped.
func (b *MappedBuffer) Len() int {
	return len(b.data)
}

// Owner returns the current owner.
func (b *MappedBuffer) Owner() Owner {
	return b.owner
}

// Mapped reports whether the mapping is still live.
func (b *MappedBuffer) Mapped() bool {
	return b.mapped
}

// Bytes returns the first n bytes of the mapping. It fails while the
// device owns the buffer and after unmap. The slice must not be retained
// past the next requeue.
func (b *MappedBuffer) Bytes(n uint32) ([]byte, error) {
	if !b.mapped {
		return nil, ErrUnmapped
	}
	if b.owner != OwnerUser {
		return nil, ErrDeviceOwned
	}
	if int(n) > len(b.data) {
		return nil, fmt.Errorf("v4l2: buffer %d holds %d bytes, %d requested", b.index, len(b.data), n)
	}
	return b.data[:n:n], nil
}

// BufferPool holds every mapped buffer of a device for the pool lifetime.
type BufferPool struct {
	dev     *Device
	buffers []*MappedBuffer
}

// RequestBuffers asks the driver for count mmap capture buffers and
// returns how many it actually allocated, which may be fewer.
func RequestBuffers(dev *Device, count uint32) (uint32, error) {
	if count == 0 {
		return 0, fmt.Errorf("request buffers: %w", ErrNoBuffers)
	}

	req := v4l2RequestBuffers{
		count:  count,
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := dev.Ioctl(reqReqBufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	if req.count == 0 {
		return 0, fmt.Errorf("request %d buffers on %s: %w", count, dev.Path(), ErrNoBuffers)
	}
	return req.count, nil
}

// MapBuffers queries and maps buffers 0..count-1. If any buffer fails,
// the buffers mapped so far are unmapped before the error is returned.
func MapBuffers(dev *Device, count uint32) (*BufferPool, error) {
	pool := &BufferPool{dev: dev, buffers: make([]*MappedBuffer, 0, count)}

	for i := uint32(0); i < count; i++ {
		b, err := mapBuffer(dev, i)
		if err != nil {
			if unmapErr := pool.Unmap(); unmapErr != nil {
				return nil, errors.Join(err, unmapErr)
			}
			return nil, err
		}
		pool.buffers = append(pool.buffers, b)
	}

	return pool, nil
}

func mapBuffer(dev *Device, index uint32) (*MappedBuffer, error) {
	buf := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := dev.Ioctl(reqQueryBuf, unsafe.Pointer(&buf)); err != nil {
		return nil, err
	}

	data, err := dev.kernel.Mmap(dev.fd, int64(buf.offset), int(buf.length))
	if err != nil {
		return nil, &OpError{Op: "mmap", Path: dev.path, Err: err}
	}

	return &MappedBuffer{index: index, data: data, owner: OwnerUser, mapped: true}, nil
}

// NewBufferPool requests count buffers and maps whatever the driver grants.
func NewBufferPool(dev *Device, count uint32) (*BufferPool, error) {
	actual, err := RequestBuffers(dev, count)
	if err != nil {
		return nil, err
	}
	return MapBuffers(dev, actual)
}

// Len returns the number of mapped buffers.
func (p *BufferPool) Len() int {
	return len(p.buffers)
}

// Buffer returns the buffer with the given driver index, or nil.
func (p *BufferPool) Buffer(index uint32) *MappedBuffer {
	if int(index) >= len(p.buffers) {
		return nil
	}
	return p.buffers[index]
}

// Buffers returns the buffers in index order.
func (p *BufferPool) Buffers() []*MappedBuffer {
	return p.buffers
}

// Unmap releases every live mapping exactly once. Calling it again is a
// no-op. Every buffer is attempted even if one fails.
func (p *BufferPool) Unmap() error {
	var errs []error
	for _, b := range p.buffers {
		if !b.mapped {
			continue
		}
		if err := p.dev.kernel.Munmap(b.data); err != nil {
			errs = append(errs, &OpError{Op: "munmap", Path: p.dev.path, Err: err})
		}
		b.mapped = false
		b.data = nil
		b.owner = OwnerUser
	}
	return errors.Join(errs...)
}
