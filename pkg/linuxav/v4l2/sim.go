//go:build linux

package v4l2

import (
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SimulatorConfig shapes the behaviour of a Simulator.
type SimulatorConfig struct {
	Driver string // defaults to "vivid-sim"
	Card   string // defaults to "Simulated Camera"
	// Caps are the reported device capabilities. Zero means video capture
	// with streaming I/O.
	Caps uint32
	// MaxBuffers caps how many buffers REQBUFS grants. Zero means 8.
	MaxBuffers uint32
	// Width and Height, when set, replace whatever resolution is requested.
	Width, Height uint32
	// PixelFormat, when set, replaces whatever layout is requested.
	PixelFormat PixelFormat
	// Padding adds bytes to the end of every line.
	Padding uint32
	// FrameSizes are reported by ENUM_FRAMESIZES. Stepwise takes
	// precedence. With neither, the request is not supported (ENOTTY).
	FrameSizes []Resolution
	Stepwise   *StepwiseRange
	// FrameInterval, when set, makes Poll sleep up to one interval before
	// reporting a frame.
	FrameInterval time.Duration
}

// Fault injects failures into a named operation. Op is a request name
// ("VIDIOC_QBUF") or one of "open", "close", "mmap", "munmap", "poll".
type Fault struct {
	Op string
	// Errno is returned by the faulted calls. For "poll" a zero Errno
	// makes the call time out instead.
	Errno unix.Errno
	// Skip lets this many calls through before the fault triggers.
	Skip int
	// Count is how many calls fail. Zero means every call after Skip.
	Count int
}

var simFormats = []struct {
	pf   PixelFormat
	desc string
}{
	{PixelFormatRGB24, "24-bit RGB 8-8-8"},
	{PixelFormatYUYV, "YUYV 4:2:2"},
}

type simBuffer struct {
	data   []byte
	offset uint32
	mapped bool
	queued bool
}

// Simulator is an in-process Kernel that behaves like a single V4L2
// capture driver producing a moving color bar pattern. It records every
// operation and supports fault injection, so the whole capture path can
// run without hardware.
type Simulator struct {
	cfg SimulatorConfig

	mu        sync.Mutex
	nextFD    int
	open      map[int]string
	format    FormatSpec
	buffers   []*simBuffer
	queue     []uint32
	streaming bool
	sequence  uint32
	faults    []*Fault
	ops       []string
	polls     []time.Duration
	maps      int
	unmaps    int
}

// NewSimulator creates a simulated driver.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Driver == "" {
		cfg.Driver = "vivid-sim"
	}
	if cfg.Card == "" {
		cfg.Card = "Simulated Camera"
	}
	if cfg.Caps == 0 {
		cfg.Caps = capVideoCapture | capStreaming
	}
	if cfg.MaxBuffers == 0 {
		cfg.MaxBuffers = 8
	}
	s := &Simulator{cfg: cfg, nextFD: 3, open: make(map[int]string)}
	s.format = s.adjust(FormatSpec{Width: DefaultWidth, Height: DefaultHeight, PixelFormat: PixelFormatRGB24})
	return s
}

// Inject adds a fault. Faults are matched in the order they were added.
func (s *Simulator) Inject(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fault := f
	s.faults = append(s.faults, &fault)
}

// Ops returns the names of every operation issued so far, in order.
func (s *Simulator) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// Calls counts the operations issued with the given name.
func (s *Simulator) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.ops {
		if o == op {
			n++
		}
	}
	return n
}

// PollTimeouts returns the timeout passed to every Poll call.
func (s *Simulator) PollTimeouts() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.polls...)
}

// Mapped returns the number of live mappings.
func (s *Simulator) Mapped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maps - s.unmaps
}

// Unmaps returns the number of successful munmap calls.
func (s *Simulator) Unmaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unmaps
}

// OpenFDs returns the number of descriptors not yet closed.
func (s *Simulator) OpenFDs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Streaming reports whether the simulated driver is streaming.
func (s *Simulator) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// fault records op and returns the injected outcome for it, if any.
// Callers hold mu.
func (s *Simulator) fault(op string) (unix.Errno, bool) {
	s.ops = append(s.ops, op)
	for _, f := range s.faults {
		if f.Op != op {
			continue
		}
		if f.Skip > 0 {
			f.Skip--
			continue
		}
		if f.Count < 0 {
			continue
		}
		if f.Count > 0 {
			f.Count--
			if f.Count == 0 {
				f.Count = -1 // exhausted
			}
		}
		return f.Errno, true
	}
	return 0, false
}

func (s *Simulator) Open(path string, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errno, ok := s.fault("open"); ok {
		return -1, errno
	}
	fd := s.nextFD
	s.nextFD++
	s.open[fd] = path
	return fd, nil
}

func (s *Simulator) Close(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errno, ok := s.fault("close"); ok {
		return errno
	}
	if _, ok := s.open[fd]; !ok {
		return unix.EBADF
	}
	delete(s.open, fd)
	if len(s.open) == 0 {
		// Last close releases the driver's buffers and stops streaming.
		s.streaming = false
		s.queue = nil
		if s.liveMappings() == 0 {
			s.buffers = nil
		}
	}
	return nil
}

func (s *Simulator) Mmap(fd int, offset int64, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errno, ok := s.fault("mmap"); ok {
		return nil, errno
	}
	if _, ok := s.open[fd]; !ok {
		return nil, unix.EBADF
	}
	for _, b := range s.buffers {
		if int64(b.offset) == offset {
			if length <= 0 || length > len(b.data) {
				return nil, unix.EINVAL
			}
			b.mapped = true
			s.maps++
			return b.data[:length:length], nil
		}
	}
	return nil, unix.EINVAL
}

func (s *Simulator) Munmap(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errno, ok := s.fault("munmap"); ok {
		return errno
	}
	if len(data) == 0 {
		return unix.EINVAL
	}
	for _, b := range s.buffers {
		if b.mapped && &b.data[0] == &data[0] {
			b.mapped = false
			s.unmaps++
			return nil
		}
	}
	return unix.EINVAL
}

func (s *Simulator) Poll(fd int, timeout time.Duration) (bool, error) {
	if s.cfg.FrameInterval > 0 {
		time.Sleep(min(s.cfg.FrameInterval, timeout))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls = append(s.polls, timeout)
	if errno, ok := s.fault("poll"); ok {
		if errno == 0 {
			return false, nil
		}
		return false, errno
	}
	if _, ok := s.open[fd]; !ok {
		return false, unix.EBADF
	}
	if !s.streaming {
		return false, unix.EIO
	}
	return len(s.queue) > 0, nil
}

func (s *Simulator) Ioctl(fd int, code uintptr, arg unsafe.Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := requestByCode(code)
	if !ok {
		s.ops = append(s.ops, "unknown")
		return unix.ENOTTY
	}
	if errno, ok := s.fault(req.Name); ok {
		return errno
	}
	if _, ok := s.open[fd]; !ok {
		return unix.EBADF
	}

	switch req {
	case reqQueryCap:
		return s.queryCap((*v4l2Capability)(arg))
	case reqEnumFmt:
		return s.enumFmt((*v4l2Fmtdesc)(arg))
	case reqSetFmt:
		return s.setFmt((*v4l2Format)(arg))
	case reqReqBufs:
		return s.reqBufs((*v4l2RequestBuffers)(arg))
	case reqQueryBuf:
		return s.queryBuf((*v4l2Buffer)(arg))
	case reqQBuf:
		return s.qbuf((*v4l2Buffer)(arg))
	case reqDQBuf:
		return s.dqbuf((*v4l2Buffer)(arg))
	case reqStreamOn:
		return s.streamOn(*(*int32)(arg))
	case reqStreamOff:
		return s.streamOff(*(*int32)(arg))
	case reqEnumFrameSizes:
		return s.enumFrameSizes((*v4l2Frmsizeenum)(arg))
	}
	return unix.ENOTTY
}

func (s *Simulator) queryCap(c *v4l2Capability) error {
	*c = v4l2Capability{}
	copy(c.driver[:len(c.driver)-1], s.cfg.Driver)
	copy(c.card[:len(c.card)-1], s.cfg.Card)
	copy(c.busInfo[:len(c.busInfo)-1], "platform:"+s.cfg.Driver)
	c.version = 0x00060c00
	c.capabilities = s.cfg.Caps | capDeviceCaps
	c.deviceCaps = s.cfg.Caps
	return nil
}

func (s *Simulator) enumFmt(d *v4l2Fmtdesc) error {
	if d.typ != bufTypeVideoCapture || int(d.index) >= len(simFormats) {
		return unix.EINVAL
	}
	f := simFormats[d.index]
	d.flags = 0
	d.pixelformat = uint32(f.pf)
	d.description = [32]byte{}
	copy(d.description[:31], f.desc)
	return nil
}

// adjust applies the driver's constraints to a requested format.
func (s *Simulator) adjust(req FormatSpec) FormatSpec {
	f := req
	if s.cfg.PixelFormat != 0 {
		f.PixelFormat = s.cfg.PixelFormat
	}
	if f.PixelFormat.BytesPerPixel() == 0 {
		f.PixelFormat = PixelFormatRGB24
	}
	if s.cfg.Width != 0 {
		f.Width = s.cfg.Width
	}
	if s.cfg.Height != 0 {
		f.Height = s.cfg.Height
	}
	f.Width = min(max(f.Width, 16), 4096)
	f.Height = min(max(f.Height, 16), 2160)
	f.BytesPerLine = f.Width*f.PixelFormat.BytesPerPixel() + s.cfg.Padding
	f.SizeImage = f.BytesPerLine * f.Height
	return f
}

func (s *Simulator) setFmt(f *v4l2Format) error {
	if f.typ != bufTypeVideoCapture {
		return unix.EINVAL
	}
	if len(s.buffers) > 0 {
		return unix.EBUSY
	}
	pix := f.pix()
	s.format = s.adjust(FormatSpec{
		Width:       pix.width,
		Height:      pix.height,
		PixelFormat: PixelFormat(pix.pixelformat),
	})
	pix.width = s.format.Width
	pix.height = s.format.Height
	pix.pixelformat = uint32(s.format.PixelFormat)
	pix.field = fieldNone
	pix.bytesperline = s.format.BytesPerLine
	pix.sizeimage = s.format.SizeImage
	return nil
}

func (s *Simulator) liveMappings() int {
	n := 0
	for _, b := range s.buffers {
		if b.mapped {
			n++
		}
	}
	return n
}

func (s *Simulator) reqBufs(r *v4l2RequestBuffers) error {
	if r.typ != bufTypeVideoCapture || r.memory != memoryMMAP {
		return unix.EINVAL
	}
	if s.streaming || s.liveMappings() > 0 {
		return unix.EBUSY
	}

	count := min(r.count, s.cfg.MaxBuffers)
	const page = 4096
	stride := (s.format.SizeImage + page - 1) / page * page

	s.buffers = make([]*simBuffer, count)
	for i := range s.buffers {
		s.buffers[i] = &simBuffer{
			data:   make([]byte, s.format.SizeImage),
			offset: uint32(i) * stride,
		}
	}
	s.queue = nil
	r.count = count
	return nil
}

func (s *Simulator) buffer(b *v4l2Buffer) (*simBuffer, error) {
	if b.typ != bufTypeVideoCapture || b.memory != memoryMMAP || int(b.index) >= len(s.buffers) {
		return nil, unix.EINVAL
	}
	return s.buffers[b.index], nil
}

func (s *Simulator) queryBuf(b *v4l2Buffer) error {
	sb, err := s.buffer(b)
	if err != nil {
		return err
	}
	b.offset = sb.offset
	b.length = uint32(len(sb.data))
	b.bytesused = 0
	return nil
}

func (s *Simulator) qbuf(b *v4l2Buffer) error {
	sb, err := s.buffer(b)
	if err != nil {
		return err
	}
	if sb.queued {
		return unix.EINVAL
	}
	sb.queued = true
	s.queue = append(s.queue, b.index)
	return nil
}

func (s *Simulator) dqbuf(b *v4l2Buffer) error {
	if b.typ != bufTypeVideoCapture || b.memory != memoryMMAP {
		return unix.EINVAL
	}
	if !s.streaming {
		return unix.EINVAL
	}
	if len(s.queue) == 0 {
		return unix.EAGAIN
	}

	index := s.queue[0]
	s.queue = s.queue[1:]
	sb := s.buffers[index]
	sb.queued = false
	fillPattern(sb.data, s.format, s.sequence)

	b.index = index
	b.bytesused = s.format.SizeImage
	b.field = fieldNone
	b.sequence = s.sequence
	b.length = uint32(len(sb.data))
	b.offset = sb.offset
	b.setTimestamp(time.Duration(s.sequence) * 33 * time.Millisecond)
	s.sequence++
	return nil
}

func (s *Simulator) streamOn(typ int32) error {
	if uint32(typ) != bufTypeVideoCapture || len(s.buffers) == 0 {
		return unix.EINVAL
	}
	s.streaming = true
	return nil
}

func (s *Simulator) streamOff(typ int32) error {
	if uint32(typ) != bufTypeVideoCapture {
		return unix.EINVAL
	}
	s.streaming = false
	s.queue = nil
	for _, b := range s.buffers {
		b.queued = false
	}
	return nil
}

func (s *Simulator) enumFrameSizes(f *v4l2Frmsizeenum) error {
	if sw := s.cfg.Stepwise; sw != nil {
		if f.index != 0 {
			return unix.EINVAL
		}
		f.typ = frmsizeTypeStepwise
		if sw.StepWidth == 1 && sw.StepHeight == 1 {
			f.typ = frmsizeTypeContinuous
		}
		*f.stepwise() = v4l2FrmsizeStepwise{
			minWidth:   sw.MinWidth,
			maxWidth:   sw.MaxWidth,
			stepWidth:  sw.StepWidth,
			minHeight:  sw.MinHeight,
			maxHeight:  sw.MaxHeight,
			stepHeight: sw.StepHeight,
		}
		return nil
	}
	if len(s.cfg.FrameSizes) == 0 {
		return unix.ENOTTY
	}
	if int(f.index) >= len(s.cfg.FrameSizes) {
		return unix.EINVAL
	}
	r := s.cfg.FrameSizes[f.index]
	f.typ = frmsizeTypeDiscrete
	f.discrete = v4l2FrmsizeDiscrete{width: r.Width, height: r.Height}
	return nil
}

// Eight vertical color bars, white to black.
var bars = [8][3]byte{
	{0xff, 0xff, 0xff},
	{0xff, 0xff, 0x00},
	{0x00, 0xff, 0xff},
	{0x00, 0xff, 0x00},
	{0xff, 0x00, 0xff},
	{0xff, 0x00, 0x00},
	{0x00, 0x00, 0xff},
	{0x00, 0x00, 0x00},
}

// fillPattern draws color bars that scroll one bar width per 8 frames.
// Line padding is left zero.
func fillPattern(data []byte, f FormatSpec, seq uint32) {
	bpp := f.PixelFormat.BytesPerPixel()
	if f.PixelFormat != PixelFormatRGB24 && f.PixelFormat != PixelFormatBGR24 {
		for i := range data {
			data[i] = 0x80
		}
		return
	}

	barWidth := max(f.Width/8, 1)
	shift := (seq / 8) * barWidth
	for y := uint32(0); y < f.Height; y++ {
		row := data[y*f.BytesPerLine:]
		for x := uint32(0); x < f.Width; x++ {
			c := bars[((x+shift)/barWidth)%8]
			px := row[x*bpp : x*bpp+3]
			if f.PixelFormat == PixelFormatBGR24 {
				px[0], px[1], px[2] = c[2], c[1], c[0]
			} else {
				px[0], px[1], px[2] = c[0], c[1], c[2]
			}
		}
	}
}
