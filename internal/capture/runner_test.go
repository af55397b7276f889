//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/framegrab/internal/events"
	"github.com/smazurov/framegrab/internal/sink"
	"github.com/smazurov/framegrab/pkg/linuxav/hotplug"
	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const simDevice = "/dev/video0"

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) add(msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return true
}

func (n *recordingNotifier) Ready(status string) bool  { return n.add("READY " + status) }
func (n *recordingNotifier) Status(status string) bool { return n.add("STATUS " + status) }
func (n *recordingNotifier) Stopping() bool            { return n.add("STOPPING") }

// collector keeps a copy of every frame it is given.
type collector struct {
	frames []sink.Frame
	failAt map[int]error
}

func (c *collector) Consume(f sink.Frame) error {
	n := len(c.frames)
	f.Data = append([]byte(nil), f.Data...)
	c.frames = append(c.frames, f)
	if err, ok := c.failAt[n]; ok {
		return err
	}
	return nil
}

func smallOptions(frames int) Options {
	return Options{Device: simDevice, Width: 32, Height: 16, Buffers: 3, Frames: frames}
}

func TestRunCapturesFrames(t *testing.T) {
	sim := v4l2.NewSimulator(v4l2.SimulatorConfig{})
	c := &collector{}
	notifier := &recordingNotifier{}
	r := NewRunner(smallOptions(5), c, WithKernel(sim), WithNotifier(notifier))

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, c.frames, 5)
	for i, f := range c.frames {
		assert.Equal(t, uint32(32), f.Width)
		assert.Equal(t, uint32(16), f.Height)
		assert.Equal(t, sink.PixelFormatRGB24, f.PixelFormat)
		assert.Len(t, f.Data, 32*16*3)
		if i > 0 {
			assert.Greater(t, f.Sequence, c.frames[i-1].Sequence)
		}
	}
	assert.Equal(t, Stats{Captured: 5}, r.Stats())

	assert.Zero(t, sim.OpenFDs(), "device closed")
	assert.Equal(t, 3, sim.Unmaps(), "every buffer unmapped")
	assert.False(t, sim.Streaming())

	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[0], "READY capturing 32x16")
	assert.Equal(t, "STOPPING", notifier.messages[1])
}

func TestRunWritesPPM(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(SinkPPM, dir, "")
	require.NoError(t, err)
	// Padded rows must be stripped from the files.
	sim := v4l2.NewSimulator(v4l2.SimulatorConfig{Padding: 8})

	require.NoError(t, NewRunner(smallOptions(2), s, WithKernel(sim)).Run(context.Background()))

	for i := range 2 {
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("frame-%04d.ppm", i)))
		require.NoError(t, err)
		header := "P6\n32 16 255\n"
		assert.Equal(t, header, string(data[:len(header)]))
		assert.Len(t, data, len(header)+32*16*3)
	}
}

func TestRunSinkFailurePolicy(t *testing.T) {
	boom := errors.New("disk full")

	t.Run("lenient", func(t *testing.T) {
		sim := v4l2.NewSimulator(v4l2.SimulatorConfig{})
		c := &collector{failAt: map[int]error{1: boom}}
		bus := events.New()
		dropped := make(chan events.FrameDroppedEvent, 4)
		unsub := events.SubscribeToChannel[events.FrameDroppedEvent](bus, dropped)
		defer unsub()

		r := NewRunner(smallOptions(4), c, WithKernel(sim), WithBus(bus))
		require.NoError(t, r.Run(context.Background()))

		// A skipped frame still counts toward the requested total.
		assert.Equal(t, Stats{Captured: 3, Dropped: 1}, r.Stats())
		assert.Len(t, c.frames, 4)

		select {
		case ev := <-dropped:
			assert.Equal(t, "disk full", ev.Error)
			assert.Equal(t, simDevice, ev.DevicePath)
		case <-time.After(time.Second):
			t.Fatal("no FrameDroppedEvent published")
		}
	})

	t.Run("strict", func(t *testing.T) {
		sim := v4l2.NewSimulator(v4l2.SimulatorConfig{})
		opts := smallOptions(4)
		opts.StrictSink = true
		r := NewRunner(opts, &collector{failAt: map[int]error{1: boom}}, WithKernel(sim))

		err := r.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, ExitFailure, ExitCode(err))
		assert.Zero(t, sim.OpenFDs(), "teardown runs after a sink failure")
		assert.False(t, sim.Streaming())
	})
}

func TestRunCancelled(t *testing.T) {
	sim := v4l2.NewSimulator(v4l2.SimulatorConfig{FrameInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	c := sink.Func(func(sink.Frame) error {
		cancel()
		return nil
	})
	r := NewRunner(smallOptions(0), c, WithKernel(sim))

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ExitInterrupted, ExitCode(err))
	assert.Equal(t, 1, r.Stats().Captured)
	assert.Zero(t, sim.OpenFDs())
}

func TestRunTimeouts(t *testing.T) {
	sim := v4l2.NewSimulator(v4l2.SimulatorConfig{})
	sim.Inject(v4l2.Fault{Op: "poll"})
	opts := smallOptions(1)
	opts.MaxTimeouts = 3

	bus := events.New()
	timeouts := make(chan events.CaptureTimeoutEvent, 8)
	unsub := events.SubscribeToChannel[events.CaptureTimeoutEvent](bus, timeouts)
	defer unsub()

	r := NewRunner(opts, nil, WithKernel(sim), WithBus(bus))
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, v4l2.ErrTimeout)
	assert.Equal(t, 3, r.Stats().Timeouts)

	for want := 1; want <= 3; want++ {
		select {
		case ev := <-timeouts:
			assert.Equal(t, want, ev.Consecutive)
		case <-time.After(time.Second):
			t.Fatalf("timeout event %d not published", want)
		}
	}
}

func TestRunOpenFailure(t *testing.T) {
	sim := v4l2.NewSimulator(v4l2.SimulatorConfig{})
	sim.Inject(v4l2.Fault{Op: "open", Errno: unix.ENOENT})

	bus := events.New()
	states := make(chan events.SessionStateEvent, 4)
	unsub := events.SubscribeToChannel[events.SessionStateEvent](bus, states)
	defer unsub()

	err := NewRunner(smallOptions(1), nil, WithKernel(sim), WithBus(bus)).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))

	var opErr *v4l2.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, unix.ENOENT, opErr.Errno())

	got := map[string]events.SessionStateEvent{}
	for len(got) < 2 {
		select {
		case ev := <-states:
			got[ev.State] = ev
		case <-time.After(time.Second):
			t.Fatalf("states published: %v", got)
		}
	}
	assert.Contains(t, got, events.StateStarting)
	assert.Contains(t, got[events.StateFailed].Error, "no such file")
}

func TestRunLayoutRejected(t *testing.T) {
	sim := v4l2.NewSimulator(v4l2.SimulatorConfig{PixelFormat: v4l2.PixelFormatYUYV})

	err := NewRunner(smallOptions(1), nil, WithKernel(sim)).Run(context.Background())
	var fmtErr *v4l2.FormatError
	require.ErrorAs(t, err, &fmtErr)
	assert.Zero(t, sim.Calls("VIDIOC_REQBUFS"))
	assert.Zero(t, sim.OpenFDs())

	attrs := ErrorAttrs(err)
	assert.Contains(t, attrs, "requested")
	assert.Contains(t, attrs, "YUYV")
}

func TestRunSessionStates(t *testing.T) {
	sim := v4l2.NewSimulator(v4l2.SimulatorConfig{})
	bus := events.New()
	states := make(chan events.SessionStateEvent, 8)
	unsub := events.SubscribeToChannel[events.SessionStateEvent](bus, states)
	defer unsub()

	require.NoError(t, NewRunner(smallOptions(2), nil, WithKernel(sim), WithBus(bus)).Run(context.Background()))

	seen := map[string]events.SessionStateEvent{}
	for len(seen) < 3 {
		select {
		case ev := <-states:
			seen[ev.State] = ev
		case <-time.After(time.Second):
			t.Fatalf("states published: %v", seen)
		}
	}
	assert.Equal(t, 3, seen[events.StateStreaming].Buffers)
	assert.Equal(t, "32x16 RGB3", seen[events.StateStreaming].Format)
	assert.Empty(t, seen[events.StateStopped].Error)
}

func TestRunSimulate(t *testing.T) {
	opts := smallOptions(2)
	opts.Device = "sim0"
	opts.Simulate = true

	r := NewRunner(opts, nil)
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 2, r.Stats().Captured)
}

// appearingSource creates the device node, then reports it.
type appearingSource struct {
	path string
}

func (s appearingSource) Run(ctx context.Context, out chan<- hotplug.Event) error {
	defer close(out)
	if err := os.WriteFile(s.path, nil, 0o600); err != nil {
		return err
	}
	select {
	case out <- hotplug.Event{Action: hotplug.ActionAdd, Subsystem: hotplug.SubsystemVideo4Linux, DevName: "video7"}:
	case <-ctx.Done():
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunWaitDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video7")
	sim := v4l2.NewSimulator(v4l2.SimulatorConfig{})
	opts := smallOptions(1)
	opts.Device = path
	opts.WaitDevice = true

	r := NewRunner(opts, nil, WithKernel(sim), WithDeviceSource(appearingSource{path: path}))
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, r.Stats().Captured)
}

func TestRunWaitDeviceCancelled(t *testing.T) {
	opts := smallOptions(1)
	opts.Device = filepath.Join(t.TempDir(), "missing")
	opts.WaitDevice = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	blocking := sourceFunc(func(ctx context.Context, out chan<- hotplug.Event) error {
		defer close(out)
		<-ctx.Done()
		return ctx.Err()
	})
	err := NewRunner(opts, nil, WithDeviceSource(blocking)).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ExitFailure, ExitCode(err))
}

type sourceFunc func(ctx context.Context, out chan<- hotplug.Event) error

func (f sourceFunc) Run(ctx context.Context, out chan<- hotplug.Event) error { return f(ctx, out) }

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"cancelled", context.Canceled, ExitInterrupted},
		{"wrapped cancel", fmt.Errorf("capture: %w", context.Canceled), ExitInterrupted},
		{"device error", &v4l2.OpError{Op: "VIDIOC_STREAMON", Path: simDevice, Err: unix.EIO}, ExitFailure},
		{"deadline", context.DeadlineExceeded, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestErrorAttrs(t *testing.T) {
	err := fmt.Errorf("capture: %w", &v4l2.OpError{Op: "VIDIOC_DQBUF", Path: simDevice, Err: unix.EIO})
	attrs := ErrorAttrs(err)

	want := []any{"error", err, "op", "VIDIOC_DQBUF", "path", simDevice, "errno", 5, "errno_text", "input/output error"}
	assert.Equal(t, want, attrs)

	assert.Equal(t, []any{"error", context.Canceled}, ErrorAttrs(context.Canceled))
}

func TestParsePixelFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    v4l2.PixelFormat
		wantErr bool
	}{
		{"rgb24", v4l2.PixelFormatRGB24, false},
		{"YUYV", v4l2.PixelFormatYUYV, false},
		{"mjpeg", v4l2.PixelFormatMJPEG, false},
		{"RGB3", v4l2.PixelFormatRGB24, false},
		{"BGR3", v4l2.PixelFormatBGR24, false},
		{"rgb", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePixelFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewSink(t *testing.T) {
	dir := t.TempDir()

	s, err := NewSink("PPM", dir, "")
	require.NoError(t, err)
	assert.IsType(t, &sink.PPM{}, s)

	s, err = NewSink(SinkPacket, "", "")
	require.NoError(t, err)
	assert.IsType(t, &sink.PacketLogger{}, s)

	s, err = NewSink(SinkDiscard, "", "")
	require.NoError(t, err)
	assert.NoError(t, s.Consume(sink.Frame{}))

	_, err = NewSink("jpeg", dir, "")
	assert.Error(t, err)
}
