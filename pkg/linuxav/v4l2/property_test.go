//go:build linux

package v4l2

import (
	"context"
	"testing"

	"pgregory.net/rapid"
)

func TestPoolSizeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		requested := rapid.Uint32Range(1, 16).Draw(t, "requested")
		granted := rapid.Uint32Range(1, 8).Draw(t, "granted")

		sim := NewSimulator(SimulatorConfig{MaxBuffers: granted, Width: 32, Height: 16})
		s, err := OpenSession(simPath, Config{Kernel: sim, Buffers: requested})
		if err != nil {
			t.Fatalf("OpenSession() error = %v", err)
		}
		defer s.Close()

		n := s.Buffers()
		if uint32(n) > requested || uint32(n) != min(requested, granted) {
			t.Fatalf("mapped %d buffers for request %d, driver max %d", n, requested, granted)
		}
		seen := make(map[uint32]bool)
		for _, b := range s.pool.Buffers() {
			if b.Index() >= uint32(n) || seen[b.Index()] {
				t.Fatalf("bad or duplicate index %d among %d buffers", b.Index(), n)
			}
			seen[b.Index()] = true
		}
	})
}

func TestRequeueOnceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buffers := rapid.Uint32Range(1, 6).Draw(t, "buffers")
		frames := rapid.IntRange(1, 40).Draw(t, "frames")

		sim := NewSimulator(SimulatorConfig{Width: 32, Height: 16})
		s, err := OpenSession(simPath, Config{Kernel: sim, Buffers: buffers})
		if err != nil {
			t.Fatalf("OpenSession() error = %v", err)
		}
		defer s.Close()

		err = s.Capture(context.Background(), frames, func(f Frame) error {
			sim.mu.Lock()
			queued := sim.buffers[f.Index].queued
			sim.mu.Unlock()
			if queued || f.buffer.Owner() != OwnerUser {
				t.Fatalf("buffer %d delivered while queued to the driver", f.Index)
			}
			if _, err := f.Data(); err != nil {
				t.Fatalf("Data() inside handler error = %v", err)
			}
			return nil
		}, RunOptions{})
		if err != nil {
			t.Fatalf("Capture() error = %v", err)
		}

		if got, want := sim.Calls("VIDIOC_QBUF"), int(buffers)+frames; got != want {
			t.Fatalf("QBUF issued %d times, want %d", got, want)
		}
		if got := sim.Calls("VIDIOC_DQBUF"); got != frames {
			t.Fatalf("DQBUF issued %d times, want %d", got, frames)
		}
	})
}
