package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan FrameCapturedEvent, 1)

	unsub := bus.Subscribe(func(e FrameCapturedEvent) {
		received <- e
	})
	defer unsub()

	event := FrameCapturedEvent{
		DevicePath: "/dev/video0",
		Sequence:   12,
		Bytes:      921600,
		Timestamp:  "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got != event {
		t.Errorf("Expected %+v, got %+v", event, got)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan SessionStateEvent, 1)
	received2 := make(chan SessionStateEvent, 1)

	unsub1 := bus.Subscribe(func(e SessionStateEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e SessionStateEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(SessionStateEvent{DevicePath: "/dev/video0", State: StateStreaming})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan FrameDroppedEvent, 1)

	unsub := bus.Subscribe(func(e FrameDroppedEvent) {
		received <- e
	})

	bus.Publish(FrameDroppedEvent{DevicePath: "/dev/video0"})
	<-received

	unsub()

	bus.Publish(FrameDroppedEvent{DevicePath: "/dev/video1"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	frameReceived := make(chan bool, 1)
	timeoutReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FrameCapturedEvent) {
		frameReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ CaptureTimeoutEvent) {
		timeoutReceived <- true
	})
	defer unsub2()

	bus.Publish(FrameCapturedEvent{DevicePath: "/dev/video0"})
	<-frameReceived

	select {
	case <-timeoutReceived:
		t.Fatal("Timeout subscriber should NOT have received FrameCapturedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(CaptureTimeoutEvent{Consecutive: 1})
	<-timeoutReceived

	select {
	case <-frameReceived:
		t.Fatal("Frame subscriber should NOT have received CaptureTimeoutEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ FrameCapturedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range eventsPerGoroutine {
				bus.Publish(FrameCapturedEvent{
					Sequence:  uint32(i),
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"FrameCaptured", FrameCapturedEvent{DevicePath: "/dev/video0"}},
		{"FrameDropped", FrameDroppedEvent{Error: "disk full"}},
		{"CaptureTimeout", CaptureTimeoutEvent{Consecutive: 2}},
		{"SessionState", SessionStateEvent{State: StateFailed, Error: "EIO"}},
		{"DeviceAdded", DeviceAddedEvent{DevicePath: "/dev/video0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case FrameCapturedEvent:
				unsub = bus.Subscribe(func(e FrameCapturedEvent) { received <- e })
			case FrameDroppedEvent:
				unsub = bus.Subscribe(func(e FrameDroppedEvent) { received <- e })
			case CaptureTimeoutEvent:
				unsub = bus.Subscribe(func(e CaptureTimeoutEvent) { received <- e })
			case SessionStateEvent:
				unsub = bus.Subscribe(func(e SessionStateEvent) { received <- e })
			case DeviceAddedEvent:
				unsub = bus.Subscribe(func(e DeviceAddedEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	if unsub == nil {
		t.Fatal("Subscribe returned nil unsubscribe for unknown handler")
	}
	unsub()
}

func TestBus_NilPublish(_ *testing.T) {
	var bus *Bus
	bus.Publish(FrameCapturedEvent{})
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan SessionStateEvent, 10)

	unsub := SubscribeToChannel[SessionStateEvent](bus, ch)
	defer unsub()

	event := SessionStateEvent{
		DevicePath: "/dev/video0",
		State:      StateStopped,
	}
	bus.Publish(event)

	received := <-ch
	if received.DevicePath != event.DevicePath || received.State != StateStopped {
		t.Errorf("Expected %+v, got %+v", event, received)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan FrameCapturedEvent) // No buffer

	unsub := SubscribeToChannel[FrameCapturedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(FrameCapturedEvent{Sequence: 1})
		done <- true
	}()

	<-done // Should complete without blocking
}
