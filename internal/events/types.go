package events

// Event type constants for kelindar/event.
const (
	TypeFrameCaptured uint32 = iota + 1
	TypeFrameDropped
	TypeCaptureTimeout
	TypeSessionState
	TypeDeviceAdded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Session states published in SessionStateEvent.
const (
	StateStarting  = "starting"
	StateStreaming = "streaming"
	StateStopped   = "stopped"
	StateFailed    = "failed"
)

// FrameCapturedEvent is published after a frame has been handed to the sink.
type FrameCapturedEvent struct {
	DevicePath string
	Sequence   uint32
	Bytes      uint32
	Timestamp  string
}

// Type returns the event type identifier for FrameCapturedEvent.
func (e FrameCapturedEvent) Type() uint32 { return TypeFrameCaptured }

// FrameDroppedEvent is published when the sink rejects a frame and the
// capture continues without it.
type FrameDroppedEvent struct {
	DevicePath string
	Sequence   uint32
	Error      string
	Timestamp  string
}

// Type returns the event type identifier for FrameDroppedEvent.
func (e FrameDroppedEvent) Type() uint32 { return TypeFrameDropped }

// CaptureTimeoutEvent is published each time a readiness wait expires.
type CaptureTimeoutEvent struct {
	DevicePath  string
	Consecutive int
	Timestamp   string
}

// Type returns the event type identifier for CaptureTimeoutEvent.
func (e CaptureTimeoutEvent) Type() uint32 { return TypeCaptureTimeout }

// SessionStateEvent reports session lifecycle transitions.
type SessionStateEvent struct {
	DevicePath string
	State      string
	Format     string // negotiated format, once known
	Buffers    int
	Error      string // set when State is StateFailed
	Timestamp  string
}

// Type returns the event type identifier for SessionStateEvent.
func (e SessionStateEvent) Type() uint32 { return TypeSessionState }

// DeviceAddedEvent is published when a waited-for device node appears.
type DeviceAddedEvent struct {
	DevicePath string
	Timestamp  string
}

// Type returns the event type identifier for DeviceAddedEvent.
func (e DeviceAddedEvent) Type() uint32 { return TypeDeviceAdded }
