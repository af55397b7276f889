package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smazurov/framegrab/internal/logging"
)

// Packet layout, all multi-byte fields big-endian:
//
//	[0:2]   start of frame marker
//	[2:6]   packet id
//	[6]     data type
//	[7:9]   payload length
//	[9:11]  phase id
//	[11]    reserved
//	[12:12+n] payload
//	[12+n:14+n] end of frame marker
const (
	PacketHeaderLen  = 12
	PacketTrailerLen = 2
)

// ErrShortPacket is returned when a buffer ends before the packet it
// describes.
var ErrShortPacket = errors.New("short packet")

// Packet is one framed record carried at the start of a captured buffer.
type Packet struct {
	SOF      [2]byte
	ID       uint32
	DataType uint8
	PhaseID  uint16
	Reserved uint8
	Payload  []byte
	EOF      [2]byte
}

// Len returns the encoded size of p.
func (p Packet) Len() int {
	return PacketHeaderLen + len(p.Payload) + PacketTrailerLen
}

func (p Packet) String() string {
	return fmt.Sprintf("packet id=%d type=%#02x phase=%d len=%d sof=% X eof=% X",
		p.ID, p.DataType, p.PhaseID, len(p.Payload), p.SOF, p.EOF)
}

// ParsePacket decodes the packet at the start of b. The payload aliases b.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < PacketHeaderLen {
		return Packet{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortPacket, len(b), PacketHeaderLen)
	}
	n := int(binary.BigEndian.Uint16(b[7:9]))
	end := PacketHeaderLen + n
	if len(b) < end+PacketTrailerLen {
		return Packet{}, fmt.Errorf("%w: %d bytes, payload of %d needs %d",
			ErrShortPacket, len(b), n, end+PacketTrailerLen)
	}
	return Packet{
		SOF:      [2]byte{b[0], b[1]},
		ID:       binary.BigEndian.Uint32(b[2:6]),
		DataType: b[6],
		PhaseID:  binary.BigEndian.Uint16(b[9:11]),
		Reserved: b[11],
		Payload:  b[PacketHeaderLen:end:end],
		EOF:      [2]byte{b[end], b[end+1]},
	}, nil
}

// AppendPacket appends the encoding of p to dst.
func AppendPacket(dst []byte, p Packet) ([]byte, error) {
	if len(p.Payload) > 0xFFFF {
		return dst, fmt.Errorf("payload of %d bytes exceeds 65535", len(p.Payload))
	}
	dst = append(dst, p.SOF[0], p.SOF[1])
	dst = binary.BigEndian.AppendUint32(dst, p.ID)
	dst = append(dst, p.DataType)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(p.Payload)))
	dst = binary.BigEndian.AppendUint16(dst, p.PhaseID)
	dst = append(dst, p.Reserved)
	dst = append(dst, p.Payload...)
	return append(dst, p.EOF[0], p.EOF[1]), nil
}

// PacketLogger logs the packet framing found in each frame, then hands the
// frame on to the next sink. Frames that do not parse are logged and
// counted but still forwarded.
type PacketLogger struct {
	next    Sink
	logger  *slog.Logger
	parsed  int
	invalid int
}

// NewPacketLogger wraps next. A nil next discards frames after logging.
func NewPacketLogger(next Sink) *PacketLogger {
	if next == nil {
		next = Discard
	}
	return &PacketLogger{next: next, logger: logging.GetLogger("sink")}
}

// Consume logs the packet in f and forwards f.
func (l *PacketLogger) Consume(f Frame) error {
	p, err := ParsePacket(f.Data)
	if err != nil {
		l.invalid++
		l.logger.Warn("Frame carries no valid packet", "sequence", f.Sequence, "bytes", len(f.Data), "error", err)
	} else {
		l.parsed++
		l.logger.Info("Packet received",
			"sequence", f.Sequence,
			"packet_id", p.ID,
			"data_type", p.DataType,
			"phase_id", p.PhaseID,
			"length", len(p.Payload),
			"sof", fmt.Sprintf("% X", p.SOF),
			"eof", fmt.Sprintf("% X", p.EOF))
	}
	return l.next.Consume(f)
}

// Counts returns how many frames parsed and how many did not.
func (l *PacketLogger) Counts() (parsed, invalid int) {
	return l.parsed, l.invalid
}
