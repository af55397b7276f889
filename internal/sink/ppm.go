package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/smazurov/framegrab/internal/logging"
)

// DefaultPattern names one file per frame, numbered from zero.
const DefaultPattern = "frame-%04d.ppm"

// PPMHeader is the parsed header of a binary (P6) pixel map.
type PPMHeader struct {
	Width  uint32
	Height uint32
	MaxVal uint32
}

// EncodePPM writes f as a P6 pixel map: the header "P6\n<w> <h> 255\n"
// followed by exactly w*h*3 bytes of RGB. Row padding is dropped and BGR
// input is swapped into RGB order.
func EncodePPM(w io.Writer, f Frame) error {
	if f.PixelFormat != PixelFormatRGB24 && f.PixelFormat != PixelFormatBGR24 {
		return fmt.Errorf("%w: %#08x", ErrUnsupportedFormat, f.PixelFormat)
	}
	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrShortFrame, f.Width, f.Height)
	}
	packed, stride := f.rowBytes()
	need := stride*(int(f.Height)-1) + packed
	if len(f.Data) < need {
		return fmt.Errorf("%w: %d bytes for %dx%d stride %d", ErrShortFrame, len(f.Data), f.Width, f.Height, stride)
	}

	bw := bufio.NewWriterSize(w, packed*4)
	if _, err := fmt.Fprintf(bw, "P6\n%d %d 255\n", f.Width, f.Height); err != nil {
		return err
	}

	var swapped []byte
	if f.PixelFormat == PixelFormatBGR24 {
		swapped = make([]byte, packed)
	}
	for y := 0; y < int(f.Height); y++ {
		row := f.Data[y*stride : y*stride+packed]
		if swapped != nil {
			for i := 0; i < packed; i += 3 {
				swapped[i], swapped[i+1], swapped[i+2] = row[i+2], row[i+1], row[i]
			}
			row = swapped
		}
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodePPMHeader reads a P6 header from r, leaving r positioned at the
// first pixel byte. Comments and arbitrary whitespace between fields are
// accepted.
func DecodePPMHeader(r *bufio.Reader) (PPMHeader, error) {
	magic := make([]byte, 2)
	if _, err := io.ReadFull(r, magic); err != nil {
		return PPMHeader{}, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != "P6" {
		return PPMHeader{}, fmt.Errorf("bad magic %q", magic)
	}

	var fields [3]uint32
	for i := range fields {
		tok, err := headerToken(r)
		if err != nil {
			return PPMHeader{}, err
		}
		v, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			return PPMHeader{}, fmt.Errorf("header field %d: %w", i, err)
		}
		fields[i] = uint32(v)
	}
	// A single whitespace byte separates maxval from the raster.
	if _, err := r.ReadByte(); err != nil {
		return PPMHeader{}, fmt.Errorf("read raster separator: %w", err)
	}

	h := PPMHeader{Width: fields[0], Height: fields[1], MaxVal: fields[2]}
	if h.MaxVal == 0 || h.MaxVal > 65535 {
		return h, fmt.Errorf("maxval %d out of range", h.MaxVal)
	}
	return h, nil
}

func headerToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(tok) > 0 {
				return string(tok), nil
			}
			return "", fmt.Errorf("read header: %w", err)
		}
		switch {
		case c == '#' && len(tok) == 0:
			if _, err := r.ReadString('\n'); err != nil {
				return "", fmt.Errorf("read comment: %w", err)
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if len(tok) > 0 {
				return string(tok), r.UnreadByte()
			}
		default:
			tok = append(tok, c)
		}
	}
}

// PPM writes every frame to its own file in Dir, named by Pattern with a
// running frame count. Files appear atomically: each is written to a
// temporary name and renamed into place.
type PPM struct {
	dir     string
	pattern string
	written int
	logger  *slog.Logger
}

// NewPPM creates the output directory if needed. An empty pattern selects
// DefaultPattern.
func NewPPM(dir, pattern string) (*PPM, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &PPM{
		dir:     dir,
		pattern: pattern,
		logger:  logging.GetLogger("sink"),
	}, nil
}

// Written returns the number of files completed so far.
func (p *PPM) Written() int {
	return p.written
}

// Consume writes f to the next file. A failed frame does not consume a
// file number.
func (p *PPM) Consume(f Frame) error {
	name := filepath.Join(p.dir, fmt.Sprintf(p.pattern, p.written))

	tmp, err := os.CreateTemp(p.dir, ".frame-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := EncodePPM(tmp, f); err != nil {
		tmp.Close()
		return fmt.Errorf("encode frame %d: %w", f.Sequence, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("rename frame: %w", err)
	}

	p.written++
	p.logger.Debug("Frame written", "path", name, "sequence", f.Sequence, "width", f.Width, "height", f.Height)
	return nil
}
