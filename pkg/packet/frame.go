// Package packet defines the framekit payload type and its wire framing.
//
// Every message on the wire is a frame:
//
//	+----------------------+-------------------------+
//	| length L (4 bytes)   | payload (L bytes)       |
//	+----------------------+-------------------------+
//
// The length is an unsigned 32-bit integer, big-endian unless the Codec is
// configured otherwise. The payload is opaque at this layer.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HeaderSize is the size of the length prefix.
const HeaderSize = 4

// DefaultMaxFrameSize bounds payload allocation for a single frame.
const DefaultMaxFrameSize = 16 << 20 // 16MB

// ErrFrameTooLarge is returned when a frame declares a length above the codec limit.
var ErrFrameTooLarge = errors.New("packet: frame exceeds maximum size")

// Codec reads and writes length-prefixed frames.
//
// The zero value is usable: big-endian, DefaultMaxFrameSize.
type Codec struct {
	// Order is the byte order of the length prefix. nil means big-endian.
	Order binary.ByteOrder

	// MaxFrameSize is the largest payload accepted. 0 means DefaultMaxFrameSize.
	MaxFrameSize uint32
}

// ParseByteOrder maps "big", "little" and "native" to a byte order.
// The empty string selects big-endian.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "big", "big-endian", "network":
		return binary.BigEndian, nil
	case "little", "little-endian":
		return binary.LittleEndian, nil
	case "native":
		return binary.NativeEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q (valid: big, little, native)", s)
	}
}

func (c Codec) order() binary.ByteOrder {
	if c.Order == nil {
		return binary.BigEndian
	}
	return c.Order
}

func (c Codec) maxFrameSize() uint32 {
	if c.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}

// ReadHeader reads the 4-byte length prefix.
//
// Returns io.EOF if the stream ended before any byte was read, which a
// receive loop treats as the peer closing cleanly. A header cut short returns
// io.ErrUnexpectedEOF together with the number of bytes read.
func (c Codec) ReadHeader(r io.Reader) (uint32, int, error) {
	var buf [HeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return c.order().Uint32(buf[:]), n, nil
}

// ReadPayload reads exactly length bytes into a newly allocated packet.
//
// On a short read the packet is released and io.ErrUnexpectedEOF (or the
// transport error) is returned with the number of bytes read.
func (c Codec) ReadPayload(r io.Reader, length uint32) (*Packet, int, error) {
	if length > c.maxFrameSize() {
		return nil, 0, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, c.maxFrameSize())
	}

	p := New(int(length))
	if length == 0 {
		return p, 0, nil
	}

	n, err := io.ReadFull(r, p.Bytes())
	if err != nil {
		p.Release()
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, n, err
	}
	return p, n, nil
}

// ReadFrame reads one complete frame.
//
// The returned count covers header and payload bytes transferred, including on
// failure. A partial frame never yields a packet.
func (c Codec) ReadFrame(r io.Reader) (*Packet, int, error) {
	length, hn, err := c.ReadHeader(r)
	if err != nil {
		return nil, hn, err
	}

	p, pn, err := c.ReadPayload(r, length)
	return p, hn + pn, err
}

// WriteFrame writes p as one frame and returns the bytes written.
//
// The header is always written, so an empty packet travels as a zero-length
// frame; the payload write is skipped when it is empty. On failure the count
// reflects what reached the writer.
func (c Codec) WriteFrame(w io.Writer, p *Packet) (int, error) {
	if uint64(p.Len()) > uint64(c.maxFrameSize()) {
		return 0, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, p.Len(), c.maxFrameSize())
	}

	var header [HeaderSize]byte
	c.order().PutUint32(header[:], uint32(p.Len()))

	n, err := writeFull(w, header[:])
	if err != nil {
		return n, err
	}
	if p.Len() == 0 {
		return n, nil
	}

	pn, err := writeFull(w, p.Bytes())
	return n + pn, err
}

// Encode returns the frame for p as a single byte slice.
func (c Codec) Encode(p *Packet) []byte {
	frame := make([]byte, HeaderSize+p.Len())
	c.order().PutUint32(frame[:HeaderSize], uint32(p.Len()))
	copy(frame[HeaderSize:], p.Bytes())
	return frame
}

// writeFull loops until b is fully written or the writer fails.
func writeFull(w io.Writer, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := w.Write(b[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
